// Package logx configures dutyrec's structured logging.
//
// Logger is a small wrapper over zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON, one event per line
//   - an optional chat sink forwards WARN+ events to operators, rate limited
package logx
