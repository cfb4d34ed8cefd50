// Package storage is the recorder's persistence layer.
//
// It holds:
//   - small string key/value state that must survive restarts (the upload
//     quota ledger), with set-if-absent and compare-and-set
//   - an append-only history of finished recording sessions
package storage
