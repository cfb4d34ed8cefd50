package storage

import (
	"errors"
	"strings"

	logx "dutyrec/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, ErrDisabled) if storage is disabled: the recorder cannot
// run its quota ledger without one.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(cfg.HistorySize), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
