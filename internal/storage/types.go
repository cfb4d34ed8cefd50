package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot + journal files, no external dependencies
//   - "sqlite": SQLite database file
//   - "memory": process-local, lost on exit (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// HistorySize bounds RecentSessions for the file and memory drivers.
	HistorySize int
}

// SetOptions modifies Set.
type SetOptions struct {
	// OnlyIfAbsent leaves an existing value untouched.
	OnlyIfAbsent bool
}

// Swap is one key of a CompareAndSetAll: Key moves from Old to New.
type Swap struct {
	Key string
	Old string
	New string
}

// SessionRecord is one finished recording session. Keep it compact and
// schema-stable: the file driver stores it as JSON lines.
type SessionRecord struct {
	ID           string    `json:"id"`
	Duty         string    `json:"duty"`
	Window       string    `json:"window"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMS   int64     `json:"duration_ms"`
	State        string    `json:"state"`
	Identity     int       `json:"identity,omitempty"`
	ArtifactPath string    `json:"artifact_path"`
	Error        string    `json:"error,omitempty"`
}

// Store is the persistence API used by the ledger, sessions and status API.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes value and reports whether it was written (false only when
	// OnlyIfAbsent found an existing value).
	Set(ctx context.Context, key, value string, opt SetOptions) (bool, error)
	// CompareAndSet replaces the value of an existing key only if it still
	// equals old.
	CompareAndSet(ctx context.Context, key, old, value string) (bool, error)
	// CompareAndSetAll applies every swap or none: it writes only if each
	// key exists and still holds its Old value.
	CompareAndSetAll(ctx context.Context, swaps ...Swap) (bool, error)

	AppendSession(ctx context.Context, r SessionRecord) error
	// RecentSessions returns up to limit records, newest first.
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)

	Close() error
}

const defaultHistorySize = 200
