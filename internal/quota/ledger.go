// Package quota rotates uploads across a fixed pool of credential
// identities so no single identity exceeds its daily upload allowance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"dutyrec/internal/storage"
)

const (
	KeyCurrent = "current"
	KeyUsage   = "perProjectQuota"

	DefaultCap      = 7
	DefaultPoolSize = 3
)

// ErrContention means another writer changed the ledger between read and
// write. The caller should treat the session's upload as failed.
var ErrContention = errors.New("quota ledger contention")

// Config bounds the rotation.
type Config struct {
	Cap      int // uploads per identity before rotating
	PoolSize int // identities are numbered 1..PoolSize
}

// State is a read-through view of the ledger.
type State struct {
	Identity int `json:"current"`
	Usage    int `json:"perProjectQuota"`
	Cap      int `json:"cap"`
	PoolSize int `json:"pool_size"`
}

// Ledger is the persisted (identity, usage) pair.
type Ledger struct {
	mu    sync.Mutex
	store storage.Store
	cfg   Config
}

// Open initialises missing keys (identity 1, usage 0) without touching
// existing values.
func Open(ctx context.Context, st storage.Store, cfg Config) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("quota: nil store")
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if _, err := st.Set(ctx, KeyCurrent, "1", storage.SetOptions{OnlyIfAbsent: true}); err != nil {
		return nil, fmt.Errorf("init %s: %w", KeyCurrent, err)
	}
	if _, err := st.Set(ctx, KeyUsage, "0", storage.SetOptions{OnlyIfAbsent: true}); err != nil {
		return nil, fmt.Errorf("init %s: %w", KeyUsage, err)
	}
	return &Ledger{store: st, cfg: cfg}, nil
}

// AdvanceAndSelect records one upload and returns the identity that must
// carry it. Usage counts up to Cap; reaching Cap moves to the next identity
// (wrapping past PoolSize to 1) with usage reset to 1.
func (l *Ledger) AdvanceAndSelect(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	curRaw, cur, err := l.read(ctx, KeyCurrent)
	if err != nil {
		return 0, err
	}
	useRaw, usage, err := l.read(ctx, KeyUsage)
	if err != nil {
		return 0, err
	}

	usage++
	if usage >= l.cfg.Cap {
		cur++
		usage = 1
	}
	if cur > l.cfg.PoolSize || cur < 1 {
		cur = 1
	}

	ok, err := l.store.CompareAndSetAll(ctx,
		storage.Swap{Key: KeyCurrent, Old: curRaw, New: strconv.Itoa(cur)},
		storage.Swap{Key: KeyUsage, Old: useRaw, New: strconv.Itoa(usage)},
	)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrContention
	}
	return cur, nil
}

// Snapshot reads the current values without advancing.
func (l *Ledger) Snapshot(ctx context.Context) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, cur, err := l.read(ctx, KeyCurrent)
	if err != nil {
		return State{}, err
	}
	_, usage, err := l.read(ctx, KeyUsage)
	if err != nil {
		return State{}, err
	}
	return State{Identity: cur, Usage: usage, Cap: l.cfg.Cap, PoolSize: l.cfg.PoolSize}, nil
}

func (l *Ledger) read(ctx context.Context, key string) (string, int, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return "", 0, fmt.Errorf("read %s: key missing", key)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", key, err)
	}
	return raw, n, nil
}
