package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type memoryStore struct {
	mu      sync.Mutex
	kv      map[string]string
	history *ring
	closed  bool
}

// NewMemory returns a process-local Store.
func NewMemory(historySize int) Store {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &memoryStore{kv: map[string]string{}, history: newRing(historySize)}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, opt SetOptions) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errors.New("empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, exists := s.kv[key]; exists && opt.OnlyIfAbsent {
		return false, nil
	}
	s.kv[key] = value
	return true, nil
}

func (s *memoryStore) CompareAndSet(ctx context.Context, key, old, value string) (bool, error) {
	return s.CompareAndSetAll(ctx, Swap{Key: key, Old: old, New: value})
}

func (s *memoryStore) CompareAndSetAll(_ context.Context, swaps ...Swap) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if !matchAll(s.kv, swaps) {
		return false, nil
	}
	for _, sw := range swaps {
		s.kv[sw.Key] = sw.New
	}
	return true, nil
}

func matchAll(kv map[string]string, swaps []Swap) bool {
	for _, sw := range swaps {
		if cur, ok := kv[sw.Key]; !ok || cur != sw.Old {
			return false
		}
	}
	return true
}

func (s *memoryStore) AppendSession(_ context.Context, r SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.history.push(r)
	return nil
}

func (s *memoryStore) RecentSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.history.newest(limit), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ring keeps the last N session records. Not safe for concurrent use.
type ring struct {
	buf  []SessionRecord
	next int
	full bool
}

func newRing(n int) *ring {
	if n <= 0 {
		n = defaultHistorySize
	}
	return &ring{buf: make([]SessionRecord, n)}
}

func (r *ring) push(v SessionRecord) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// newest returns up to limit records, newest first. limit <= 0 means all.
func (r *ring) newest(limit int) []SessionRecord {
	n := r.len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]SessionRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
