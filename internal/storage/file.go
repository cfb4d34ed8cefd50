package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "dutyrec/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.snapshot.json  (periodic snapshot)
//   - <prefix>.kv.journal.jsonl  (append-only journal)
//   - <prefix>.sessions.jsonl    (append-only JSON Lines)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	sessionsFile *os.File
	history      *ring

	kvSnapshotPath string
	kvJournalFile  *os.File
	kv             map[string]string

	kvWrites     int
	compactEvery int
}

// kvRecord is one journal line. A multi-key write is a single line with
// Batch set, so a torn tail drops the whole batch.
type kvRecord struct {
	Key   string     `json:"k,omitempty"`
	Value string     `json:"v,omitempty"`
	Batch []kvRecord `json:"b,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sessionsPath := prefix + ".sessions.jsonl"
	snapPath := prefix + ".kv.snapshot.json"
	journalPath := prefix + ".kv.journal.jsonl"

	history := newRing(cfg.HistorySize)
	if err := loadSessions(sessionsPath, history); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("session history unreadable", logx.String("path", sessionsPath), logx.Err(err))
	}

	sf, err := os.OpenFile(sessionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	kv := map[string]string{}
	if err := loadKVSnapshot(snapPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = sf.Close()
		return nil, err
	}
	if err := replayKVJournal(journalPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = sf.Close()
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = sf.Close()
		return nil, err
	}
	if err := terminateTornTail(jf); err != nil {
		_ = sf.Close()
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:            log,
		sessionsFile:   sf,
		history:        history,
		kvSnapshotPath: snapPath,
		kvJournalFile:  jf,
		kv:             kv,
		compactEvery:   1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.sessionsFile != nil {
		err1 = s.sessionsFile.Close()
		s.sessionsFile = nil
	}
	if s.kvJournalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("kv compact on close failed", logx.Err(err))
		}
		err2 = s.kvJournalFile.Close()
		s.kvJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kvJournalFile == nil {
		return "", false, ErrClosed
	}
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *fileStore) Set(ctx context.Context, key, value string, opt SetOptions) (bool, error) {
	_ = ctx
	if strings.TrimSpace(key) == "" {
		return false, errors.New("empty key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kvJournalFile == nil {
		return false, ErrClosed
	}
	if _, exists := s.kv[key]; exists && opt.OnlyIfAbsent {
		return false, nil
	}
	if err := s.putLocked(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) CompareAndSet(ctx context.Context, key, old, value string) (bool, error) {
	return s.CompareAndSetAll(ctx, Swap{Key: key, Old: old, New: value})
}

func (s *fileStore) CompareAndSetAll(ctx context.Context, swaps ...Swap) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kvJournalFile == nil {
		return false, ErrClosed
	}
	if !matchAll(s.kv, swaps) {
		return false, nil
	}
	batch := make([]kvRecord, 0, len(swaps))
	for _, sw := range swaps {
		batch = append(batch, kvRecord{Key: sw.Key, Value: sw.New})
	}
	if err := s.writeLocked(batch...); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) putLocked(key, value string) error {
	return s.writeLocked(kvRecord{Key: key, Value: value})
}

// writeLocked journals first so a failed write leaves memory untouched.
func (s *fileStore) writeLocked(recs ...kvRecord) error {
	line := kvRecord{Batch: recs}
	if len(recs) == 1 {
		line = recs[0]
	}
	if err := json.NewEncoder(s.kvJournalFile).Encode(line); err != nil {
		return err
	}
	for _, r := range recs {
		s.kv[r.Key] = r.Value
	}
	s.kvWrites++
	if s.compactEvery > 0 && s.kvWrites%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("kv compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendSession(ctx context.Context, r SessionRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionsFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.sessionsFile).Encode(r); err != nil {
		return err
	}
	s.history.push(r)
	return nil
}

func (s *fileStore) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionsFile == nil {
		return nil, ErrClosed
	}
	return s.history.newest(limit), nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.kvSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.kv); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.kvSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.kvJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.kvJournalFile.Seek(0, 2)
	return err
}

// terminateTornTail ends a journal whose last line was cut short, so the
// next record starts on a fresh line.
func terminateTornTail(f *os.File) error {
	fi, err := f.Stat()
	if err != nil || fi.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func loadKVSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayKVJournal(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r kvRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			// Torn tail after a crash.
			continue
		}
		for _, b := range r.Batch {
			if b.Key != "" {
				out[b.Key] = b.Value
			}
		}
		if r.Key != "" {
			out[r.Key] = r.Value
		}
	}
	return s.Err()
}

func loadSessions(path string, h *ring) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for s.Scan() {
		var r SessionRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		h.push(r)
	}
	return s.Err()
}
