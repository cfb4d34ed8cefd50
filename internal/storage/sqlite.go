package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "dutyrec/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
	keep       int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	keep := cfg.HistorySize * 10
	st := &sqliteStore{db: db, log: log, pruneEvery: 100, keep: keep}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string, opt SetOptions) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if strings.TrimSpace(key) == "" {
		return false, errors.New("empty key")
	}
	q := `INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`
	if opt.OnlyIfAbsent {
		q = `INSERT INTO kv(key, value, updated_at) VALUES(?,?,?) ON CONFLICT(key) DO NOTHING`
	}
	res, err := s.db.ExecContext(ctx, q, key, value, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) CompareAndSet(ctx context.Context, key, old, value string) (bool, error) {
	return s.CompareAndSetAll(ctx, Swap{Key: key, Old: old, New: value})
}

func (s *sqliteStore) CompareAndSetAll(ctx context.Context, swaps ...Swap) (ok bool, err error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if !ok || err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UnixMilli()
	for _, sw := range swaps {
		res, err := tx.ExecContext(ctx,
			`UPDATE kv SET value = ?, updated_at = ? WHERE key = ? AND value = ?`,
			sw.New, now, sw.Key, sw.Old,
		)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n != 1 {
			return false, nil
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) AppendSession(ctx context.Context, r SessionRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, duty, time_window, started_at, ended_at, duration_ms, state, identity, artifact_path, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Duty, r.Window, r.StartedAt.Format(time.RFC3339Nano), r.EndedAt.Format(time.RFC3339Nano),
		r.DurationMS, r.State, r.Identity, r.ArtifactPath, nullStr(r.Error),
	)
	if err == nil && s.keep > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneHistory(pctx); perr != nil {
			s.log.Debug("session history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = defaultHistorySize
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, duty, time_window, started_at, ended_at, duration_ms, state, identity, artifact_path, err
		 FROM sessions ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r              SessionRecord
			started, ended string
			errText        sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Duty, &r.Window, &started, &ended, &r.DurationMS, &r.State, &r.Identity, &r.ArtifactPath, &errText); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE seq <= (SELECT MAX(seq) FROM sessions) - ?`, s.keep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
