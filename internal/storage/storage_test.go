package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "dutyrec/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name), HistorySize: 5}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", driver, err)
			}
			return st
		}
	}
	return map[string]func() Store{
		"memory": func() Store { return NewMemory(5) },
		"file":   open("file", "state.json"),
		"sqlite": open("sqlite", "state.db"),
	}
}

func TestStoreKV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, open := range openDrivers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()

			if _, ok, err := st.Get(ctx, "current"); err != nil || ok {
				t.Fatalf("Get on empty store = ok:%v err:%v", ok, err)
			}
			wrote, err := st.Set(ctx, "current", "1", SetOptions{OnlyIfAbsent: true})
			if err != nil || !wrote {
				t.Fatalf("first set-if-absent = %v, %v", wrote, err)
			}
			wrote, err = st.Set(ctx, "current", "9", SetOptions{OnlyIfAbsent: true})
			if err != nil || wrote {
				t.Fatalf("second set-if-absent = %v, %v", wrote, err)
			}
			if v, _, _ := st.Get(ctx, "current"); v != "1" {
				t.Fatalf("value = %q, want 1", v)
			}

			ok, err := st.CompareAndSet(ctx, "current", "2", "3")
			if err != nil || ok {
				t.Fatalf("CAS with stale old = %v, %v", ok, err)
			}
			ok, err = st.CompareAndSet(ctx, "current", "1", "2")
			if err != nil || !ok {
				t.Fatalf("CAS = %v, %v", ok, err)
			}
			if ok, _ := st.CompareAndSet(ctx, "missing", "", "x"); ok {
				t.Fatal("CAS on missing key must fail")
			}
			if _, err := st.Set(ctx, "current", "5", SetOptions{}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if v, _, _ := st.Get(ctx, "current"); v != "5" {
				t.Fatalf("value = %q, want 5", v)
			}
		})
	}
}

func TestStoreSessionsNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2025, 3, 5, 6, 0, 0, 0, time.UTC)
	for name, open := range openDrivers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			for i := 0; i < 7; i++ {
				r := SessionRecord{
					ID:        fmt.Sprintf("s%d", i),
					Duty:      "A",
					Window:    "6-0..7-0",
					StartedAt: base.Add(time.Duration(i) * time.Hour),
					EndedAt:   base.Add(time.Duration(i)*time.Hour + time.Minute),
					State:     "Done",
				}
				if err := st.AppendSession(ctx, r); err != nil {
					t.Fatalf("AppendSession: %v", err)
				}
			}
			got, err := st.RecentSessions(ctx, 3)
			if err != nil {
				t.Fatalf("RecentSessions: %v", err)
			}
			if len(got) != 3 || got[0].ID != "s6" || got[2].ID != "s4" {
				t.Fatalf("RecentSessions = %+v", got)
			}
			if !got[0].StartedAt.Equal(base.Add(6 * time.Hour)) {
				t.Fatalf("StartedAt = %v", got[0].StartedAt)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Set(ctx, "perProjectQuota", "4", SetOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendSession(ctx, SessionRecord{ID: "x", Duty: "A", State: "Done"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if v, ok, _ := st.Get(ctx, "perProjectQuota"); !ok || v != "4" {
		t.Fatalf("reopened value = %q ok=%v", v, ok)
	}
	rs, _ := st.RecentSessions(ctx, 0)
	if len(rs) != 1 || rs[0].ID != "x" {
		t.Fatalf("reopened history = %+v", rs)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestClosedMemoryStore(t *testing.T) {
	t.Parallel()
	st := NewMemory(0)
	_ = st.Close()
	if _, _, err := st.Get(context.Background(), "k"); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestStoreCompareAndSetAllIsAllOrNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, open := range openDrivers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			st := open()
			defer st.Close()
			for k, v := range map[string]string{"current": "1", "perProjectQuota": "6"} {
				if _, err := st.Set(ctx, k, v, SetOptions{}); err != nil {
					t.Fatal(err)
				}
			}

			ok, err := st.CompareAndSetAll(ctx,
				Swap{Key: "current", Old: "1", New: "2"},
				Swap{Key: "perProjectQuota", Old: "5", New: "1"},
			)
			if err != nil || ok {
				t.Fatalf("stale second swap = %v, %v", ok, err)
			}
			if v, _, _ := st.Get(ctx, "current"); v != "1" {
				t.Fatalf("current = %q after a failed pair, want 1", v)
			}

			ok, err = st.CompareAndSetAll(ctx,
				Swap{Key: "current", Old: "1", New: "2"},
				Swap{Key: "perProjectQuota", Old: "6", New: "1"},
			)
			if err != nil || !ok {
				t.Fatalf("CompareAndSetAll = %v, %v", ok, err)
			}
			cur, _, _ := st.Get(ctx, "current")
			use, _, _ := st.Get(ctx, "perProjectQuota")
			if cur != "2" || use != "1" {
				t.Fatalf("pair = (%s, %s), want (2, 1)", cur, use)
			}
		})
	}
}

func TestFileJournalDropsTornBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "state.json")}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range map[string]string{"current": "1", "perProjectQuota": "6"} {
		if _, err := st.Set(ctx, k, v, SetOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	fs := st.(*fileStore)
	// Crash halfway through a batch line: no compaction, files just close.
	if _, err := fs.kvJournalFile.WriteString(`{"b":[{"k":"current","v":"2"},{"k":"perProj`); err != nil {
		t.Fatal(err)
	}
	_ = fs.kvJournalFile.Close()
	_ = fs.sessionsFile.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	cur, _, _ := st.Get(ctx, "current")
	use, _, _ := st.Get(ctx, "perProjectQuota")
	if cur != "1" || use != "6" {
		t.Fatalf("pair after torn batch = (%s, %s), want (1, 6)", cur, use)
	}

	// A write after the torn tail must survive the next reopen.
	if ok, err := st.CompareAndSetAll(ctx, Swap{Key: "current", Old: "1", New: "3"}); err != nil || !ok {
		t.Fatalf("CompareAndSetAll = %v, %v", ok, err)
	}
	fs = st.(*fileStore)
	_ = fs.kvJournalFile.Close()
	_ = fs.sessionsFile.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if v, _, _ := st.Get(ctx, "current"); v != "3" {
		t.Fatalf("current = %q after reopen, want 3", v)
	}
}
