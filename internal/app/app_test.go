package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dutyrec/internal/capture"
	"dutyrec/internal/roster"
	"dutyrec/internal/schedule"
	"dutyrec/internal/session"
)

type stubProvider struct {
	mu  sync.Mutex
	r   *roster.Roster
	err error
}

func (p *stubProvider) Load(context.Context) (*roster.Roster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r, p.err
}

func (p *stubProvider) set(r *roster.Roster, err error) {
	p.mu.Lock()
	p.r, p.err = r, err
	p.mu.Unlock()
}

type blockingCapture struct {
	done chan error
	once sync.Once
}

func (c *blockingCapture) Done() <-chan error { return c.done }
func (c *blockingCapture) Stop() error {
	c.once.Do(func() { c.done <- nil })
	return nil
}

type blockingCapturer struct{}

func (blockingCapturer) Start(context.Context, capture.Request) (capture.Capture, error) {
	return &blockingCapture{done: make(chan error, 1)}, nil
}

type panickingCapturer struct{}

func (panickingCapturer) Start(context.Context, capture.Request) (capture.Capture, error) {
	panic("capturer blew up")
}

func writeConfig(t *testing.T, workDir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`{
  "logging": {"level": "error"},
  "scheduler": {"timezone": "UTC"},
  "roster": {"path": %q, "refresh_schedule": "off"},
  "session": {
    "work_dir": %q,
    "stream_url": "http://stream.invalid/live",
    "day_asset": "day.gif",
    "night_asset": "night.gif",
    "settle_delay": "0s",
    "stop_grace": "1s"
  },
  "upload": {"driver": "exec", "exec": {"command": ["true"]}},
  "storage": {"driver": "memory"},
  "api": {"addr": "127.0.0.1:0"}
}`, filepath.Join(workDir, "roster.json"), workDir)
	path := filepath.Join(t.TempDir(), "dutyrec.json")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startApp(t *testing.T, prov *stubProvider) (*App, string) {
	t.Helper()
	work := t.TempDir()
	a, err := New(writeConfig(t, work), WithProvider(prov), WithCapturer(blockingCapturer{}), WithoutSystemd())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, work
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func sampleRoster() *roster.Roster {
	return roster.New().
		Add("5/3", roster.Entry{Duty: "A", From: "6-0", To: "7-30"}).
		Add("6/3", roster.Entry{Duty: "bad", From: "x-0", To: "7-0"})
}

func TestStartSweepsThenArms(t *testing.T) {
	prov := &stubProvider{r: sampleRoster()}
	a, work := startApp(t, prov)
	for _, n := range []string{"a.mp4", "b.MP4", "keep.json"} {
		touch(t, filepath.Join(work, n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	entries, _ := os.ReadDir(work)
	if len(entries) != 1 || entries[0].Name() != "keep.json" {
		t.Fatalf("work dir after sweep = %v", entries)
	}
	if a.Current() == nil {
		t.Fatal("roster not stored")
	}
	snap := a.Scheduler().Snapshot()
	if len(snap.Triggers) != 1 || snap.Triggers[0].Duty != "A" {
		t.Fatalf("armed = %+v", snap.Triggers)
	}

	resp, err := http.Get("http://" + a.APIAddr() + "/currentproject")
	if err != nil {
		t.Fatalf("GET /currentproject: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if got["current"] != "1" || got["perProjectQuota"] != "0" {
		t.Fatalf("ledger = %v", got)
	}
}

func TestReloadRosterKeepsPreviousOnFailure(t *testing.T) {
	prov := &stubProvider{r: sampleRoster()}
	a, _ := startApp(t, prov)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer stopApp(t, a)

	before := a.Current()
	prov.set(nil, errors.New("upstream down"))
	if err := a.ReloadRoster(ctx); err == nil {
		t.Fatal("expected reload error")
	}
	if a.Current() != before {
		t.Fatal("failed reload replaced the roster")
	}
	if n := len(a.Scheduler().Snapshot().Triggers); n != 1 {
		t.Fatalf("armed after failed reload = %d", n)
	}

	prov.set(roster.New().
		Add("1/1", roster.Entry{Duty: "X", From: "4-0", To: "5-0"}).
		Add("2/1", roster.Entry{Duty: "Y", From: "4-0", To: "till completion"}), nil)
	if err := a.ReloadRoster(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := len(a.Scheduler().Snapshot().Triggers); n != 2 {
		t.Fatalf("armed after reload = %d", n)
	}
}

func TestSweepJobSkipsWhileSessionActive(t *testing.T) {
	prov := &stubProvider{r: roster.New()}
	a, work := startApp(t, prov)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer stopApp(t, a)

	w, _ := roster.ParseWindow("6-0", "till completion")
	s, err := a.Runner().Start(ctx, "A", w)
	if err != nil {
		t.Fatal(err)
	}
	orphan := filepath.Join(work, "orphan.mp4")
	touch(t, orphan)

	if err := a.sweepJob(ctx); err != nil {
		t.Fatalf("sweepJob: %v", err)
	}
	if _, err := os.Stat(orphan); err != nil {
		t.Fatal("sweep ran while a session was active")
	}

	s.Stop()
	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	if err := s.Wait(wctx); err != nil {
		t.Fatalf("session did not end: %v", err)
	}
	if err := a.sweepJob(ctx); err != nil {
		t.Fatalf("sweepJob: %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan survived sweep: %v", err)
	}
}

func TestPanickingFiringKeepsAppRunning(t *testing.T) {
	work := t.TempDir()
	a, err := New(writeConfig(t, work), WithProvider(&stubProvider{r: roster.New()}), WithCapturer(panickingCapturer{}), WithoutSystemd())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer stopApp(t, a)

	w, _ := roster.ParseWindow("6-0", "7-0")
	trig := schedule.Trigger{ID: "5/3#0:A", Duty: "A", Pattern: "0 6 5 3 *", Window: w}
	fired := make(chan struct{})
	a.work.Go0("trigger:"+trig.ID, func(c context.Context) {
		defer close(fired)
		a.fire(c, trig)
	})
	<-fired
	// A panic that escapes a firing entirely is contained too.
	a.work.Go0("trigger:raw", func(context.Context) { panic("firing blew up") })

	select {
	case <-a.Done():
		t.Fatalf("app stopped after a panicking firing: %v", a.Err())
	case <-time.After(100 * time.Millisecond):
	}
	if a.Err() != nil {
		t.Fatalf("app error = %v", a.Err())
	}
	if n := a.Runner().Active(); n != 0 {
		t.Fatalf("active sessions = %d", n)
	}

	// The runner keeps accepting firings afterwards.
	s, err := a.Runner().Start(ctx, "B", w)
	if err == nil {
		t.Fatal("expected start error from the panicking capturer")
	}
	if s.State() != session.Failed {
		t.Fatalf("state = %s, want Failed", s.State())
	}
}
