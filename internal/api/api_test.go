package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dutyrec/internal/eventbus"
	"dutyrec/internal/quota"
	"dutyrec/internal/roster"
	"dutyrec/internal/scheduler"
	"dutyrec/internal/session"
	"dutyrec/internal/storage"
	logx "dutyrec/pkg/logx"
)

type fixedRoster struct{ r *roster.Roster }

func (f fixedRoster) Current() *roster.Roster { return f.r }

type panicRoster struct{}

func (panicRoster) Current() *roster.Roster { panic("boom") }

type fixedLedger struct {
	st  quota.State
	err error
}

func (f fixedLedger) Snapshot(context.Context) (quota.State, error) { return f.st, f.err }

type fixedTriggers struct{ snap scheduler.Snapshot }

func (f fixedTriggers) Snapshot() scheduler.Snapshot { return f.snap }

type fixedSessions struct{ infos []session.Info }

func (f fixedSessions) Active() int                    { return len(f.infos) }
func (f fixedSessions) ActiveSessions() []session.Info { return f.infos }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestRosterVerbatim(t *testing.T) {
	t.Parallel()
	r := roster.New().
		Add("5/3", roster.Entry{Duty: "A", From: "6-0", To: "7-30"}).
		Add("1/1", roster.Entry{Duty: "B", From: "20-0", To: "till completion"})
	h := NewRouter(Deps{Roster: fixedRoster{r}})

	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := strings.TrimSpace(rec.Body.String())
	if !strings.HasPrefix(body, `{"5/3":`) || strings.Index(body, `"5/3"`) > strings.Index(body, `"1/1"`) {
		t.Fatalf("roster order lost: %s", body)
	}
}

func TestCurrentProject(t *testing.T) {
	t.Parallel()
	h := NewRouter(Deps{Ledger: fixedLedger{st: quota.State{Identity: 2, Usage: 5}}})
	rec := get(t, h, "/currentproject")
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if got["current"] != "2" || got["perProjectQuota"] != "5" {
		t.Fatalf("body = %v", got)
	}

	failing := NewRouter(Deps{Ledger: fixedLedger{err: errors.New("store down")}})
	if rec := get(t, failing, "/currentproject"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestOAuthCallbackEchoesQuery(t *testing.T) {
	t.Parallel()
	h := NewRouter(Deps{})
	rec := get(t, h, "/google/callback?code=abc&scope=x&scope=y")
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["code"] != "abc" {
		t.Fatalf("code = %v", got["code"])
	}
	if scopes, ok := got["scope"].([]any); !ok || len(scopes) != 2 {
		t.Fatalf("scope = %v", got["scope"])
	}
}

func TestSessionsAndTriggers(t *testing.T) {
	t.Parallel()
	hist := storage.NewMemory(10)
	for _, id := range []string{"s1", "s2", "s3"} {
		if err := hist.AppendSession(context.Background(), storage.SessionRecord{ID: id, State: "Done"}); err != nil {
			t.Fatal(err)
		}
	}
	h := NewRouter(Deps{
		History:  hist,
		Sessions: fixedSessions{infos: []session.Info{{ID: "live", State: session.Capturing}}},
		Triggers: fixedTriggers{snap: scheduler.Snapshot{Running: true, Mode: "cron", Triggers: []scheduler.TriggerInfo{{ID: "t1"}}}},
	})

	rec := get(t, h, "/sessions?limit=2")
	var resp sessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Active) != 1 || len(resp.Recent) != 2 || resp.Recent[0].ID != "s3" {
		t.Fatalf("sessions = %+v", resp)
	}
	if rec := get(t, h, "/sessions?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	rec = get(t, h, "/triggers")
	var snap scheduler.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.Running || len(snap.Triggers) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec = get(t, h, "/health")
	if !strings.Contains(rec.Body.String(), `"active_sessions":1`) {
		t.Fatalf("health = %s", rec.Body.String())
	}
}

func TestMissingDepsAnswerUnavailable(t *testing.T) {
	t.Parallel()
	h := NewRouter(Deps{})
	for _, p := range []string{"/", "/currentproject", "/triggers"} {
		if rec := get(t, h, p); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", p, rec.Code)
		}
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without metrics = %d", rec.Code)
	}
}

func TestMetricsFromEvents(t *testing.T) {
	t.Parallel()
	sessions := fixedSessions{infos: []session.Info{{ID: "a"}}}
	m := NewMetrics(sessions, fixedLedger{st: quota.State{Identity: 3, Usage: 4}})
	m.Observe(eventbus.Event{Type: eventbus.TypeSessionState, Data: session.Info{State: session.Done, EndedAt: time.Now(), Duration: time.Hour}})
	m.Observe(eventbus.Event{Type: eventbus.TypeSessionState, Data: session.Info{State: session.Capturing}})
	m.Observe(eventbus.Event{Type: eventbus.TypeUploadFailed, Data: session.Info{Identity: 2}})
	m.Observe(eventbus.Event{Type: eventbus.TypeTriggersArmed, Data: map[string]any{"count": 12}})
	m.Observe(eventbus.Event{Type: eventbus.TypeSweepDone, Data: map[string]any{"removed": 3}})

	h := NewRouter(Deps{Metrics: m, Sessions: sessions})
	_ = get(t, h, "/health")
	body := get(t, h, "/metrics").Body.String()
	for _, want := range []string{
		`dutyrec_sessions_total{state="Done"} 1`,
		`dutyrec_uploads_total{identity="2",result="error"} 1`,
		`dutyrec_triggers_armed 12`,
		`dutyrec_sweep_removed_total 3`,
		`dutyrec_sessions_active 1`,
		`dutyrec_ledger_identity 3`,
		`dutyrec_ledger_usage 4`,
		`dutyrec_http_requests_total{route="/health",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if strings.Contains(body, `state="Capturing"`) {
		t.Error("non-terminal session counted")
	}
}

func TestServerLifecycleAndRecovery(t *testing.T) {
	t.Parallel()
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, NewRouter(Deps{Roster: panicRoster{}}), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("panicking handler status = %d, want 500", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.Get(base + "/health"); err == nil {
		t.Fatal("server still serving after Stop")
	}
}
