// Package api serves the read-only status endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"dutyrec/internal/quota"
	"dutyrec/internal/roster"
	"dutyrec/internal/scheduler"
	"dutyrec/internal/session"
	"dutyrec/internal/storage"
	logx "dutyrec/pkg/logx"
)

type RosterSource interface {
	Current() *roster.Roster
}

type LedgerReader interface {
	Snapshot(ctx context.Context) (quota.State, error)
}

type TriggerLister interface {
	Snapshot() scheduler.Snapshot
}

type SessionLister interface {
	Active() int
	ActiveSessions() []session.Info
}

type HistoryReader interface {
	RecentSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
}

// Deps are the views the endpoint reads. Any of them may be nil; the
// matching route then answers 503.
type Deps struct {
	Roster   RosterSource
	Ledger   LedgerReader
	Triggers TriggerLister
	Sessions SessionLister
	History  HistoryReader
	Metrics  *Metrics
	Log      logx.Logger
	// Pprof mounts the runtime profiler under /debug/pprof/.
	Pprof bool
}

const defaultHistoryLimit = 50

// NewRouter builds the route table. Handlers never write to any store.
func NewRouter(d Deps) *mux.Router {
	h := &handlers{d: d}
	r := mux.NewRouter()
	if d.Metrics != nil {
		r.Use(d.Metrics.instrument)
	}

	r.HandleFunc("/", h.roster).Methods(http.MethodGet)
	r.HandleFunc("/currentproject", h.currentProject).Methods(http.MethodGet)
	r.HandleFunc("/google/callback", h.oauthCallback).Methods(http.MethodGet)
	r.HandleFunc("/triggers", h.triggers).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.sessions).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	if d.Pprof {
		p := r.PathPrefix("/debug/pprof").Subrouter()
		p.HandleFunc("/cmdline", pprof.Cmdline)
		p.HandleFunc("/profile", pprof.Profile)
		p.HandleFunc("/symbol", pprof.Symbol)
		p.HandleFunc("/trace", pprof.Trace)
		p.PathPrefix("/").HandlerFunc(pprof.Index)
	}
	return r
}

type handlers struct{ d Deps }

func (h *handlers) roster(w http.ResponseWriter, r *http.Request) {
	if h.d.Roster == nil {
		unavailable(w, "roster")
		return
	}
	writeJSON(w, http.StatusOK, h.d.Roster.Current())
}

// currentProject keeps the ledger's stored string form on the wire.
func (h *handlers) currentProject(w http.ResponseWriter, r *http.Request) {
	if h.d.Ledger == nil {
		unavailable(w, "ledger")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	st, err := h.d.Ledger.Snapshot(ctx)
	if err != nil {
		h.d.Log.Warn("ledger read failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "ledger read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		quota.KeyCurrent: strconv.Itoa(st.Identity),
		quota.KeyUsage:   strconv.Itoa(st.Usage),
	})
}

// oauthCallback echoes the query so an operator can copy an authorization
// code into the identity credentials.
func (h *handlers) oauthCallback(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			out[k] = vs[0]
		} else {
			out[k] = vs
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) triggers(w http.ResponseWriter, r *http.Request) {
	if h.d.Triggers == nil {
		unavailable(w, "scheduler")
		return
	}
	writeJSON(w, http.StatusOK, h.d.Triggers.Snapshot())
}

type sessionsResponse struct {
	Active []session.Info          `json:"active"`
	Recent []storage.SessionRecord `json:"recent"`
}

func (h *handlers) sessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	resp := sessionsResponse{Active: []session.Info{}, Recent: []storage.SessionRecord{}}
	if h.d.Sessions != nil {
		resp.Active = append(resp.Active, h.d.Sessions.ActiveSessions()...)
	}
	if h.d.History != nil {
		recs, err := h.d.History.RecentSessions(r.Context(), limit)
		if err != nil {
			h.d.Log.Warn("session history read failed", logx.Err(err))
			writeError(w, http.StatusInternalServerError, "history read failed")
			return
		}
		resp.Recent = append(resp.Recent, recs...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.d.Sessions != nil {
		body["active_sessions"] = h.d.Sessions.Active()
	}
	if h.d.Triggers != nil {
		snap := h.d.Triggers.Snapshot()
		body["scheduler_running"] = snap.Running
		body["armed_triggers"] = len(snap.Triggers)
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not available")
}
