package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dutyrec/internal/eventbus"
	"dutyrec/internal/session"
)

// Metrics are fed from the event bus, so recording code never touches
// Prometheus directly.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessions        *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	triggersArmed   prometheus.Gauge
	triggersFired   prometheus.Counter
	rosterRejected  prometheus.Counter
	rosterLoaded    prometheus.Counter
	sweepRemoved    prometheus.Counter
	sessionDuration prometheus.Histogram
}

// NewMetrics registers on a private registry. active and ledger are
// sampled at scrape time; either may be nil.
func NewMetrics(active SessionLister, ledger LedgerReader) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dutyrec_http_requests_total",
			Help: "Status endpoint requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dutyrec_http_request_duration_seconds",
			Help:    "Status endpoint request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dutyrec_sessions_total",
			Help: "Recording sessions that reached a terminal state.",
		}, []string{"state"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dutyrec_uploads_total",
			Help: "Upload attempts by identity and result.",
		}, []string{"identity", "result"}),
		triggersArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dutyrec_triggers_armed",
			Help: "Roster triggers currently armed.",
		}),
		triggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dutyrec_triggers_fired_total",
			Help: "Trigger firings dispatched to the session runner.",
		}),
		rosterRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dutyrec_roster_rejected_total",
			Help: "Roster loads rejected; the previous roster stayed armed.",
		}),
		rosterLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dutyrec_roster_loaded_total",
			Help: "Roster loads that were compiled and armed.",
		}),
		sweepRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dutyrec_sweep_removed_total",
			Help: "Orphaned artifacts removed by housekeeping.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dutyrec_session_capture_seconds",
			Help:    "Planned capture duration of finished sessions.",
			Buckets: []float64{600, 1800, 3600, 5400, 7200, 10800},
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.sessions,
		m.uploads,
		m.triggersArmed,
		m.triggersFired,
		m.rosterRejected,
		m.rosterLoaded,
		m.sweepRemoved,
		m.sessionDuration,
	)
	if active != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dutyrec_sessions_active",
			Help: "Sessions not yet in a terminal state.",
		}, func() float64 { return float64(active.Active()) }))
	}
	if ledger != nil {
		sample := func(pick func(identity, usage int) int) func() float64 {
			return func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				st, err := ledger.Snapshot(ctx)
				if err != nil {
					return -1
				}
				return float64(pick(st.Identity, st.Usage))
			}
		}
		m.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "dutyrec_ledger_identity",
				Help: "Upload identity the ledger last selected.",
			}, sample(func(id, _ int) int { return id })),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "dutyrec_ledger_usage",
				Help: "Uploads charged to the current identity.",
			}, sample(func(_, usage int) int { return usage })),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	events, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Observe applies one event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeSessionState:
		info, ok := e.Data.(session.Info)
		if !ok || !info.State.Terminal() || info.EndedAt.IsZero() {
			return
		}
		m.sessions.WithLabelValues(string(info.State)).Inc()
		m.sessionDuration.Observe(info.Duration.Seconds())
	case eventbus.TypeUploadDone, eventbus.TypeUploadFailed:
		info, ok := e.Data.(session.Info)
		if !ok {
			return
		}
		result := "ok"
		if e.Type == eventbus.TypeUploadFailed {
			result = "error"
		}
		m.uploads.WithLabelValues(strconv.Itoa(info.Identity), result).Inc()
	case eventbus.TypeTriggersArmed:
		if n, ok := intField(e.Data, "count"); ok {
			m.triggersArmed.Set(float64(n))
		}
	case eventbus.TypeTriggerFired:
		m.triggersFired.Inc()
	case eventbus.TypeRosterLoaded:
		m.rosterLoaded.Inc()
	case eventbus.TypeRosterRejected:
		m.rosterRejected.Inc()
	case eventbus.TypeSweepDone:
		if n, ok := intField(e.Data, "removed"); ok {
			m.sweepRemoved.Add(float64(n))
		}
	}
}

func intField(data any, key string) (int, bool) {
	mp, ok := data.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := mp[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
