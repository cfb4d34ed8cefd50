// Package app wires the recorder together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"dutyrec/internal/api"
	"dutyrec/internal/capture"
	"dutyrec/internal/config"
	"dutyrec/internal/eventbus"
	"dutyrec/internal/quota"
	"dutyrec/internal/roster"
	"dutyrec/internal/runtime/supervisor"
	"dutyrec/internal/schedule"
	"dutyrec/internal/scheduler"
	"dutyrec/internal/session"
	"dutyrec/internal/storage"
	kit "dutyrec/internal/transport"
	"dutyrec/internal/transport/telegram"
	"dutyrec/internal/upload"
	logx "dutyrec/pkg/logx"
	"dutyrec/pkg/systemd"
)

type App struct {
	cfgm *config.Manager

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	fs    afero.Fs

	ledger *quota.Ledger
	runner *session.Runner

	roster atomic.Pointer[roster.Roster]

	// provider is swapped on roster config reloads.
	provMu   sync.Mutex
	provider roster.Provider

	sup     *supervisor.Supervisor
	// work runs firings, sessions, jobs and reloads. Its failures are
	// logged and never cancel sup.
	work *supervisor.Supervisor
	sched   *scheduler.Service
	metrics *api.Metrics
	server  *api.Server

	capturer capture.Capturer
	notify   bool
}

type Option func(*App)

// WithFs replaces the OS filesystem for artifacts and capture logs.
func WithFs(fs afero.Fs) Option { return func(a *App) { a.fs = fs } }

// WithCapturer replaces ffmpeg.
func WithCapturer(c capture.Capturer) Option { return func(a *App) { a.capturer = c } }

// WithProvider replaces the file roster provider.
func WithProvider(p roster.Provider) Option { return func(a *App) { a.provider = p } }

// WithoutSystemd skips sd_notify.
func WithoutSystemd() Option { return func(a *App) { a.notify = false } }

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := checkRuntime(cfg); err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, bus: eventbus.New(), fs: afero.NewOsFs(), notify: true}
	for _, o := range opts {
		o(a)
	}

	var sender kit.Sender
	if cfg.Telegram != nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		timeout, _ := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 8*time.Second)
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, RequestTimeout: timeout},
			logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = ad
	}
	a.logs, a.log = logx.New(mapLogging(cfg), sender)
	log := a.log.With(logx.String("comp", "app"))

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	octx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a.ledger, err = quota.Open(octx, a.store, mapQuota(cfg))
	cancel()
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("quota ledger: %w", err)
	}

	if a.provider == nil {
		fp, err := mapRosterProvider(cfg)
		if err != nil {
			return nil, err
		}
		a.provider = fp
	}

	if a.capturer == nil {
		ff, err := mapCapturer(cfg, a.log.With(logx.String("comp", "capture")))
		if err != nil {
			return nil, err
		}
		a.capturer = ff
	}
	driver, timeout, err := mapUploadDriver(cfg, a.log.With(logx.String("comp", "upload")))
	if err != nil {
		return nil, err
	}
	uploader := upload.NewService(driver, a.fs, timeout, a.log.With(logx.String("comp", "upload")))

	scfg, err := mapSession(cfg)
	if err != nil {
		return nil, err
	}
	a.runner = session.NewRunner(scfg, session.Deps{
		Capturer: a.capturer,
		Ledger:   a.ledger,
		Uploader: uploader,
		History:  a.store,
		Bus:      a.bus,
		Fs:       a.fs,
		Log:      a.log.With(logx.String("comp", "session")),
		Location: a.location,
	})

	log.Info("configured",
		logx.String("config", cfgPath),
		logx.String("storage", sc.Driver),
		logx.String("upload", driver.Name()),
	)
	return a, nil
}

// Current is the armed roster; nil until the first successful load.
func (a *App) Current() *roster.Roster { return a.roster.Load() }

func (a *App) Ledger() *quota.Ledger         { return a.ledger }
func (a *App) Runner() *session.Runner       { return a.runner }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// APIAddr is the bound status endpoint address, empty when disabled.
func (a *App) APIAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

func (a *App) location() *time.Location {
	if a.sched != nil {
		return a.sched.Location()
	}
	tz := a.cfgm.Get().Scheduler.Timezone
	if tz == "" {
		tz = scheduler.DefaultTimezone
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	return time.Local
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start sweeps leftovers, loads and arms the roster, then brings up the
// background services. The sweep always runs before any trigger is armed.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	log := a.log.With(logx.String("comp", "app"))
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.work = supervisor.New(a.sup.Context(), supervisor.WithLogger(a.log.With(logx.String("comp", "work"))), supervisor.WithCancelOnError(false))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return checkRuntime(c) })

	if _, err := a.sweep(ctx, cfg); err != nil {
		log.Warn("startup sweep incomplete", logx.Err(err))
	}

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		return err
	}
	a.sched = scheduler.New(schedCfg, a.work, a.fire, a.log.With(logx.String("comp", "scheduler")), a.bus)
	a.sched.Start(a.sup.Context())

	if err := a.ReloadRoster(ctx); err != nil {
		log.Error("initial roster load failed; retrying at next refresh", logx.Err(err))
	}
	if err := a.applyJobs(cfg); err != nil {
		return err
	}

	if !cfg.API.Disabled {
		if err := a.startAPI(cfg); err != nil {
			return err
		}
	}

	kcfg, err := mapKafka(cfg)
	if err != nil {
		return err
	}
	if kcfg.Enabled {
		fwd, err := eventbus.NewKafkaForwarder(kcfg, a.log.With(logx.String("comp", "kafka")))
		if err != nil {
			return err
		}
		a.sup.Go0("eventbus.kafka", func(c context.Context) {
			if err := fwd.Run(c, a.bus); err != nil {
				log.Warn("kafka forwarder stopped", logx.Err(err))
			}
		})
	}

	a.startEventLog()
	a.startConfigReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if a.notify {
		if _, err := systemd.Ready(); err != nil {
			log.Debug("sd_notify ready failed", logx.Err(err))
		}
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			if err := systemd.Watchdog(c); err != nil {
				log.Warn("systemd watchdog stopped", logx.Err(err))
			}
		})
	}
	log.Info("app started")
	return nil
}

func (a *App) startAPI(cfg *config.Config) error {
	read, err := config.ParseDurationOrDefault("api.read_timeout", cfg.API.ReadTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	write, err := config.ParseDurationOrDefault("api.write_timeout", cfg.API.WriteTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	a.metrics = api.NewMetrics(a.runner, a.ledger)
	a.sup.Go0("metrics.events", func(c context.Context) { a.metrics.Run(c, a.bus) })

	router := api.NewRouter(api.Deps{
		Roster:   a,
		Ledger:   a.ledger,
		Triggers: a.sched,
		Sessions: a.runner,
		History:  a.store,
		Metrics:  a.metrics,
		Log:      a.log.With(logx.String("comp", "api")),
		Pprof:    cfg.API.Pprof,
	})
	a.server = api.NewServer(api.ServerConfig{
		Addr:         cfg.API.EffectiveAddr(nil),
		ReadTimeout:  read,
		WriteTimeout: write,
	}, router, a.log.With(logx.String("comp", "api")))
	return a.server.Start(a.sup.Context())
}

// fire runs on its own supervised goroutine per firing.
func (a *App) fire(_ context.Context, t schedule.Trigger) {
	s, err := a.runner.Start(a.work.Context(), t.Duty, t.Window)
	if err != nil {
		a.log.Error("session not started", logx.String("duty", t.Duty), logx.String("trigger", t.ID), logx.Err(err))
		return
	}
	a.log.Info("session started", logx.String("duty", t.Duty), logx.String("session", s.ID()), logx.String("trigger", t.ID))
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	log := a.log.With(logx.String("comp", "app"))
	log.Info("stopping", logx.String("reason", string(reason)))
	if a.notify {
		_, _ = systemd.Stopping()
	}

	// Canceling the supervisor context also moves running sessions to
	// finalize with the shutdown cause.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, log, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error {
		if a.sched != nil {
			a.sched.Stop(c)
		}
		return nil
	})
	step("sessions", 10*time.Minute, a.runner.Wait)
	step("work", 3*time.Second, func(c context.Context) error {
		_ = a.work.Wait(c)
		return c.Err()
	})
	step("api", 2*time.Second, func(c context.Context) error {
		if a.server == nil {
			return nil
		}
		return a.server.Stop(c)
	})
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
