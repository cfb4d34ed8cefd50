package app

import (
	"context"
	"runtime/debug"
	"strings"

	"dutyrec/internal/config"
	"dutyrec/internal/eventbus"
	logx "dutyrec/pkg/logx"
)

// startConfigReload applies hot-reloadable sections as the manager
// publishes them. Sections needing a restart are only reported.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	log := a.log.With(logx.String("comp", "app"))
	defer func() {
		if p := recover(); p != nil {
			log.Error("config apply panicked; later changes still apply", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	ch := config.SummarizeChange(prev, next)
	if ch.Empty() {
		log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if ch.Has("scheduler") {
		if sc, err := mapScheduler(next); err != nil {
			log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
		}
	}
	if ch.Has("session") {
		if sc, err := mapSession(next); err != nil {
			log.Warn("invalid session config; keeping previous", logx.Err(err))
		} else {
			a.runner.Apply(sc)
		}
	}
	if ch.Has("roster") || ch.Has("housekeeping") {
		if ch.Has("roster") {
			if fp, err := mapRosterProvider(next); err != nil {
				log.Warn("invalid roster config; keeping previous", logx.Err(err))
			} else {
				a.setProvider(fp)
			}
		}
		if err := a.applyJobs(next); err != nil {
			log.Warn("system jobs not updated", logx.Err(err))
		}
		if ch.Has("roster") {
			a.work.Go0("roster.reload", func(c context.Context) {
				if err := a.ReloadRoster(c); err != nil {
					log.Warn("roster reload after config change failed; keeping previous", logx.Err(err))
				}
			})
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: map[string]any{"sections": ch.Sections}})
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	log.Info("config reloaded", fields...)
}
