package app

import (
	"context"
	"strings"

	"dutyrec/internal/config"
	"dutyrec/internal/eventbus"
	logx "dutyrec/pkg/logx"
)

const (
	jobRosterRefresh = "roster.refresh"
	jobSweep         = "housekeeping.sweep"
)

// applyJobs (re)registers the system jobs for cfg.
func (a *App) applyJobs(cfg *config.Config) error {
	if spec := cfg.Roster.EffectiveRefreshSchedule(); strings.EqualFold(spec, "off") {
		a.sched.RemoveJob(jobRosterRefresh)
	} else if err := a.sched.AddCron(jobRosterRefresh, spec, a.refreshJob); err != nil {
		return err
	}

	if cfg.Housekeeping.Disabled {
		a.sched.RemoveJob(jobSweep)
		return nil
	}
	return a.sched.AddCron(jobSweep, cfg.Housekeeping.EffectiveSchedule(), a.sweepJob)
}

func (a *App) refreshJob(ctx context.Context) error {
	if err := a.ReloadRoster(ctx); err != nil {
		a.log.Warn("roster refresh failed; keeping previous roster", logx.String("comp", "roster"), logx.Err(err))
	}
	return nil
}

// sweepJob never runs next to a live session: the sweep cannot tell an
// orphan from an artifact being written. Sessions firing meanwhile wait
// for it to finish.
func (a *App) sweepJob(ctx context.Context) error {
	var err error
	ran := a.runner.WhenIdle(func() {
		_, err = a.sweep(ctx, a.cfgm.Get())
	})
	if !ran {
		a.log.Info("sweep skipped; sessions active", logx.String("comp", "housekeeping"), logx.Int("active", a.runner.Active()))
	}
	return err
}

func (a *App) sweep(ctx context.Context, cfg *config.Config) ([]string, error) {
	removed, err := SweepOnce(ctx, cfg, a.fs, a.log.With(logx.String("comp", "housekeeping")))
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeSweepDone, Data: map[string]any{
		"dir":     cfg.EffectiveSweepDir(),
		"removed": len(removed),
	}})
	return removed, err
}
