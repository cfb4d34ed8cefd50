package app

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/afero"

	"dutyrec/internal/capture"
	"dutyrec/internal/config"
	"dutyrec/internal/housekeeping"
	"dutyrec/internal/quota"
	"dutyrec/internal/schedule"
	"dutyrec/internal/scheduler"
	"dutyrec/internal/session"
	"dutyrec/internal/storage"
	logx "dutyrec/pkg/logx"
)

// Preview is what a roster compiles to, without arming anything.
type Preview struct {
	Location *time.Location
	Ceiling  time.Duration
	Triggers []schedule.Trigger
	Skipped  []error
}

// CompileRoster loads the configured roster and compiles it. The refresh
// command only runs when refresh is true.
func CompileRoster(ctx context.Context, cfg *config.Config, refresh bool) (Preview, error) {
	p, err := mapRosterProvider(cfg)
	if err != nil {
		return Preview{}, err
	}
	if !refresh {
		p.RefreshCommand = nil
	}
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = scheduler.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Preview{}, err
	}
	ceiling, err := config.ParseDurationOrDefault("session.ceiling", cfg.Session.Ceiling, session.DefaultCeiling)
	if err != nil {
		return Preview{}, err
	}
	r, err := p.Load(ctx)
	if err != nil {
		return Preview{}, err
	}
	triggers, skipped := schedule.Compile(r)
	return Preview{Location: loc, Ceiling: ceiling, Triggers: triggers, Skipped: skipped}, nil
}

// LedgerSnapshot opens the configured store and returns the ledger state. Concurrent use with a running recorder is only safe on
// the sqlite driver.
func LedgerSnapshot(ctx context.Context, cfg *config.Config) (quota.State, error) {
	sc, err := mapStorage(cfg)
	if err != nil {
		return quota.State{}, err
	}
	st, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return quota.State{}, err
	}
	defer st.Close()
	l, err := quota.Open(ctx, st, mapQuota(cfg))
	if err != nil {
		return quota.State{}, err
	}
	return l.Snapshot(ctx)
}

// SweepOnce removes leftover artifacts from the configured directory.
func SweepOnce(ctx context.Context, cfg *config.Config, fs afero.Fs, log logx.Logger) ([]string, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	s := &housekeeping.Sweeper{
		Fs:  fs,
		Dir: cfg.EffectiveSweepDir(),
		Ext: cfg.Housekeeping.EffectiveExt(),
		// A crashed capture leaves its ffmpeg log behind as well.
		Sidecars: []string{capture.LogSuffix},
		Log:      log,
	}
	return s.Sweep(ctx)
}
