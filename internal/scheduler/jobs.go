package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	logx "dutyrec/pkg/logx"
)

// AddCron registers a named system job. Names are unique: adding a name
// again replaces the previous definition. A run is skipped while the
// previous run of the same job is still in flight.
//
// Supported spec formats:
//   - Cron: "20 1 * * *", "@daily", "@every 6h"
//   - Go duration: "6h" (same as "@every 6h")
func (s *Service) AddCron(name, spec string, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := normalizeJobSpec(spec)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobLocked(name)
	s.jobs = append(s.jobs, jobDef{name: name, spec: spec, job: job, running: &atomic.Bool{}})
	if s.c != nil {
		s.addJobLocked(&s.jobs[len(s.jobs)-1])
	}
	return nil
}

// RemoveJob unschedules the named job. It reports whether one existed.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeJobLocked(strings.TrimSpace(name))
}

func (s *Service) removeJobLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.jobs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.jobs[n] = d
		n++
	}
	s.jobs = s.jobs[:n]
	return removed
}

func (s *Service) addJobLocked(d *jobDef) {
	name, job, running := d.name, d.job, d.running
	eid, err := s.c.AddFunc(d.spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Debug("job skipped; previous run in flight", logx.String("job", name))
			return
		}
		run := func(ctx context.Context) error {
			defer running.Store(false)
			start := time.Now()
			if err := job(ctx); err != nil {
				s.log.Warn("job failed", logx.String("job", name), logx.Duration("took", time.Since(start)), logx.Err(err))
				return nil
			}
			s.log.Debug("job done", logx.String("job", name), logx.Duration("took", time.Since(start)))
			return nil
		}
		if s.sup == nil {
			go func() { _ = run(context.Background()) }()
			return
		}
		s.sup.Go("job:"+name, run)
	})
	if err != nil {
		s.log.Error("job register failed", logx.String("job", name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
	s.log.Debug("job registered", logx.String("job", name), logx.String("spec", d.spec), logx.Time("next", s.c.Entry(eid).Next))
}

func normalizeJobSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '20 1 * * *' or duration like '6h')", raw)
	}
	if d <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return "@every " + d.String(), nil
}
