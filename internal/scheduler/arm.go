package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"dutyrec/internal/eventbus"
	"dutyrec/internal/schedule"
	logx "dutyrec/pkg/logx"
)

// ArmAll replaces the armed set with triggers. Everything armed before is
// disarmed first, and no previously armed trigger fires after ArmAll returns.
// Triggers whose pattern the cron parser rejects are skipped and reported.
func (s *Service) ArmAll(triggers []schedule.Trigger) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked()

	var errs []error
	armed := make([]armedTrigger, 0, len(triggers))
	for _, t := range triggers {
		if _, err := s.parser.Parse(t.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("trigger %s: %w", t.ID, err))
			continue
		}
		armed = append(armed, armedTrigger{t: t})
	}
	s.armed = armed

	if s.c != nil && s.cfg.Mode == ModeCron {
		for i := range s.armed {
			s.addTriggerLocked(&s.armed[i], s.gen)
		}
	}
	s.log.Info("triggers armed", logx.Int("count", len(s.armed)), logx.Int("skipped", len(errs)), logx.Int64("generation", int64(s.gen)))
	s.publish(eventbus.TypeTriggersArmed, map[string]any{"count": len(s.armed), "generation": s.gen})
	return len(s.armed), errors.Join(errs...)
}

// DisarmAll removes every armed trigger. Idempotent.
func (s *Service) DisarmAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

func (s *Service) disarmLocked() {
	if s.c != nil {
		for _, a := range s.armed {
			if a.entryID != 0 {
				s.c.Remove(a.entryID)
			}
		}
	}
	s.armed = nil
	s.lastFired = map[string]time.Time{}
	s.gen++
}

func (s *Service) addTriggerLocked(a *armedTrigger, gen uint64) {
	t := a.t
	hook := s.onTick
	eid, err := s.c.AddFunc(t.Pattern, func() {
		if hook != nil {
			hook()
		}
		s.dispatch(gen, t, s.now())
	})
	if err != nil {
		s.log.Error("trigger register failed", logx.String("id", t.ID), logx.String("pattern", t.Pattern), logx.Err(err))
		return
	}
	a.entryID = eid
	s.log.Debug("trigger armed", logx.String("id", t.ID), logx.String("pattern", t.Pattern), logx.Time("next", s.c.Entry(eid).Next))
}

// dispatch hands t to the FireFunc unless it belongs to a stale generation or
// is outside its year. The generation check and the launch share one
// critical section with ArmAll, so a disarmed trigger never launches.
func (s *Service) dispatch(gen uint64, t schedule.Trigger, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.log.Debug("stale trigger dropped", logx.String("id", t.ID))
		return false
	}
	if s.loc != nil {
		at = at.In(s.loc)
	}
	if !t.Due(at) {
		return false
	}
	if s.beforeLaunch != nil {
		s.beforeLaunch()
	}

	s.log.Info("trigger fired", logx.String("id", t.ID), logx.String("duty", t.Duty), logx.String("window", t.Window.String()))
	s.publish(eventbus.TypeTriggerFired, map[string]any{"id": t.ID, "duty": t.Duty})
	if s.fire == nil {
		return true
	}
	if s.sup == nil {
		go s.fire(context.Background(), t)
		return true
	}
	s.sup.Go0("trigger:"+t.ID, func(ctx context.Context) { s.fire(ctx, t) })
	return true
}

func (s *Service) startPollLocked() {
	if s.sup == nil {
		s.log.Warn("poll mode needs a supervisor; triggers will not fire")
		return
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	s.pollStop = cancel
	every := s.cfg.PollInterval
	s.sup.Go0("scheduler.poll", func(_ context.Context) {
		tk := time.NewTicker(every)
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				s.pollTick(s.now())
			}
		}
	})
}

// pollTick fires every armed trigger due in the minute of now, at most once
// per trigger per minute.
func (s *Service) pollTick(now time.Time) int {
	g := gronx.New()

	s.mu.Lock()
	if s.loc != nil {
		now = now.In(s.loc)
	}
	minute := now.Truncate(time.Minute)
	gen := s.gen
	var due []schedule.Trigger
	for _, a := range s.armed {
		ok, err := g.IsDue(a.t.Pattern, now)
		if err != nil || !ok {
			continue
		}
		if last, seen := s.lastFired[a.t.ID]; seen && last.Equal(minute) {
			continue
		}
		s.lastFired[a.t.ID] = minute
		due = append(due, a.t)
	}
	s.mu.Unlock()

	n := 0
	for _, t := range due {
		if s.dispatch(gen, t, now) {
			n++
		}
	}
	return n
}

// Snapshot reports armed triggers with their next firing and system jobs.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	now := s.now().In(loc)

	snap := Snapshot{
		Running:    s.c != nil,
		Mode:       s.cfg.Mode,
		Timezone:   loc.String(),
		Generation: s.gen,
		Triggers:   make([]TriggerInfo, 0, len(s.armed)),
		Jobs:       make([]JobInfo, 0, len(s.jobs)),
	}
	for _, a := range s.armed {
		snap.Triggers = append(snap.Triggers, TriggerInfo{
			ID:      a.t.ID,
			Duty:    a.t.Duty,
			DateKey: a.t.DateKey,
			Pattern: a.t.Pattern,
			Window:  a.t.Window.String(),
			Next:    a.t.NextAfter(now),
		})
	}
	for _, j := range s.jobs {
		it := JobInfo{Name: j.name, Spec: j.spec}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		} else if sched, err := s.parser.Parse(j.spec); err == nil {
			it.Next = sched.Next(now)
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	return snap
}
