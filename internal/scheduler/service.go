package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dutyrec/internal/eventbus"
	"dutyrec/internal/runtime/supervisor"
	logx "dutyrec/pkg/logx"
)

func New(cfg Config, sup *supervisor.Supervisor, fire FireFunc, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  normalize(cfg),
		log:  log,
		bus:  bus,
		sup:  sup,
		fire: fire,
		now:  time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastFired: map[string]time.Time{},
	}
}

func normalize(cfg Config) Config {
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode != ModePoll {
		cfg.Mode = ModeCron
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return cfg
}

// Location is the scheduler timezone. Sessions use it for naming and for
// the day/night asset choice.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == nil {
		s.loc = s.loadLocationLocked()
	}
	return s.loc
}

// Apply swaps the config; a timezone or mode change restarts triggering with
// the same armed set.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	cfg = normalize(cfg)
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || (old.Timezone == cfg.Timezone && old.Mode == cfg.Mode && old.PollInterval == cfg.PollInterval) {
		s.mu.Unlock()
		return
	}
	c := s.detachLocked()
	s.mu.Unlock()

	// Running callbacks may need mu, so wait for them unlocked.
	<-c.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.String("mode", s.cfg.Mode))
}

// Start starts cron triggering (and the poller in poll mode), registering
// everything armed or added before Start.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.String("mode", s.cfg.Mode),
		logx.Int("triggers", len(s.armed)),
		logx.Int("jobs", len(s.jobs)),
	)
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.jobs {
		s.addJobLocked(&s.jobs[i])
	}
	if s.cfg.Mode == ModeCron {
		for i := range s.armed {
			s.addTriggerLocked(&s.armed[i], s.gen)
		}
	} else {
		s.startPollLocked()
	}
	s.c.Start()
}

// detachLocked takes the running cron out of the service and forgets its
// entry IDs. The caller stops the returned cron without holding mu.
func (s *Service) detachLocked() *cron.Cron {
	c := s.c
	s.c = nil
	if s.pollStop != nil {
		s.pollStop()
		s.pollStop = nil
	}
	for i := range s.armed {
		s.armed[i].entryID = 0
	}
	for i := range s.jobs {
		s.jobs[i].entryID = 0
	}
	return c
}

// Stop stops cron triggering and the poller. Armed triggers and jobs stay
// registered so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	s.running = false
	c := s.detachLocked()
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := s.cfg.Timezone
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
