package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"dutyrec/internal/capture"
	"dutyrec/internal/eventbus"
	"dutyrec/internal/roster"
	"dutyrec/internal/storage"
	"dutyrec/internal/upload"
	logx "dutyrec/pkg/logx"
)

const (
	DefaultSettleDelay = 59 * time.Second
	DefaultCeiling     = time.Hour
	DefaultTitle       = "Darbar Sahib Kirtan Duty"
)

// Config is hot-reloadable; a running session keeps the values it started with.
type Config struct {
	WorkDir    string
	Title      string
	StreamURL  string
	DayAsset   string
	NightAsset string
	Night      NightHours
	// Ceiling bounds open-ended windows.
	Ceiling     time.Duration
	SettleDelay time.Duration
	// StopGrace bounds the wait for the capture to exit after Stop.
	StopGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.Title == "" {
		c.Title = DefaultTitle
	}
	if c.Night == (NightHours{}) {
		c.Night = DefaultNight
	}
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.StopGrace <= 0 {
		c.StopGrace = time.Minute
	}
	return c
}

// Ledger picks the upload identity.
type Ledger interface {
	AdvanceAndSelect(ctx context.Context) (int, error)
}

// HistoryStore keeps finished sessions.
type HistoryStore interface {
	AppendSession(ctx context.Context, r storage.SessionRecord) error
}

type Deps struct {
	Capturer capture.Capturer
	Ledger   Ledger
	Uploader upload.Uploader
	History  HistoryStore // optional
	Bus      eventbus.Bus // optional
	Fs       afero.Fs     // capture logs; defaults to the OS filesystem
	Log      logx.Logger
	Location func() *time.Location
	Now      func() time.Time
}

// Runner starts and tracks sessions.
type Runner struct {
	deps Deps

	mu     sync.Mutex
	cfg    Config
	active map[string]*Session
	wg     sync.WaitGroup

	// exclusive is set while WhenIdle runs; Start waits on idle until it
	// clears.
	exclusive bool
	idle      *sync.Cond
}

func NewRunner(cfg Config, deps Deps) *Runner {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = func() *time.Location { return time.Local }
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	r := &Runner{deps: deps, cfg: cfg.withDefaults(), active: map[string]*Session{}}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// WhenIdle runs fn only when no session is active, and holds off new
// sessions until fn returns. It reports whether fn ran.
func (r *Runner) WhenIdle(fn func()) bool {
	r.mu.Lock()
	if len(r.active) > 0 || r.exclusive {
		r.mu.Unlock()
		return false
	}
	r.exclusive = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.exclusive = false
		r.idle.Broadcast()
		r.mu.Unlock()
	}()
	fn()
	return true
}

func (r *Runner) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Runner) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Active is the number of sessions that have not reached a terminal state,
// including ones whose capture is still starting.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// ActiveSessions lists the live sessions.
func (r *Runner) ActiveSessions() []Info {
	r.mu.Lock()
	ss := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		ss = append(ss, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.Info())
	}
	return out
}

// Wait blocks until every session has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins a session for duty over w. The capture is running when Start
// returns; the rest of the lifecycle runs on its own goroutine. Canceling
// ctx finalizes the session early (process shutdown); finalizing and
// uploading then continue without ctx's cancellation.
func (r *Runner) Start(ctx context.Context, duty string, w roster.TimeWindow) (*Session, error) {
	cfg := r.config()
	now := r.deps.Now().In(r.deps.Location())

	asset := cfg.DayAsset
	if cfg.Night.IsNight(now) {
		asset = cfg.NightAsset
	}
	s := &Session{
		id:        uuid.NewString(),
		duty:      duty,
		window:    w,
		asset:     asset,
		artifact:  ArtifactPath(cfg.WorkDir, duty, cfg.Title, w, now),
		duration:  w.Duration(cfg.Ceiling),
		startedAt: now,
		state:     Pending,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	log := r.deps.Log.With(logx.String("session", s.id), logx.String("duty", duty))

	// Registered before the capture writes anything, so a sweep never sees
	// an artifact without its session.
	r.mu.Lock()
	for r.exclusive {
		r.idle.Wait()
	}
	r.active[s.id] = s
	r.mu.Unlock()
	r.publish(s)

	c, err := r.startCapture(ctx, capture.Request{Asset: asset, StreamURL: cfg.StreamURL, OutputPath: s.artifact})
	if err != nil {
		s.fail(err)
		log.Error("capture did not start", logx.Err(err))
		r.finish(s, log)
		return s, err
	}
	_ = s.move(Capturing)
	log.Info("capture started",
		logx.String("artifact", s.artifact),
		logx.String("asset", asset),
		logx.Duration("duration", s.duration),
	)
	r.publish(s)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.recoverSession(s, log)
		r.run(ctx, s, c, cfg, log)
	}()
	return s, nil
}

func (r *Runner) startCapture(ctx context.Context, req capture.Request) (c capture.Capture, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.deps.Log.Error("capture start panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			c, err = nil, &capture.Error{Output: req.OutputPath, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return r.deps.Capturer.Start(ctx, req)
}

// recoverSession fails s on a panic anywhere in its lifecycle; the process
// keeps running.
func (r *Runner) recoverSession(s *Session, log logx.Logger) {
	p := recover()
	if p == nil {
		return
	}
	s.fail(fmt.Errorf("panic: %v", p))
	log.Error("session panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
}

func (r *Runner) run(ctx context.Context, s *Session, c capture.Capture, cfg Config, log logx.Logger) {
	defer r.finish(s, log)
	defer r.recoverSession(s, log)

	deadline := time.NewTimer(s.duration)
	defer deadline.Stop()

	var cause Cause
	select {
	case err := <-c.Done():
		if err != nil {
			s.fail(err)
			log.Error("capture failed", logx.Err(err))
			return
		}
		cause = CauseNaturalEnd
	case <-deadline.C:
		cause = CauseDeadline
	case <-s.stopCh:
		cause = CauseStopped
	case <-ctx.Done():
		cause = CauseShutdown
	}

	// The rest must finish even while the process is shutting down.
	fctx := context.WithoutCancel(ctx)
	if err := s.finalize(func() error { return r.finalize(fctx, s, c, cause, cfg, log) }); err != nil {
		return
	}
	r.upload(fctx, s, log)
}

// finalize stops the capture and waits the settle delay.
func (r *Runner) finalize(ctx context.Context, s *Session, c capture.Capture, cause Cause, cfg Config, log logx.Logger) error {
	s.setCause(cause)
	if err := s.move(Finalizing); err != nil {
		return err
	}
	r.publish(s)
	log.Info("finalizing", logx.String("cause", string(cause)))

	if cause != CauseNaturalEnd {
		if err := c.Stop(); err != nil {
			log.Warn("capture stop failed", logx.Err(err))
		}
		select {
		case err := <-c.Done():
			if err != nil {
				s.fail(err)
				log.Error("capture failed while stopping", logx.Err(err))
				return err
			}
		case <-time.After(cfg.StopGrace):
			err := errors.New("capture did not exit after stop")
			s.fail(err)
			log.Error("capture stuck", logx.Duration("grace", cfg.StopGrace))
			return err
		}
	}

	// Shutdown cannot afford the settle wait; the capture has already exited.
	if cause != CauseShutdown && cfg.SettleDelay > 0 {
		t := time.NewTimer(cfg.SettleDelay)
		<-t.C
	}
	if err := r.deps.Fs.Remove(s.artifact + capture.LogSuffix); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
		log.Debug("capture log not removed", logx.Err(err))
	}
	return nil
}

func (r *Runner) upload(ctx context.Context, s *Session, log logx.Logger) {
	if err := s.move(Uploading); err != nil {
		return
	}
	r.publish(s)

	identity, err := r.deps.Ledger.AdvanceAndSelect(ctx)
	if err != nil {
		s.fail(err)
		log.Error("no upload identity", logx.Err(err))
		return
	}
	s.setIdentity(identity)

	job := upload.Job{ArtifactPath: s.artifact, Identity: identity, Title: upload.TitleFor(s.artifact)}
	if err := r.deps.Uploader.Upload(ctx, job); err != nil {
		s.fail(err)
		log.Error("upload failed", logx.Int("identity", identity), logx.Err(err))
		r.emit(eventbus.TypeUploadFailed, s.Info())
		return
	}
	_ = s.move(Done)
	r.emit(eventbus.TypeUploadDone, s.Info())
}

// finish records the terminal session exactly once.
func (r *Runner) finish(s *Session, log logx.Logger) {
	defer close(s.done)
	s.setEnded(r.deps.Now())
	info := s.Info()

	r.mu.Lock()
	delete(r.active, s.id)
	r.mu.Unlock()

	r.publish(s)
	if r.deps.History != nil {
		rec := storage.SessionRecord{
			ID:           info.ID,
			Duty:         info.Duty,
			Window:       info.Window,
			StartedAt:    info.StartedAt,
			EndedAt:      info.EndedAt,
			DurationMS:   info.Duration.Milliseconds(),
			State:        string(info.State),
			Identity:     info.Identity,
			ArtifactPath: info.Artifact,
			Error:        info.Error,
		}
		if err := r.deps.History.AppendSession(context.Background(), rec); err != nil {
			log.Warn("session history not recorded", logx.Err(err))
		}
	}
	log.Info("session ended", logx.String("state", string(info.State)), logx.Duration("took", info.EndedAt.Sub(info.StartedAt)))
}

func (r *Runner) publish(s *Session) {
	r.emit(eventbus.TypeSessionState, s.Info())
}

func (r *Runner) emit(typ string, data any) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}
