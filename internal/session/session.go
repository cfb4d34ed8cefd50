package session

import (
	"context"
	"sync"
	"time"

	"dutyrec/internal/roster"
)

// Session is one recording. Its fields are fixed at start; state moves
// forward only.
type Session struct {
	id        string
	duty      string
	window    roster.TimeWindow
	asset     string
	artifact  string
	duration  time.Duration
	startedAt time.Time

	mu       sync.Mutex
	state    State
	cause    Cause
	identity int
	err      error
	endedAt  time.Time

	finalizeOnce sync.Once
	finalizeErr  error
	stopOnce     sync.Once
	stopCh       chan struct{}
	done         chan struct{}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Artifact() string { return s.artifact }

// Done is closed once the session reaches a terminal state and is recorded.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends capturing early; the session still finalizes and uploads.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure that made the session Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:        s.id,
		Duty:      s.duty,
		Window:    WindowLabel(s.window),
		State:     s.state,
		Cause:     s.cause,
		Asset:     s.asset,
		Artifact:  s.artifact,
		Duration:  s.duration,
		Identity:  s.identity,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// finalize runs fn at most once per session.
func (s *Session) finalize(fn func() error) error {
	s.finalizeOnce.Do(func() { s.finalizeErr = fn() })
	return s.finalizeErr
}

func (s *Session) move(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canMove(s.state, to) {
		return &TransitionError{From: s.state, To: to}
	}
	s.state = to
	return nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = Failed
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) setCause(c Cause) {
	s.mu.Lock()
	s.cause = c
	s.mu.Unlock()
}

func (s *Session) setIdentity(id int) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

func (s *Session) setEnded(t time.Time) {
	s.mu.Lock()
	if s.endedAt.IsZero() {
		s.endedAt = t
	}
	s.mu.Unlock()
}
