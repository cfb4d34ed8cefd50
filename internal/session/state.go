// Package session runs one recording from trigger to upload:
//
//	Pending -> Capturing -> Finalizing -> Uploading -> Done
//
// with Failed reachable from Capturing, Finalizing and Uploading.
package session

import (
	"fmt"
	"time"

	"dutyrec/internal/roster"
)

type State string

const (
	Pending    State = "Pending"
	Capturing  State = "Capturing"
	Finalizing State = "Finalizing"
	Uploading  State = "Uploading"
	Done       State = "Done"
	Failed     State = "Failed"
)

func (s State) Terminal() bool { return s == Done || s == Failed }

var transitions = map[State][]State{
	Pending:    {Capturing, Failed},
	Capturing:  {Finalizing, Failed},
	Finalizing: {Uploading, Failed},
	Uploading:  {Done, Failed},
}

func canMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is an attempted move the state machine does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: illegal transition %s -> %s", e.From, e.To)
}

// Cause records why capturing ended.
type Cause string

const (
	CauseNaturalEnd Cause = "natural_end"
	CauseDeadline   Cause = "deadline"
	CauseShutdown   Cause = "shutdown"
	CauseStopped    Cause = "stopped"
)

// Info is a point-in-time view of a session.
type Info struct {
	ID        string        `json:"id"`
	Duty      string        `json:"duty"`
	Window    string        `json:"window"`
	State     State         `json:"state"`
	Cause     Cause         `json:"cause,omitempty"`
	Asset     string        `json:"asset"`
	Artifact  string        `json:"artifact"`
	Duration  time.Duration `json:"duration"`
	Identity  int           `json:"identity,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// WindowLabel formats a window the way artifact names carry it: the raw
// roster strings, e.g. "6-0 - 7-30".
func WindowLabel(w roster.TimeWindow) string {
	from, to := w.RawFrom, w.RawTo
	if from == "" {
		from = w.From.String()
	}
	if to == "" {
		if w.OpenEnded {
			to = roster.OpenEnded
		} else {
			to = w.To.String()
		}
	}
	return from + " - " + to
}
