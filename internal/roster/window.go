package roster

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// OpenEnded is the "to" sentinel for a duty that runs until it is stopped
// externally (or by the engine's ceiling).
const OpenEnded = "till completion"

// ParseError reports a malformed time-of-day or date key.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

// Clock is a time of day with minute resolution.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%d-%d", c.Hour, c.Minute) }

// ParseClock parses the roster's "HH-MM" notation ("6-0", "19-30").
func ParseClock(s string) (Clock, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, "-")
	if len(parts) != 2 {
		return Clock{}, &ParseError{Input: s, Reason: "expected HH-MM"}
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Clock{}, &ParseError{Input: s, Reason: "hour is not a number"}
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Clock{}, &ParseError{Input: s, Reason: "minute is not a number"}
	}
	if h < 0 || h > 23 {
		return Clock{}, &ParseError{Input: s, Reason: "hour out of range"}
	}
	if m < 0 || m > 59 {
		return Clock{}, &ParseError{Input: s, Reason: "minute out of range"}
	}
	return Clock{Hour: h, Minute: m}, nil
}

// TimeWindow is an immutable from/to pair. When OpenEnded is set, To is the
// zero Clock and carries no meaning.
type TimeWindow struct {
	From      Clock
	To        Clock
	OpenEnded bool

	// Raw strings as they appeared in the roster, used for artifact names.
	RawFrom string
	RawTo   string
}

func ParseWindow(from, to string) (TimeWindow, error) {
	f, err := ParseClock(from)
	if err != nil {
		return TimeWindow{}, err
	}
	w := TimeWindow{From: f, RawFrom: strings.TrimSpace(from), RawTo: strings.TrimSpace(to)}
	if strings.EqualFold(w.RawTo, OpenEnded) {
		w.OpenEnded = true
		return w, nil
	}
	t, err := ParseClock(to)
	if err != nil {
		return TimeWindow{}, err
	}
	w.To = t
	return w, nil
}

// Duration returns how long a session for this window records.
//
// Open-ended windows return ceiling. Otherwise the hour delta plus the minute
// delta as a fraction of an hour is scaled to milliseconds and truncated,
// matching the arithmetic existing schedules were written against.
func (w TimeWindow) Duration(ceiling time.Duration) time.Duration {
	if w.OpenEnded {
		return ceiling
	}
	hours := float64(w.To.Hour-w.From.Hour) + float64(w.To.Minute-w.From.Minute)/60
	ms := math.Trunc(hours * 60 * 60 * 1000)
	return time.Duration(ms) * time.Millisecond
}

func (w TimeWindow) String() string {
	if w.OpenEnded {
		return w.From.String() + " - " + OpenEnded
	}
	return w.From.String() + " - " + w.To.String()
}
