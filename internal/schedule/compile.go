// Package schedule compiles a roster into calendar triggers.
package schedule

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"dutyrec/internal/roster"
)

// Trigger is a compiled roster entry: a 5-field cron pattern
// "<min> <hour> <day> <month> *" plus the duty it starts. Year is non-zero
// only for exact-date keys and restricts firings to that year.
type Trigger struct {
	ID      string
	DateKey string
	Pattern string
	Year    int
	Duty    string
	Window  roster.TimeWindow
}

// Due reports whether the trigger may fire at t (in the scheduler timezone).
// The cron pattern handles minute/hour/day/month; Due adds the year filter.
func (t Trigger) Due(at time.Time) bool {
	return t.Year == 0 || at.Year() == t.Year
}

// NextAfter previews the next firing strictly after ref. Exact-date triggers
// whose year has passed return the zero time.
func (t Trigger) NextAfter(ref time.Time) time.Time {
	next := ref
	for i := 0; i < 8; i++ {
		n, err := gronx.NextTickAfter(t.Pattern, next, false)
		if err != nil {
			return time.Time{}
		}
		if t.Year == 0 || n.Year() == t.Year {
			return n
		}
		if n.Year() > t.Year {
			return time.Time{}
		}
		next = n
	}
	return time.Time{}
}

// CompileError is one roster entry that could not become a trigger.
type CompileError struct {
	DateKey string
	Duty    string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s/%q: %v", e.DateKey, e.Duty, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Compile turns every roster entry into a Trigger, in roster order. Entries
// that fail are reported in errs and skipped; they never stop the rest.
func Compile(r *roster.Roster) (triggers []Trigger, errs []error) {
	g := gronx.New()
	for _, key := range r.Keys() {
		dk, err := roster.ParseDateKey(key)
		if err != nil {
			for _, e := range r.Entries(key) {
				errs = append(errs, &CompileError{DateKey: key, Duty: e.Duty, Err: err})
			}
			continue
		}
		for i, e := range r.Entries(key) {
			dc, err := e.Parse()
			if err != nil {
				errs = append(errs, &CompileError{DateKey: key, Duty: e.Duty, Err: err})
				continue
			}
			if !dc.Window.OpenEnded && dc.Window.Duration(0) <= 0 {
				errs = append(errs, &CompileError{DateKey: key, Duty: dc.Duty, Err: fmt.Errorf("window %s has no positive duration", dc.Window)})
				continue
			}
			pattern := fmt.Sprintf("%d %d %d %d *", dc.Window.From.Minute, dc.Window.From.Hour, dk.Day, dk.Month)
			if !g.IsValid(pattern) {
				errs = append(errs, &CompileError{DateKey: key, Duty: dc.Duty, Err: fmt.Errorf("invalid pattern %q", pattern)})
				continue
			}
			triggers = append(triggers, Trigger{
				ID:      fmt.Sprintf("%s#%d:%s", key, i, dc.Duty),
				DateKey: key,
				Pattern: pattern,
				Year:    dk.Year,
				Duty:    dc.Duty,
				Window:  dc.Window,
			})
		}
	}
	return triggers, errs
}
