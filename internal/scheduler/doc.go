// Package scheduler arms compiled roster triggers on a calendar clock and
// runs the recorder's named system jobs (housekeeping, roster refresh).
//
// The scheduler is trigger-only: a due trigger is handed to a FireFunc on
// its own supervised goroutine, never run on the cron loop.
package scheduler
