// Package capture records a live audio stream over a looping still image
// into an MP4 artifact.
package capture

import (
	"context"
	"fmt"
)

// Request describes one capture.
type Request struct {
	Asset      string // looping image/GIF used as the video track
	StreamURL  string
	OutputPath string
}

// Capture is a running capture.
type Capture interface {
	// Done yields exactly one value when the capture ends: nil for a natural
	// end (including one caused by Stop), otherwise the failure.
	Done() <-chan error
	// Stop asks the capture to finish and write a playable artifact.
	// Safe to call more than once.
	Stop() error
}

type Capturer interface {
	Start(ctx context.Context, req Request) (Capture, error)
}

// Error is a capture that could not start or ended abnormally.
type Error struct {
	Output string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("capture %s: %v", e.Output, e.Err) }

func (e *Error) Unwrap() error { return e.Err }
