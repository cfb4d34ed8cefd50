package capture

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	logx "dutyrec/pkg/logx"
)

const (
	DefaultBinary = "ffmpeg"
	LogSuffix     = ".ffmpeg.log"
)

// FFmpeg runs one ffmpeg process per capture. The process gets SIGTERM on
// Stop (or context cancellation) so it can write the MP4 trailer.
type FFmpeg struct {
	Binary    string
	ExtraArgs []string // inserted before the output path
	// StopGrace bounds how long a stopped process may take to exit before
	// it is killed.
	StopGrace time.Duration
	Log       logx.Logger
}

// Args returns the ffmpeg argument list for req.
func (f *FFmpeg) Args(req Request) []string {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-ignore_loop", "0", "-i", req.Asset,
		"-i", req.StreamURL,
		"-c:a", "aac", "-b:a", "128k",
		"-c:v", "libx264", "-crf", "28", "-preset", "fast",
		"-movflags", "+faststart",
	}
	args = append(args, f.ExtraArgs...)
	return append(args, "-y", req.OutputPath)
}

func (f *FFmpeg) Start(ctx context.Context, req Request) (Capture, error) {
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, &Error{Err: errors.New("output path required")}
	}
	bin := strings.TrimSpace(f.Binary)
	if bin == "" {
		bin = DefaultBinary
	}
	grace := f.StopGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	log := f.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	logFile, err := os.OpenFile(req.OutputPath+LogSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &Error{Output: req.OutputPath, Err: err}
	}

	p := &process{done: make(chan error, 1), out: req.OutputPath, log: log}
	cmd := exec.CommandContext(ctx, bin, f.Args(req)...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Cancel = func() error {
		p.stopped.Store(true)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, &Error{Output: req.OutputPath, Err: err}
	}
	log.Debug("ffmpeg started", logx.Int("pid", cmd.Process.Pid), logx.String("out", req.OutputPath))

	go func() {
		err := cmd.Wait()
		_ = logFile.Close()
		if err != nil && p.stopped.Load() {
			// ffmpeg exits non-zero on SIGTERM after finishing the file.
			log.Debug("ffmpeg exited after stop", logx.String("out", p.out), logx.Err(err))
			err = nil
		}
		if err != nil {
			err = &Error{Output: p.out, Err: err}
		}
		p.done <- err
		close(p.done)
	}()
	return p, nil
}

type process struct {
	cmd     *exec.Cmd
	out     string
	log     logx.Logger
	done    chan error
	stopped atomic.Bool
	once    sync.Once
}

func (p *process) Done() <-chan error { return p.done }

func (p *process) Stop() error {
	var err error
	p.once.Do(func() {
		p.stopped.Store(true)
		err = p.cmd.Process.Signal(syscall.SIGTERM)
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
	})
	return err
}
