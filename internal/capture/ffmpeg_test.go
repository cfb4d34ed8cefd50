package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeFFmpeg writes a shell script that records its arguments and then runs
// body.
func fakeFFmpeg(t *testing.T, body string) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	bin = filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argsFile + "\n" + body + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

func waitDone(t *testing.T, c Capture) error {
	t.Helper()
	select {
	case err := <-c.Done():
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("capture did not finish")
		return nil
	}
}

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()
	f := &FFmpeg{ExtraArgs: []string{"-t", "10"}}
	got := strings.Join(f.Args(Request{Asset: "day.gif", StreamURL: "http://s/live", OutputPath: "/w/a.mp4"}), " ")
	for _, want := range []string{
		"-ignore_loop 0 -i day.gif -i http://s/live",
		"-c:a aac -b:a 128k -c:v libx264 -crf 28 -preset fast -movflags +faststart",
		"-t 10 -y /w/a.mp4",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("args %q missing %q", got, want)
		}
	}
	if !strings.HasSuffix(got, "-y /w/a.mp4") {
		t.Fatalf("output must be last: %q", got)
	}
}

func TestFFmpegNaturalEnd(t *testing.T) {
	t.Parallel()
	bin, argsFile := fakeFFmpeg(t, "echo done >&2; exit 0")
	out := filepath.Join(t.TempDir(), "a.mp4")
	c, err := (&FFmpeg{Binary: bin}).Start(context.Background(), Request{Asset: "n.gif", StreamURL: "u", OutputPath: out})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("Done = %v", err)
	}
	b, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(b), "n.gif") {
		t.Fatalf("args = %s", b)
	}
	logb, _ := os.ReadFile(out + LogSuffix)
	if strings.TrimSpace(string(logb)) != "done" {
		t.Fatalf("stderr log = %q", logb)
	}
}

func TestFFmpegStopIsNaturalEnd(t *testing.T) {
	t.Parallel()
	bin, _ := fakeFFmpeg(t, "trap 'exit 255' TERM\nwhile :; do sleep 0.05; done")
	out := filepath.Join(t.TempDir(), "a.mp4")
	c, err := (&FFmpeg{Binary: bin}).Start(context.Background(), Request{OutputPath: out})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := waitDone(t, c); err != nil {
		t.Fatalf("Done after Stop = %v, want nil", err)
	}
}

func TestFFmpegFailure(t *testing.T) {
	t.Parallel()
	bin, _ := fakeFFmpeg(t, "exit 1")
	out := filepath.Join(t.TempDir(), "a.mp4")
	c, err := (&FFmpeg{Binary: bin}).Start(context.Background(), Request{OutputPath: out})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	err = waitDone(t, c)
	var ce *Error
	if !errors.As(err, &ce) || ce.Output != out {
		t.Fatalf("Done = %v, want *Error", err)
	}
}

func TestFFmpegMissingBinary(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "a.mp4")
	_, err := (&FFmpeg{Binary: filepath.Join(t.TempDir(), "nope")}).Start(context.Background(), Request{OutputPath: out})
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("Start = %v, want *Error", err)
	}
}
