package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "dutyrec/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "session"))
	log.Info("capture started", String("duty", "A"), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["comp"] != "session" || m["duty"] != "A" || m["message"] != "capture started" {
		t.Fatalf("unexpected event: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field: %v", m)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("ignored")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestFormatNotifySortsFields(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"x","message":"upload failed","path":"/a.mp4","identity":2}`
	got := formatNotify([]byte(line))
	want := "[WARN] upload failed\n- identity=2\n- path=/a.mp4"
	if got != want {
		t.Fatalf("formatNotify = %q, want %q", got, want)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestNotifySinkForwardsWarnings(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level:  "debug",
		Notify: NotifyConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 10},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("not forwarded")
	log.Warn("capture failed", String("duty", "A"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := sender.snapshot(); len(msgs) > 0 {
			if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "[WARN] capture failed") {
				t.Fatalf("unexpected notifications: %q", msgs)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("warning was not forwarded")
}
