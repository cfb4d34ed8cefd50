package systemd

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready() = %v, %v; want false, nil", sent, err)
	}
	if err := Watchdog(context.Background()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}

func TestReadySendsToNotifySocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", path)

	sent, err := Ready()
	if err != nil || !sent {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Fatalf("message = %q", got)
	}
}
