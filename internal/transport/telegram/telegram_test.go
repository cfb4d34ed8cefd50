package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShortMessageUnchanged(t *testing.T) {
	t.Parallel()
	got := splitText("capture failed", 100)
	if len(got) != 1 || got[0] != "capture failed" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 40)
	msg := line + "\n" + line + "\n" + line
	got := splitText(msg, 90)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	for i, c := range got {
		if len([]rune(c)) > 90 {
			t.Fatalf("chunk %d too long: %d", i, len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has stray newline: %q", i, c)
		}
	}
	if strings.Join(got, "\n") != msg {
		t.Fatalf("chunks do not reassemble the message")
	}
}
