package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"dutyrec/internal/roster"
)

// ArtifactPath builds "<dir>/<duty> <title> <D>-<M>-<YYYY>(<from> - <to>).mp4"
// with the date taken from at.
func ArtifactPath(dir, duty, title string, w roster.TimeWindow, at time.Time) string {
	duty = strings.TrimSpace(duty)
	duty = strings.NewReplacer("/", "-", "\\", "-").Replace(duty)
	name := fmt.Sprintf("%s %s %d-%d-%d(%s).mp4",
		duty, strings.TrimSpace(title), at.Day(), int(at.Month()), at.Year(), WindowLabel(w))
	return filepath.Join(dir, name)
}

// NightHours decides which asset loops behind the audio.
type NightHours struct {
	From int // night starts at this hour (inclusive)
	To   int // and lasts through this hour (inclusive)
}

// DefaultNight is 19:00 through 05:59.
var DefaultNight = NightHours{From: 19, To: 5}

func (n NightHours) IsNight(t time.Time) bool {
	h := t.Hour()
	if n.From <= n.To {
		return h >= n.From && h <= n.To
	}
	return h >= n.From || h <= n.To
}
