// Package housekeeping removes recording artifacts left behind by crashed
// or failed sessions.
package housekeeping

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	logx "dutyrec/pkg/logx"
)

// Sweeper deletes regular files with extension Ext directly inside Dir,
// along with sidecars named <artifact><Ext><suffix>. Subdirectories and
// other files are left alone.
type Sweeper struct {
	Fs  afero.Fs
	Dir string
	Ext string // e.g. ".mp4"; matched case-insensitively
	// Sidecars are suffixes written next to an artifact, e.g. ".ffmpeg.log".
	Sidecars []string
	Log      logx.Logger
}

// Sweep returns the paths it removed. A file that cannot be removed is
// logged and reported in the joined error; the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	fs := s.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	ext := strings.ToLower(s.Ext)
	if ext == "" {
		return nil, errors.New("housekeeping: extension required")
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}

	var (
		removed []string
		errs    []error
	)
	for _, fi := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !fi.Mode().IsRegular() || !s.matches(fi.Name(), ext) {
			continue
		}
		p := filepath.Join(dir, fi.Name())
		if err := fs.Remove(p); err != nil {
			s.Log.Warn("leftover not removed", logx.String("path", p), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		s.Log.Info("leftover removed", logx.String("path", p))
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}

func (s *Sweeper) matches(name, ext string) bool {
	lower := strings.ToLower(name)
	if filepath.Ext(lower) == ext {
		return true
	}
	for _, sc := range s.Sidecars {
		if sc != "" && strings.HasSuffix(lower, ext+strings.ToLower(sc)) {
			return true
		}
	}
	return false
}
