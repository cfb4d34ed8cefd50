package housekeeping

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

func TestSweepRemovesOnlyMatchingFiles(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	dir := "/work"
	for _, name := range []string{"a.mp4", "b.MP4", "c d(6-0 - 7-0).mp4", "roster.json", "a.mp4.ffmpeg.log"} {
		if err := afero.WriteFile(fs, filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := fs.MkdirAll(filepath.Join(dir, "nested.mp4"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, "nested.mp4", "inner.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Sweeper{Fs: fs, Dir: dir, Ext: "mp4"}
	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	sort.Strings(removed)
	want := []string{"/work/a.mp4", "/work/b.MP4", "/work/c d(6-0 - 7-0).mp4"}
	if len(removed) != len(want) {
		t.Fatalf("removed = %v, want %v", removed, want)
	}
	for i := range want {
		if removed[i] != want[i] {
			t.Fatalf("removed = %v, want %v", removed, want)
		}
	}

	for _, keep := range []string{"roster.json", "a.mp4.ffmpeg.log", "nested.mp4/inner.mp4"} {
		if ok, _ := afero.Exists(fs, filepath.Join(dir, keep)); !ok {
			t.Fatalf("%s should survive the sweep", keep)
		}
	}

	again, err := s.Sweep(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second sweep = %v, %v", again, err)
	}
}

func TestSweepRemovesSidecars(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	dir := "/work"
	for _, name := range []string{"a.mp4", "a.mp4.ffmpeg.log", "B.MP4.FFMPEG.LOG", "notes.ffmpeg.log", "a.mp4.log"} {
		if err := afero.WriteFile(fs, filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := &Sweeper{Fs: fs, Dir: dir, Ext: ".mp4", Sidecars: []string{".ffmpeg.log"}}
	removed, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	sort.Strings(removed)
	want := []string{"/work/B.MP4.FFMPEG.LOG", "/work/a.mp4", "/work/a.mp4.ffmpeg.log"}
	if len(removed) != len(want) {
		t.Fatalf("removed = %v, want %v", removed, want)
	}
	for i := range want {
		if removed[i] != want[i] {
			t.Fatalf("removed = %v, want %v", removed, want)
		}
	}
	for _, keep := range []string{"notes.ffmpeg.log", "a.mp4.log"} {
		if ok, _ := afero.Exists(fs, filepath.Join(dir, keep)); !ok {
			t.Fatalf("%s should survive the sweep", keep)
		}
	}
}

func TestSweepMissingDir(t *testing.T) {
	t.Parallel()
	s := &Sweeper{Fs: afero.NewMemMapFs(), Dir: "/nope", Ext: ".mp4"}
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestSweepCanceled(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/w/a.mp4", []byte("x"), 0o644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Sweeper{Fs: fs, Dir: "/w", Ext: ".mp4"}
	if _, err := s.Sweep(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
