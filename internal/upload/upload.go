// Package upload publishes a finished recording under a rotating
// credential identity and removes the local artifact afterwards.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	logx "dutyrec/pkg/logx"
)

// Job is one artifact to publish.
type Job struct {
	ArtifactPath string
	Identity     int
	Title        string
}

// TitleFor derives the published title from the artifact name.
func TitleFor(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Uploader publishes a Job. The artifact is gone when Upload returns,
// whether it succeeded or not.
type Uploader interface {
	Upload(ctx context.Context, job Job) error
}

// Driver moves the artifact bytes to their destination.
type Driver interface {
	Name() string
	Put(ctx context.Context, job Job) error
}

// UploadError is a failed upload.
type UploadError struct {
	Identity int
	Path     string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s as identity %d: %v", e.Path, e.Identity, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Service wraps a Driver with the shared contract: a timeout, error
// wrapping and artifact removal on every outcome.
type Service struct {
	driver  Driver
	fs      afero.Fs
	timeout time.Duration
	log     logx.Logger
}

func NewService(d Driver, fs afero.Fs, timeout time.Duration, log logx.Logger) *Service {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{driver: d, fs: fs, timeout: timeout, log: log}
}

func (s *Service) Upload(ctx context.Context, job Job) error {
	if job.Title == "" {
		job.Title = TitleFor(job.ArtifactPath)
	}
	defer s.remove(job.ArtifactPath)

	if s.driver == nil {
		return &UploadError{Identity: job.Identity, Path: job.ArtifactPath, Err: errors.New("no upload driver configured")}
	}
	if _, err := s.fs.Stat(job.ArtifactPath); err != nil {
		return &UploadError{Identity: job.Identity, Path: job.ArtifactPath, Err: err}
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.driver.Put(ctx, job); err != nil {
		return &UploadError{Identity: job.Identity, Path: job.ArtifactPath, Err: err}
	}
	s.log.Info("upload done",
		logx.String("driver", s.driver.Name()),
		logx.Int("identity", job.Identity),
		logx.String("title", job.Title),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) remove(path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("artifact not removed", logx.String("path", path), logx.Err(err))
		return
	}
	s.log.Debug("artifact removed", logx.String("path", path))
}
