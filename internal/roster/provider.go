package roster

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Provider supplies the current roster. Callers keep their previous roster
// when Load fails.
type Provider interface {
	Load(ctx context.Context) (*Roster, error)
}

// FileProvider reads a roster document from disk. When RefreshCommand is set
// it runs first, so an external job can regenerate the file from upstream.
type FileProvider struct {
	Path           string
	RefreshCommand []string
	RefreshTimeout time.Duration
}

func (p *FileProvider) Load(ctx context.Context) (*Roster, error) {
	if len(p.RefreshCommand) > 0 {
		if err := p.refresh(ctx); err != nil {
			return nil, err
		}
	}
	b, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	switch strings.ToLower(filepath.Ext(p.Path)) {
	case ".yaml", ".yml":
		return ParseYAML(b)
	default:
		return ParseJSON(b)
	}
}

func (p *FileProvider) refresh(ctx context.Context) error {
	timeout := p.RefreshTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, p.RefreshCommand[0], p.RefreshCommand[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("roster refresh command: %w: %s", err, strings.TrimSpace(lastLine(string(out))))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
