package upload

import (
	"errors"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zalando/go-keyring"
)

// RemoteConfig is shared by the sftp and ftp drivers.
type RemoteConfig struct {
	Addr     string // host:port
	User     string
	Password string
	// Dir is the destination directory; "{identity}" is replaced by the
	// identity number so each identity gets its own folder.
	Dir string
}

func (c RemoteConfig) remotePath(job Job) string {
	dir := strings.ReplaceAll(c.Dir, "{identity}", strconv.Itoa(job.Identity))
	if dir == "" {
		dir = "."
	}
	return path.Join(dir, filepath.Base(job.ArtifactPath))
}

// password returns the configured password or the one stored in the OS
// keyring under "<scheme>:<user>@<addr>".
func (c RemoteConfig) password(scheme string) (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	pw, err := keyringGet(KeyringService, scheme+":"+c.User+"@"+c.Addr)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return pw, err
}
