package upload

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPDriver stores the artifact on an FTP server, optionally over explicit TLS.
type FTPDriver struct {
	Remote      RemoteConfig
	TLS         bool
	DialTimeout time.Duration
}

func (d *FTPDriver) Name() string { return "ftp" }

func (d *FTPDriver) Put(ctx context.Context, job Job) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return fmt.Errorf("ftp connect: %w", err)
	}
	defer conn.Quit()

	dst := d.Remote.remotePath(job)
	d.mkdirAll(conn, path.Dir(dst))

	src, err := os.Open(job.ArtifactPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := conn.Stor(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("ftp stor: %w", err)
	}
	return nil
}

func (d *FTPDriver) connect(ctx context.Context) (*ftp.ServerConn, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(timeout),
		ftp.DialWithContext(ctx),
	}
	if d.TLS {
		hostname := d.Remote.Addr
		if h, _, err := net.SplitHostPort(hostname); err == nil {
			hostname = h
		}
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(d.Remote.Addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	user := d.Remote.User
	if user == "" {
		user = "anonymous"
	}
	pw, err := d.Remote.password("ftp")
	if err != nil {
		_ = conn.Quit()
		return nil, err
	}
	if pw == "" && user == "anonymous" {
		pw = "anonymous"
	}
	if err := conn.Login(user, pw); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return conn, nil
}

// mkdirAll creates each segment of dir. Existing directories make MakeDir
// fail, so errors are ignored and Stor reports a genuinely missing path.
func (d *FTPDriver) mkdirAll(conn *ftp.ServerConn, dir string) {
	if dir == "." || dir == "/" || dir == "" {
		return
	}
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		cur = path.Join(cur, seg)
		_ = conn.MakeDir(cur)
	}
}

type ctxReader struct {
	ctx context.Context
	r   *os.File
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
