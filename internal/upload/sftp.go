package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPDriver copies the artifact to an SSH server.
type SFTPDriver struct {
	Remote         RemoteConfig
	KeyPath        string
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host verification when no known_hosts
	// file is configured.
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration

	// dial is replaced in tests.
	dial func(ctx context.Context) (*sftp.Client, io.Closer, error)
}

func (d *SFTPDriver) Name() string { return "sftp" }

func (d *SFTPDriver) Put(ctx context.Context, job Job) error {
	dial := d.dial
	if dial == nil {
		dial = d.connect
	}
	client, conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("sftp connect: %w", err)
	}
	defer conn.Close()
	defer client.Close()

	dst := d.Remote.remotePath(job)
	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return fmt.Errorf("sftp mkdir: %w", err)
	}

	src, err := os.Open(job.ArtifactPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := dst + ".part"
	f, err := client.Create(tmp)
	if err != nil {
		return fmt.Errorf("sftp create: %w", err)
	}
	if _, err := copyWithContext(ctx, f, src); err != nil {
		_ = f.Close()
		_ = client.Remove(tmp)
		return fmt.Errorf("sftp write: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return fmt.Errorf("sftp close: %w", err)
	}
	if err := client.PosixRename(tmp, dst); err != nil {
		return fmt.Errorf("sftp rename: %w", err)
	}
	return nil
}

func (d *SFTPDriver) connect(ctx context.Context) (*sftp.Client, io.Closer, error) {
	auth, err := d.authMethods()
	if err != nil {
		return nil, nil, err
	}
	hostKey, err := d.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	config := &ssh.ClientConfig{
		User:            d.Remote.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	type result struct {
		c   *ssh.Client
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", d.Remote.Addr, config)
		ch <- result{c, err}
	}()
	var sshConn *ssh.Client
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				_ = r.c.Close()
			}
		}()
		return nil, nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, nil, r.err
		}
		sshConn = r.c
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return nil, nil, err
	}
	return client, sshConn, nil
}

func (d *SFTPDriver) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if d.KeyPath != "" {
		pemBytes, err := os.ReadFile(d.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("sftp: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("sftp: SSH key %q is passphrase-protected; passphrase-protected keys are not supported", d.KeyPath)
			}
			return nil, fmt.Errorf("sftp: parse key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	pw, err := d.Remote.password("sftp")
	if err != nil {
		return nil, err
	}
	if pw != "" {
		methods = append(methods, ssh.Password(pw))
	}
	if len(methods) == 0 {
		return nil, errors.New("sftp: no authentication method available; set a key path or password")
	}
	return methods, nil
}

func (d *SFTPDriver) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.KnownHostsPath != "" {
		return knownhosts.New(d.KnownHostsPath)
	}
	if d.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, errors.New("sftp: known_hosts path required (or insecure_ignore_host_key)")
}

// copyWithContext stops between chunks once ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				return n, werr
			}
			if nw != nr {
				return n, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}
