package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	logx "dutyrec/pkg/logx"
)

// CredentialLookup resolves an identity's credentials.
type CredentialLookup interface {
	Lookup(identity int) (Credentials, error)
}

// ExecDriver hands the artifact to an external upload tool (for example a
// YouTube upload CLI). Command arguments may use {path}, {title},
// {identity} and {privacy}. The identity's credentials are passed in the
// environment as DUTYREC_CLIENT_ID, DUTYREC_CLIENT_SECRET,
// DUTYREC_REDIRECT_URI and DUTYREC_TOKEN.
type ExecDriver struct {
	Command []string
	Privacy string
	Creds   CredentialLookup
	Log     logx.Logger
}

func (d *ExecDriver) Name() string { return "exec" }

func (d *ExecDriver) Put(ctx context.Context, job Job) error {
	if len(d.Command) == 0 {
		return errors.New("exec upload: command not configured")
	}
	privacy := d.Privacy
	if privacy == "" {
		privacy = "private"
	}

	env := append(os.Environ(),
		"DUTYREC_IDENTITY="+strconv.Itoa(job.Identity),
		"DUTYREC_TITLE="+job.Title,
		"DUTYREC_PRIVACY="+privacy,
	)
	if d.Creds != nil {
		c, err := d.Creds.Lookup(job.Identity)
		if err != nil {
			return err
		}
		env = append(env,
			"DUTYREC_CLIENT_ID="+c.ClientID,
			"DUTYREC_CLIENT_SECRET="+c.ClientSecret,
			"DUTYREC_REDIRECT_URI="+c.RedirectURI,
			"DUTYREC_TOKEN="+c.Token,
		)
	}

	r := strings.NewReplacer(
		"{path}", job.ArtifactPath,
		"{title}", job.Title,
		"{identity}", strconv.Itoa(job.Identity),
		"{privacy}", privacy,
	)
	args := make([]string, len(d.Command))
	for i, a := range d.Command {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("exec upload: %w: %s", err, tail(string(out), 400))
	}
	if !d.Log.IsZero() {
		d.Log.Debug("upload tool finished", logx.String("tool", args[0]), logx.String("output", tail(string(out), 400)))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
