package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type staticCreds Credentials

func (s staticCreds) Lookup(int) (Credentials, error) { return Credentials(s), nil }

func TestExecDriverPassesJobAndCredentials(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outFile := filepath.Join(dir, "seen")
	script := filepath.Join(dir, "uploader")
	body := "#!/bin/sh\necho \"$1|$2|$DUTYREC_IDENTITY|$DUTYREC_CLIENT_ID|$DUTYREC_TOKEN|$DUTYREC_PRIVACY\" > " + outFile + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	d := &ExecDriver{
		Command: []string{script, "{path}", "{title}"},
		Creds:   staticCreds{ClientID: "cid", ClientSecret: "cs", Token: "tok"},
	}
	err := d.Put(context.Background(), Job{ArtifactPath: "/w/a.mp4", Identity: 3, Title: "a"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(b)); got != "/w/a.mp4|a|3|cid|tok|private" {
		t.Fatalf("tool saw %q", got)
	}
}

func TestExecDriverFailureIncludesOutput(t *testing.T) {
	t.Parallel()
	script := filepath.Join(t.TempDir(), "uploader")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho quotaExceeded >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	d := &ExecDriver{Command: []string{script}}
	err := d.Put(context.Background(), Job{ArtifactPath: "/w/a.mp4", Identity: 1})
	if err == nil || !strings.Contains(err.Error(), "quotaExceeded") {
		t.Fatalf("Put err = %v", err)
	}
}
