package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calvinalkan/kanbus/internal/daemon"
	"github.com/calvinalkan/kanbus/internal/issue"
)

// CLI provides a clean interface for running CLI commands in tests.
// It manages a repository root with an empty project and the environment.
// The daemon is disabled through the environment unless a test clears it.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

// NewCLI creates a new test CLI with a temp repository root.
func NewCLI(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()

	err := os.MkdirAll(filepath.Join(dir, "project", "issues"), 0o750)
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	return &CLI{
		t:   t,
		Dir: dir,
		Env: map[string]string{
			"HOME":             t.TempDir(),
			daemon.EnvNoDaemon: "1",
		},
	}
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
// Args should not include "kanbus" or "--cwd" - those are added automatically.
func (r *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	fullArgs := append([]string{"kanbus", "--cwd", r.Dir}, args...)
	code := Run(nil, &outBuf, &errBuf, fullArgs, r.Env, nil)

	return outBuf.String(), errBuf.String(), code
}

// MustRun executes the CLI and fails the test if the command returns non-zero.
// Returns trimmed stdout on success.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail executes the CLI and fails the test if the command succeeds.
// Also fails if stdout is not empty. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	if stdout != "" {
		r.t.Fatalf("command %v failed but stdout should be empty\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}

// IssuesDir returns the path to the project's issues directory.
func (r *CLI) IssuesDir() string {
	return filepath.Join(r.Dir, "project", "issues")
}

// WriteIssue stores iss as <id>.json in the issues directory.
func (r *CLI) WriteIssue(iss *issue.Issue) {
	r.t.Helper()

	data, err := issue.Marshal(iss)
	if err != nil {
		r.t.Fatalf("failed to encode issue %s: %v", iss.ID, err)
	}

	err = os.WriteFile(filepath.Join(r.IssuesDir(), iss.ID+issue.FileExt), data, 0o600)
	if err != nil {
		r.t.Fatalf("failed to write issue %s: %v", iss.ID, err)
	}
}

// WriteFile writes raw content into the issues directory.
func (r *CLI) WriteFile(name, content string) {
	r.t.Helper()

	err := os.WriteFile(filepath.Join(r.IssuesDir(), name), []byte(content), 0o600)
	if err != nil {
		r.t.Fatalf("failed to write %s: %v", name, err)
	}
}

// AssertContains fails the test if content doesn't contain substr.
func AssertContains(t *testing.T, content, substr string) {
	t.Helper()

	if !strings.Contains(content, substr) {
		t.Errorf("content should contain %q\ncontent:\n%s", substr, content)
	}
}

// AssertNotContains fails the test if content contains substr.
func AssertNotContains(t *testing.T, content, substr string) {
	t.Helper()

	if strings.Contains(content, substr) {
		t.Errorf("content should NOT contain %q\ncontent:\n%s", substr, content)
	}
}
