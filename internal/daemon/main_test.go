package daemon_test

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/calvinalkan/kanbus/internal/daemon"
	"github.com/calvinalkan/kanbus/internal/issue"
	"github.com/calvinalkan/kanbus/internal/project"
)

const (
	// envTestDaemonRoot turns the test binary into a daemon for the given root.
	envTestDaemonRoot = "KANBUS_DAEMON_TEST_ROOT"

	// envTestHang turns the test binary into a process that never listens.
	envTestHang = "KANBUS_DAEMON_TEST_HANG"
)

func TestMain(m *testing.M) {
	if root := os.Getenv(envTestDaemonRoot); root != "" {
		os.Exit(runTestDaemon(root))
	}

	if os.Getenv(envTestHang) != "" {
		time.Sleep(10 * time.Minute)
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func runTestDaemon(root string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := daemon.Run(ctx, root)
	if err != nil && !errors.Is(err, daemon.ErrAlreadyRunning) {
		return 1
	}

	return 0
}

// reexecSpawner starts this test binary as a daemon process.
func reexecSpawner(t *testing.T, spawned *[]*daemon.Process) daemon.Spawner {
	t.Helper()

	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}

	return func(_ context.Context, root string) (*daemon.Process, error) {
		proc, err := daemon.Spawn(root, daemon.Command{
			Path: exe,
			Args: []string{"-test.run=^$"},
			Env:  append(os.Environ(), envTestDaemonRoot+"="+root),
		})
		if err == nil {
			*spawned = append(*spawned, proc)
		}

		return proc, err
	}
}

var errNoSpawn = errors.New("spawning disabled in this test")

func noSpawn(context.Context, string) (*daemon.Process, error) {
	return nil, errNoSpawn
}

// shortRoot creates a repository root with an empty project below a short
// temp path, keeping socket paths well under sun_path.
func shortRoot(t *testing.T) string {
	t.Helper()

	root, err := os.MkdirTemp("", "kb")
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = os.RemoveAll(root) })

	err = os.MkdirAll(filepath.Join(root, "project", "issues"), 0o750)
	if err != nil {
		t.Fatal(err)
	}

	return root
}

func paths(t *testing.T, root string) project.Paths {
	t.Helper()

	p, err := project.Resolve(root)
	if err != nil {
		t.Fatal(err)
	}

	return p
}

func writeIssue(t *testing.T, root, id string) {
	t.Helper()

	data, err := issue.Marshal(&issue.Issue{ID: id, Title: "Title " + id, Type: "task", Status: "open", Priority: 2})
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(filepath.Join(root, "project", "issues", id+".json"), data, 0o600)
	if err != nil {
		t.Fatal(err)
	}
}

// writeIssueAtomic renames a complete file into place so concurrent readers
// never see a partial issue. Safe to call off the test goroutine.
func writeIssueAtomic(root, id string) error {
	data, err := issue.Marshal(&issue.Issue{ID: id, Title: "Title " + id, Type: "task", Status: "open", Priority: 2})
	if err != nil {
		return err
	}

	dir := filepath.Join(root, "project", "issues")
	tmp := filepath.Join(dir, "."+id+".tmp")

	err = os.WriteFile(tmp, data, 0o600)
	if err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, id+".json"))
}

// startServer runs a server for root in-process and stops it at cleanup.
func startServer(t *testing.T, root string, opts ...daemon.ServerOption) *daemon.Server {
	t.Helper()

	srv, err := daemon.NewServer(root, opts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- srv.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	waitForSocket(t, srv.Paths().Socket)

	return srv
}

func waitForSocket(t *testing.T, socket string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			_ = conn.Close()

			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("socket %s never accepted connections", socket)
}

func waitForGone(t *testing.T, path string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("%s still exists", path)
}
