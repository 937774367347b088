package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kanbus/internal/config"
	"github.com/calvinalkan/kanbus/internal/daemon"
	"github.com/calvinalkan/kanbus/internal/project"
)

// DaemonCmd returns the daemon command. Clients start it on demand; running
// it by hand is mostly useful for debugging.
func DaemonCmd(cfg *config.Config) *Command {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.String("root", "", "Repository root to serve (default: working directory)")

	return &Command{
		Flags: fs,
		Usage: "daemon --root <dir>",
		Short: "Run the index daemon in the foreground",
		Long: `Serve the issue index of one project over a Unix socket until interrupted
or asked to shut down. Exits 0 if another daemon already serves the project.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			root, _ := fs.GetString("root")
			if root == "" {
				root = cfg.EffectiveCwd
			}

			return execDaemon(ctx, o, cfg, root)
		},
	}
}

func execDaemon(ctx context.Context, o *IO, cfg *config.Config, root string) error {
	paths, err := project.Resolve(root)
	if err != nil {
		return err
	}

	logPath := cfg.DaemonLog
	if logPath == "" {
		logPath = paths.Log
	}

	err = os.MkdirAll(filepath.Dir(logPath), 0o750)
	if err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewTextHandler(logFile, nil)).With("pid", os.Getpid())

	err = daemon.Run(ctx, root, daemon.WithLogger(logger), daemon.WithIndexWorkers(cfg.IndexWorkers))
	if errors.Is(err, daemon.ErrAlreadyRunning) {
		logger.Info("another daemon serves this project, exiting", "root", paths.Root)
		o.ErrPrintln("daemon already running for", paths.Root)

		return nil
	}

	return err
}

var errDaemonConfigDisabled = fmt.Errorf("%w by configuration", daemon.ErrDaemonDisabled)

func newClient(cfg *config.Config, getenv func(string) string) (*daemon.Client, error) {
	if !cfg.Daemon {
		return nil, errDaemonConfigDisabled
	}

	return daemon.NewClient(cfg.EffectiveCwd,
		daemon.WithGetenv(getenv),
		daemon.WithSpawnPoll(cfg.DaemonSpawnRetries, cfg.SpawnInterval()),
		daemon.WithDaemonArgs(daemonArgs(cfg)...))
}

// daemonArgs are the global flags a spawned daemon needs to load the same
// configuration as this invocation.
func daemonArgs(cfg *config.Config) []string {
	args := []string{"-C", cfg.EffectiveCwd}

	if cfg.Sources.Project != "" {
		args = append(args, "-c", cfg.Sources.Project)
	}

	return args
}

// DaemonStatusCmd returns the daemon-status command.
func DaemonStatusCmd(cfg *config.Config, getenv func(string) string) *Command {
	return &Command{
		Flags: flag.NewFlagSet("daemon-status", flag.ContinueOnError),
		Usage: "daemon-status",
		Short: "Show daemon status, starting it if needed",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			client, err := newClient(cfg, getenv)
			if err != nil {
				return err
			}

			status, err := client.Status(ctx)
			if err != nil {
				return err
			}

			o.Println("status=" + status.Status)
			o.Println("state=" + status.State)
			o.Printf("pid=%d\n", status.PID)
			o.Println("root=" + status.Root)
			o.Println("socket=" + status.SocketPath)
			o.Println("protocol_version=" + status.ProtocolVersion)
			o.Printf("uptime_seconds=%.1f\n", status.UptimeSeconds)
			o.Printf("index_loaded=%t\n", status.IndexLoaded)
			o.Printf("issue_count=%d\n", status.IssueCount)

			return nil
		},
	}
}

// DaemonStopCmd returns the daemon-stop command.
func DaemonStopCmd(cfg *config.Config, getenv func(string) string) *Command {
	return &Command{
		Flags: flag.NewFlagSet("daemon-stop", flag.ContinueOnError),
		Usage: "daemon-stop",
		Short: "Stop the daemon of this project",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			client, err := newClient(cfg, getenv)
			if err != nil {
				return err
			}

			// Shutdown would spawn a daemon just to stop it.
			_, err = os.Stat(client.SocketPath())
			if errors.Is(err, os.ErrNotExist) {
				o.Println("daemon not running")

				return nil
			}

			err = client.Shutdown(ctx)
			if err != nil {
				return err
			}

			o.Println("daemon stopped")

			return nil
		},
	}
}
