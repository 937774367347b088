package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/kanbus/internal/config"
	"github.com/calvinalkan/kanbus/internal/daemon"
)

var errUnknownCommand = errors.New("unknown command")

// Environ turns KEY=value pairs as returned by os.Environ into the map Run
// takes. Like os.Getenv, the first of duplicate keys wins. Entries without a
// key are skipped.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}

		if _, seen := env[key]; !seen {
			env[key] = value
		}
	}

	return env
}

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the context handed to the running command. The
// daemon command uses that to shut down cleanly.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := newGlobalFlags()

	if len(args) > 0 {
		args = args[1:]
	}

	err := globalFlags.set.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, globalFlags.set, nil)

		return 1
	}

	cfg := &config.Config{}
	commands := allCommands(cfg, env)
	remaining := globalFlags.set.Args()

	if *globalFlags.help || len(remaining) == 0 {
		printUsage(out, globalFlags.set, commands)

		return 0
	}

	loaded, err := config.Load(config.LoadInput{
		WorkDirOverride: *globalFlags.workDir,
		ConfigPath:      *globalFlags.configPath,
		NoDaemon:        *globalFlags.noDaemon,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	*cfg = loaded

	name := remaining[0]

	cmd, ok := findCommand(commands, name)
	if !ok {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", errUnknownCommand, name))
		printUsage(errOut, globalFlags.set, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(out, errOut), remaining[1:])
}

type globalFlags struct {
	set        *flag.FlagSet
	workDir    *string
	configPath *string
	noDaemon   *bool
	help       *bool
}

func newGlobalFlags() globalFlags {
	set := flag.NewFlagSet("kanbus", flag.ContinueOnError)
	set.SetInterspersed(false)
	set.SetOutput(&strings.Builder{})

	return globalFlags{
		set:        set,
		workDir:    set.StringP("cwd", "C", "", "Run as if started in `dir`"),
		configPath: set.StringP("config", "c", "", "Use specified config `file`"),
		noDaemon:   set.Bool("no-daemon", false, "Read issues from disk instead of the daemon"),
		help:       set.BoolP("help", "h", false, "Show help"),
	}
}

func allCommands(cfg *config.Config, env map[string]string) []*Command {
	getenv := func(key string) string { return env[key] }

	return []*Command{
		ListCmd(cfg, getenv),
		ReadyCmd(cfg, getenv),
		ShowCmd(cfg, getenv),
		DaemonCmd(cfg),
		DaemonStatusCmd(cfg, getenv),
		DaemonStopCmd(cfg, getenv),
		PrintConfigCmd(cfg),
	}
}

func findCommand(commands []*Command, name string) (*Command, bool) {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd, true
		}
	}

	return nil, false
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `kanbus - issue tracker for the project/ directory of a repository

Usage: kanbus [global flags] <command> [args]

Read commands ask a per-project daemon for the issue index and start it when
it is not running. Set `+daemon.EnvNoDaemon+`=1 or pass --no-daemon to read the
issue files directly.

Global flags:`)
	_, _ = fmt.Fprint(w, globals.FlagUsages())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}

	fprintln(w)
	fprintln(w, `Run "kanbus <command> --help" for a command's flags and arguments.`)
}
