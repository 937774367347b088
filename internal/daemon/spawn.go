package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Command is the program started to run a daemon for a root.
type Command struct {
	Path string
	Args []string
	// Env is the child's environment; nil inherits ours.
	Env []string
}

// DefaultCommand re-executes the running binary as
// "<globalArgs...> daemon --root <root>". globalArgs carry the caller's global
// flags (working directory, config file) so the daemon resolves the same
// configuration as the client that started it.
func DefaultCommand(root string, globalArgs ...string) (Command, error) {
	exe, err := os.Executable()
	if err != nil {
		return Command{}, fmt.Errorf("locating executable: %w", err)
	}

	args := make([]string, 0, len(globalArgs)+3)
	args = append(args, globalArgs...)
	args = append(args, "daemon", "--root", root)

	return Command{Path: exe, Args: args}, nil
}

// Process is a daemon started by this process. The caller must either
// Release it (leave it running) or Shutdown it.
type Process struct {
	PID  int
	Root string

	cmd  *exec.Cmd
	done chan error
}

// Spawn starts cmd detached from the caller's session, with stdio on the null
// device, and returns without waiting for the daemon to listen.
func Spawn(root string, cmd Command) (*Process, error) {
	// nil Stdin/Stdout/Stderr are connected to os.DevNull.
	child := exec.Command(cmd.Path, cmd.Args...)
	child.Env = cmd.Env
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err := child.Start()
	if err != nil {
		return nil, fmt.Errorf("starting daemon: %w", err)
	}

	proc := &Process{PID: child.Process.Pid, Root: root, cmd: child, done: make(chan error, 1)}

	// Reap the child whenever it exits so it never lingers as a zombie.
	go func() {
		proc.done <- child.Wait()
	}()

	return proc, nil
}

// Release leaves the daemon running; the handle must not be used afterwards.
func (p *Process) Release() {
	p.cmd = nil
}

// Shutdown sends SIGTERM and waits for the daemon to exit. When ctx ends
// first the daemon is killed and Shutdown returns ctx's error once it is gone.
func (p *Process) Shutdown(ctx context.Context) error {
	if p.cmd == nil {
		return errors.New("daemon: process handle released")
	}

	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling daemon %d: %w", p.PID, err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	err = p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing daemon %d: %w", p.PID, err)
	}

	<-p.done

	return fmt.Errorf("daemon %d ignored SIGTERM: %w", p.PID, ctx.Err())
}
