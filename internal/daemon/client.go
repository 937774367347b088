package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/kanbus/internal/issue"
	"github.com/calvinalkan/kanbus/internal/project"
	"github.com/calvinalkan/kanbus/internal/protocol"
)

// EnvNoDaemon disables the daemon when set to 1, true, yes or on.
const EnvNoDaemon = "KANBUS_NO_DAEMON"

// Client errors.
var (
	ErrDaemonUnavailable = errors.New("daemon unavailable")
	ErrDaemonDisabled    = errors.New("daemon disabled")
	ErrMismatchedReply   = errors.New("daemon reply does not match request")
)

// Defaults for the spawn poll: 50 checks 20ms apart.
const (
	DefaultSpawnRetries  = 50
	DefaultSpawnInterval = 20 * time.Millisecond

	defaultDialTimeout    = time.Second
	defaultRequestTimeout = 60 * time.Second

	// maxAttempts is the first try plus one retry after a stale socket.
	maxAttempts = 2

	// stopTimeout bounds waiting for an unresponsive spawned daemon to exit
	// after SIGTERM before it is killed.
	stopTimeout = 2 * time.Second
)

// Enabled reports whether daemon mode is on according to getenv. It reads the
// variable on every call so toggling it takes effect without a restart.
func Enabled(getenv func(string) string) bool {
	switch strings.ToLower(strings.TrimSpace(getenv(EnvNoDaemon))) {
	case "1", "true", "yes", "on":
		return false
	default:
		return true
	}
}

// Spawner starts a daemon for root.
type Spawner func(ctx context.Context, root string) (*Process, error)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSpawner replaces how the client starts a missing daemon.
func WithSpawner(spawn Spawner) ClientOption {
	return func(c *Client) {
		c.spawn = spawn
	}
}

// WithSpawnPoll sets how often and how long the client waits for a spawned
// daemon to answer. The socket is always dialed at least once.
func WithSpawnPoll(retries int, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.spawnRetries = max(retries, 1)
		c.spawnInterval = interval
	}
}

// WithDaemonArgs sets the global flags passed to a daemon started by the
// default spawner, ahead of the daemon subcommand.
func WithDaemonArgs(args ...string) ClientOption {
	return func(c *Client) {
		c.daemonArgs = args
	}
}

// WithClientLogger sets the client logger. The default discards everything.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithGetenv sets the environment lookup consulted by Enabled.
func WithGetenv(getenv func(string) string) ClientOption {
	return func(c *Client) {
		c.getenv = getenv
	}
}

// Client sends requests to the daemon of one project, starting it when
// needed.
type Client struct {
	root   string
	socket string

	spawn         Spawner
	daemonArgs    []string
	spawnRetries  int
	spawnInterval time.Duration
	getenv        func(string) string
	logger        *slog.Logger
}

// NewClient resolves the daemon socket for root. It fails with an error
// wrapping project.ErrNotInitialized when root holds no project.
func NewClient(root string, opts ...ClientOption) (*Client, error) {
	paths, err := project.Resolve(root)
	if err != nil {
		return nil, err
	}

	c := &Client{
		root:          paths.Root,
		socket:        paths.Socket,
		spawnRetries:  DefaultSpawnRetries,
		spawnInterval: DefaultSpawnInterval,
		getenv:        os.Getenv,
		logger:        slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.spawn == nil {
		c.spawn = c.spawnDefault
	}

	return c, nil
}

func (c *Client) spawnDefault(_ context.Context, root string) (*Process, error) {
	cmd, err := DefaultCommand(root, c.daemonArgs...)
	if err != nil {
		return nil, err
	}

	return Spawn(root, cmd)
}

// SocketPath returns the socket the client talks to.
func (c *Client) SocketPath() string {
	return c.socket
}

// Request sends action and returns the raw result of a successful reply.
//
// A missing socket starts a daemon. A transport failure that points at a dead
// daemon (refused, reset, broken pipe, vanished socket) removes the socket
// file and tries once more, which respawns. An error reply is returned as a
// *protocol.Error.
func (c *Client) Request(ctx context.Context, action protocol.Action, payload any) (json.RawMessage, error) {
	if !Enabled(c.getenv) {
		return nil, ErrDaemonDisabled
	}

	req, err := protocol.NewRequest(uuid.NewString(), action, payload)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		err = c.ensureRunning(ctx)
		if err != nil {
			return nil, err
		}

		resp, sendErr := c.send(ctx, req)
		if sendErr == nil {
			replyErr := resp.Err()
			if replyErr != nil {
				return nil, replyErr
			}

			return resp.Result, nil
		}

		if !isStaleSocket(sendErr) || attempt >= maxAttempts {
			return nil, fmt.Errorf("daemon request %s: %w", action, sendErr)
		}

		c.logger.Debug("removing stale daemon socket", "path", c.socket, "error", sendErr)

		removeErr := os.Remove(c.socket)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale socket: %w", removeErr)
		}
	}
}

// ensureRunning spawns a daemon when the socket is missing and waits until it
// accepts connections.
func (c *Client) ensureRunning(ctx context.Context) error {
	_, err := os.Stat(c.socket)
	if err == nil {
		return nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking daemon socket: %w", err)
	}

	c.logger.Debug("spawning daemon", "root", c.root)

	proc, err := c.spawn(ctx, c.root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
	}

	err = c.waitForDaemon(ctx)
	if err == nil {
		if proc != nil {
			proc.Release()
		}

		return nil
	}

	if proc != nil {
		c.stopUnresponsive(proc)
	}

	return err
}

// waitForDaemon polls the socket until a dial succeeds.
func (c *Client) waitForDaemon(ctx context.Context) error {
	for attempt := range c.spawnRetries {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.spawnInterval):
			}
		}

		conn, dialErr := c.dial(ctx)
		if dialErr == nil {
			_ = conn.Close()

			return nil
		}
	}

	return fmt.Errorf("%w: no answer on %s after %d attempts", ErrDaemonUnavailable, c.socket, c.spawnRetries)
}

// stopUnresponsive terminates a spawned daemon that never started answering,
// so a failed spawn does not leave a stray process behind.
func (c *Client) stopUnresponsive(proc *Process) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	err := proc.Shutdown(ctx)
	if err != nil {
		c.logger.Warn("stopping unresponsive daemon failed", "pid", proc.PID, "error", err)

		return
	}

	c.logger.Debug("stopped unresponsive daemon", "pid", proc.PID)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: defaultDialTimeout}

	return dialer.DialContext(ctx, "unix", c.socket)
}

// send performs one request-response exchange on a fresh connection.
func (c *Client) send(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return protocol.Response{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(defaultRequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetDeadline(deadline)

	err = protocol.WriteMessage(conn, req)
	if err != nil {
		return protocol.Response{}, err
	}

	resp, err := protocol.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		return protocol.Response{}, err
	}

	if resp.RequestID != req.RequestID {
		return protocol.Response{}, fmt.Errorf("%w: sent %s, got %q", ErrMismatchedReply, req.RequestID, resp.RequestID)
	}

	return resp, nil
}

// isStaleSocket reports transport errors that mean nobody serves the socket.
func isStaleSocket(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ENOENT)
}

// IndexList returns every indexed issue. A reply without an issues member
// yields an empty list.
func (c *Client) IndexList(ctx context.Context) ([]*issue.Issue, error) {
	raw, err := c.Request(ctx, protocol.ActionIndexList, nil)
	if err != nil {
		return nil, err
	}

	var result IndexListResult

	if len(raw) > 0 {
		err = json.Unmarshal(raw, &result)
		if err != nil {
			return nil, fmt.Errorf("decoding index.list result: %w", err)
		}
	}

	if result.Issues == nil {
		result.Issues = []*issue.Issue{}
	}

	return result.Issues, nil
}

// Status returns the daemon's status.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	raw, err := c.Request(ctx, protocol.ActionStatus, nil)
	if err != nil {
		return StatusResult{}, err
	}

	var status StatusResult

	if len(raw) > 0 {
		err = json.Unmarshal(raw, &status)
		if err != nil {
			return StatusResult{}, fmt.Errorf("decoding status result: %w", err)
		}
	}

	return status, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.ActionPing, nil)

	return err
}

// Shutdown asks the daemon to stop. The daemon replies before it stops.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Request(ctx, protocol.ActionShutdown, nil)

	return err
}
