// Package daemon serves the issue index to CLI invocations over a Unix socket
// and implements the client that finds, spawns and talks to that server.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/kanbus/internal/cache"
	"github.com/calvinalkan/kanbus/internal/fs"
	"github.com/calvinalkan/kanbus/internal/index"
	"github.com/calvinalkan/kanbus/internal/issue"
	"github.com/calvinalkan/kanbus/internal/project"
	"github.com/calvinalkan/kanbus/internal/protocol"
)

// ErrAlreadyRunning is returned by Run when another daemon owns the project.
var ErrAlreadyRunning = errors.New("daemon already running")

const (
	// readTimeout is how long a client may take to send its request line.
	readTimeout = 30 * time.Second

	// writeTimeout bounds writing the response.
	writeTimeout = 10 * time.Second

	socketPerm = 0o600

	// Backoff bounds after a temporary accept failure such as EMFILE.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// StatusResult is the result of the ping and status actions.
type StatusResult struct {
	Status          string    `json:"status"`
	State           string    `json:"state"`
	PID             int       `json:"pid"`
	Root            string    `json:"root"`
	SocketPath      string    `json:"socket_path"`
	ProtocolVersion string    `json:"protocol_version"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
	IndexLoaded     bool      `json:"index_loaded"`
	IssueCount      int       `json:"issue_count"`
}

// IndexListResult is the result of the index.list action.
type IndexListResult struct {
	Issues []*issue.Issue `json:"issues"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithIndexWorkers sets the parse worker count used for rebuilds.
func WithIndexWorkers(n int) ServerOption {
	return func(s *Server) {
		s.workers = n
	}
}

// WithWatch enables or disables the issues directory watcher (default on).
func WithWatch(enabled bool) ServerOption {
	return func(s *Server) {
		s.watch = enabled
	}
}

// Server owns the in-memory index of one project and answers requests
// about it.
//
// The index pointer is guarded by mu. Readers take the shared lock only long
// enough to check the manifest and copy the pointer; rebuilds take the
// exclusive lock and swap in a new index, so a reader never sees a partially
// built one.
type Server struct {
	paths   project.Paths
	logger  *slog.Logger
	workers int
	watch   bool

	state     atomic.Int32
	startedAt time.Time

	mu        sync.RWMutex
	idx       *index.Index
	manifest  cache.Manifest
	loadIndex func() (*index.Index, error)

	stopMu sync.Mutex
	stop   context.CancelFunc

	activeConnections sync.WaitGroup
	background        sync.WaitGroup
}

// NewServer resolves the project below root. The server does nothing until
// Run is called; HandleRequest may be used directly.
func NewServer(root string, opts ...ServerOption) (*Server, error) {
	paths, err := project.Resolve(root)
	if err != nil {
		return nil, err
	}

	s := &Server{
		paths:     paths,
		logger:    slog.New(slog.DiscardHandler),
		watch:     true,
		startedAt: time.Now(),
	}

	s.loadIndex = s.Index

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run starts a server for root and blocks until it shuts down.
func Run(ctx context.Context, root string, opts ...ServerOption) error {
	s, err := NewServer(root, opts...)
	if err != nil {
		return err
	}

	return s.Run(ctx)
}

// Paths returns the project paths the server was resolved to.
func (s *Server) Paths() project.Paths {
	return s.paths
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(state State) {
	s.state.Store(int32(state))
}

// Run takes ownership of the project, binds the socket and serves until ctx
// is cancelled or a shutdown request arrives.
//
// Ownership is an exclusive flock on the project's daemon.lock held for the
// server's lifetime. When another process holds it, Run returns
// ErrAlreadyRunning without touching the socket. Only the owner removes a
// leftover socket file before binding. The socket and the lock are released
// on return.
func (s *Server) Run(ctx context.Context) error {
	if s.State() != StateNotRunning {
		return fmt.Errorf("daemon: server already started (%s)", s.State())
	}

	s.setState(StateStarting)
	defer s.setState(StateTerminated)

	lock, err := fs.NewLocker().TryLock(s.paths.Lock)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return ErrAlreadyRunning
		}

		return fmt.Errorf("acquiring daemon lock: %w", err)
	}

	defer func() {
		closeErr := lock.Close()
		if closeErr != nil {
			s.logger.Error("releasing daemon lock failed", "error", closeErr)
		}
	}()

	listener, err := s.listen()
	if err != nil {
		return err
	}

	return s.Serve(ctx, listener)
}

func (s *Server) listen() (net.Listener, error) {
	err := os.MkdirAll(s.paths.Cache, 0o750)
	if err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	err = os.Remove(s.paths.Socket)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", s.paths.Socket, err)
	}

	listener, err := net.Listen("unix", s.paths.Socket)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.paths.Socket, err)
	}

	err = os.Chmod(s.paths.Socket, socketPerm)
	if err != nil {
		_ = listener.Close()

		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}

	return listener, nil
}

// Serve accepts connections on listener until ctx is cancelled or Stop is
// called, then waits for in-flight connections and removes the socket file.
//
// Temporary accept failures (descriptor exhaustion, aborted handshakes) are
// retried with a backoff. Any other accept failure shuts the server down and
// is returned once in-flight connections have finished.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.stopMu.Lock()
	s.stop = cancel
	s.stopMu.Unlock()

	defer func() {
		_ = listener.Close()

		removeErr := os.Remove(s.paths.Socket)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.logger.Error("removing socket failed", "path", s.paths.Socket, "error", removeErr)
		}
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	s.setState(StateListening)
	s.logger.Info("daemon listening", "path", s.paths.Socket, "root", s.paths.Root, "pid", os.Getpid())

	s.background.Go(s.warm)

	if s.watch {
		s.background.Go(func() { s.watchIssues(ctx) })
	}

	var (
		acceptDelay time.Duration
		serveErr    error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}

			if !temporaryAcceptError(err) {
				s.logger.Error("accept failed", "error", err)
				serveErr = fmt.Errorf("accepting connections: %w", err)

				break
			}

			acceptDelay = min(max(acceptDelay*2, minAcceptDelay), maxAcceptDelay)
			s.logger.Warn("accept failed, retrying", "error", err, "delay", acceptDelay)

			timer := time.NewTimer(acceptDelay)

			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}

			continue
		}

		acceptDelay = 0

		s.activeConnections.Add(1)

		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.setState(StateShuttingDown)
	s.logger.Info("daemon shutting down")

	s.activeConnections.Wait()
	s.background.Wait()

	return serveErr
}

// temporaryAcceptError reports accept failures that clear up on their own.
func temporaryAcceptError(err error) bool {
	if errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM) ||
		errors.Is(err, unix.ECONNABORTED) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.EAGAIN) {
		return true
	}

	var timeout interface{ Timeout() bool }

	return errors.As(err, &timeout) && timeout.Timeout()
}

// Stop asks a serving server to shut down. It does not wait.
func (s *Server) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stop != nil {
		s.stop()
	}
}

// handleConnection serves one request-response cycle.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	line, err := protocol.ReadLine(bufio.NewReader(conn), protocol.MaxRequestSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Connected and closed without sending anything.
			return
		}

		s.writeResponse(conn, protocol.Fail(protocol.Request{}, protocol.CodeInvalidRequest, "invalid request: "+err.Error(), nil))

		return
	}

	req, err := protocol.DecodeRequest(line)
	if err != nil {
		s.logger.Debug("invalid request", "request_id", req.RequestID, "error", err)
		s.writeResponse(conn, protocol.Fail(req, protocol.CodeInvalidRequest, "invalid request: "+err.Error(), nil))

		return
	}

	resp := s.HandleRequest(ctx, req)
	s.writeResponse(conn, resp)

	if resp.Status == protocol.StatusOK && protocol.ParseAction(req.Action) == protocol.ActionShutdown {
		s.Stop()
	}
}

// writeResponse sends resp. A response that cannot be encoded is replaced by
// an internal_error reply so the client is never left without an answer.
func (s *Server) writeResponse(conn net.Conn, resp protocol.Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	err := protocol.WriteMessage(conn, resp)
	if err == nil {
		return
	}

	s.logger.Error("writing response failed", "request_id", resp.RequestID, "status", resp.Status, "error", err)

	if !errors.Is(err, protocol.ErrEncode) {
		return
	}

	fallback := protocol.Fail(protocol.Request{RequestID: resp.RequestID}, protocol.CodeInternalError, "encoding response: "+err.Error(), nil)

	err = protocol.WriteMessage(conn, fallback)
	if err != nil {
		s.logger.Error("writing error response failed", "request_id", resp.RequestID, "error", err)
	}
}

// HandleRequest validates and dispatches one request without any socket I/O.
// It never panics: handler failures and panics become internal_error replies.
//
// A shutdown request is only acknowledged here; the connection handler stops
// the server after the reply is written.
func (s *Server) HandleRequest(ctx context.Context, req protocol.Request) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("request handler panicked", "action", req.Action, "request_id", req.RequestID, "panic", r)
			resp = protocol.Fail(req, protocol.CodeInternalError, fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	err := req.Validate()
	if err != nil {
		return protocol.Fail(req, protocol.CodeInvalidRequest, err.Error(), nil)
	}

	err = protocol.ValidateCompatibility(req.ProtocolVersion, protocol.Version)
	if err != nil {
		code := protocol.CodeProtocolMismatch
		if errors.Is(err, protocol.ErrVersionUnsupported) {
			code = protocol.CodeProtocolUnsupported
		}

		return protocol.Fail(req, code, err.Error(), map[string]any{
			"client_version": req.ProtocolVersion,
			"daemon_version": protocol.Version,
		})
	}

	action := protocol.ParseAction(req.Action)

	result, err := s.dispatch(ctx, action)
	if err != nil {
		s.logger.Error("request failed", "action", req.Action, "request_id", req.RequestID, "error", err)

		return protocol.Fail(req, protocol.CodeInternalError, err.Error(), nil)
	}

	if result == nil {
		return protocol.Fail(req, protocol.CodeUnknownAction, fmt.Sprintf("unknown action %q", req.Action), map[string]any{
			"action": req.Action,
		})
	}

	resp, err = protocol.OK(req, result)
	if err != nil {
		return protocol.Fail(req, protocol.CodeInternalError, err.Error(), nil)
	}

	s.logger.Debug("request served", "action", req.Action, "request_id", req.RequestID)

	return resp
}

// dispatch returns a nil result for unknown actions.
func (s *Server) dispatch(_ context.Context, action protocol.Action) (any, error) {
	switch action {
	case protocol.ActionPing, protocol.ActionStatus:
		return s.Status(), nil

	case protocol.ActionIndexList:
		idx, err := s.loadIndex()
		if err != nil {
			return nil, err
		}

		return IndexListResult{Issues: idx.Issues()}, nil

	case protocol.ActionShutdown:
		return map[string]string{"status": "stopping"}, nil
	}

	return nil, nil
}

// Status describes the running server.
func (s *Server) Status() StatusResult {
	s.mu.RLock()
	idx := s.idx
	s.mu.RUnlock()

	status := StatusResult{
		Status:          "running",
		State:           s.State().String(),
		PID:             os.Getpid(),
		Root:            s.paths.Root,
		SocketPath:      s.paths.Socket,
		ProtocolVersion: protocol.Version,
		StartedAt:       s.startedAt.UTC(),
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
	}

	if idx != nil {
		status.IndexLoaded = true
		status.IssueCount = idx.Len()
	}

	return status
}

// Index returns an index matching the issues currently on disk, rebuilding
// when any issue file was added, removed or modified.
func (s *Server) Index() (*index.Index, error) {
	manifest, err := cache.FileMtimes(s.paths.Issues)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	idx, current := s.idx, s.manifest
	s.mu.RUnlock()

	if idx != nil && current.Equal(manifest) {
		return idx, nil
	}

	return s.rebuild()
}

// rebuild refreshes the index under the exclusive lock. Concurrent callers
// queue on the lock; the first one rebuilds and the rest find it current.
func (s *Server) rebuild() (*index.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx != nil {
		manifest, err := cache.FileMtimes(s.paths.Issues)
		if err == nil && s.manifest.Equal(manifest) {
			return s.idx, nil
		}
	}

	started := time.Now()

	idx, manifest, err := cache.Refresh(s.paths.CacheFile, s.paths.Issues, index.WithWorkers(s.workers))
	if err != nil {
		return nil, fmt.Errorf("rebuilding index: %w", err)
	}

	s.idx, s.manifest = idx, manifest
	s.logger.Info("index loaded", "issues", idx.Len(), "elapsed", time.Since(started))

	return idx, nil
}

// warm loads the index ahead of the first request.
func (s *Server) warm() {
	_, err := s.Index()
	if err != nil {
		s.logger.Warn("warm start failed", "error", err)
	}
}
