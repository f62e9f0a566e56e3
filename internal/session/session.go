// Package session owns one WebSocket-to-child-process pairing end to end:
// spawning the Language Server, shuttling LSP JSON-RPC traffic between the
// two transports, applying the optional URI rewrite and file-sync side
// effects, and tearing everything down on the first of several possible
// triggers.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mcncl/lsp-ws-proxy/internal/lsp/framing"
	"github.com/mcncl/lsp-ws-proxy/internal/lsp/rewrite"
	filesync "github.com/mcncl/lsp-ws-proxy/internal/lsp/sync"
	"github.com/mcncl/lsp-ws-proxy/internal/registry"
)

// state is a Session's lifecycle position.
type state int32

const (
	stateStarting state = iota
	stateRunning
	stateDraining
	stateClosed
)

// gracePeriod bounds how long Draining waits for a best-effort
// shutdown/exit handshake before the child is killed outright.
const gracePeriod = 2 * time.Second

// Config parameterizes one Session.
type Config struct {
	Spec    registry.ServerSpec
	Dir     string // canonical working directory for rewriting and sync
	Remap   bool
	Sync    bool
	Timeout time.Duration // 0 disables the inactivity timer
	Logger  *zap.Logger
}

// Session is not safe for concurrent use from outside its own Run loop;
// callers interact with it only by constructing it and calling Run once.
type Session struct {
	id    string
	cfg   Config
	ws    *websocket.Conn
	log   *zap.Logger
	ctx   *rewrite.Context
	state atomic.Int32

	deadline atomic.Int64 // unix nanoseconds; 0 means "no timeout configured"

	pendingFromClient sync.Map // request id -> method, client requests still awaiting the child's reply
	pendingFromServer sync.Map // request id -> method, child requests still awaiting the client's reply

	stdin io.WriteCloser // retained so teardown can attempt a graceful shutdown/exit handshake
}

// New constructs a Session. rewriteCtx may be nil when remap is disabled.
func New(cfg Config, ws *websocket.Conn, rewriteCtx *rewrite.Context) *Session {
	id := uuid.NewString()
	return &Session{
		id:  id,
		cfg: cfg,
		ws:  ws,
		log: cfg.Logger.With(zap.String("session", id), zap.String("server", cfg.Spec.Name)),
		ctx: rewriteCtx,
	}
}

// ID returns this session's unique identifier, used to tag its log lines.
func (s *Session) ID() string {
	return s.id
}

// Run spawns the child process and drives the session until any teardown
// trigger fires, then tears down convergently. The returned error joins
// (go.uber.org/multierr) the first error returned by an owned task with
// any teardown failure, or is nil on a clean exit. Inactivity and a client
// close are expected triggers and are not reported as errors.
func (s *Session) Run(ctx context.Context) error {
	s.state.Store(int32(stateStarting))
	s.resetDeadline()

	cmd := exec.Command(s.cfg.Spec.Command, s.cfg.Spec.Args...)
	cmd.Dir = s.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("session: creating child stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("session: creating child stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("session: creating child stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("session: starting %q: %w", s.cfg.Spec.Command, err)
	}
	s.log.Info("child started", zap.Int("pid", cmd.Process.Pid))
	s.state.Store(int32(stateRunning))
	s.stdin = stdin

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error { return s.drainStderr(stderr) })
	g.Go(func() error { return s.upstream(gctx, stdin) })
	g.Go(func() error {
		err := s.downstream(gctx, stdout)
		// A clean child exit surfaces as io.EOF from the decoder; that is
		// not a session failure, it is a teardown trigger.
		if errors.Is(err, io.EOF) {
			cancel()
			return nil
		}
		return err
	})
	g.Go(func() error { return s.watchInactivity(gctx) })

	// Once any trigger has fired, stop the child so its stdout and stderr
	// reach EOF and the readers above can return.
	go func() {
		<-gctx.Done()
		s.attemptGracefulShutdown()
		time.AfterFunc(gracePeriod, func() { _ = cmd.Process.Kill() })
	}()

	runErr := g.Wait()
	s.state.Store(int32(stateDraining))

	teardownErr := s.teardown(cmd, runErr)
	s.state.Store(int32(stateClosed))

	if errors.Is(runErr, errInactive) || errors.Is(runErr, errClientClosed) {
		runErr = nil // expected teardown triggers, not session failures
	}
	return multierr.Append(runErr, teardownErr)
}

// resetDeadline pushes the inactivity deadline Timeout into the future.
// A no-op when no timeout was configured.
func (s *Session) resetDeadline() {
	if s.cfg.Timeout <= 0 {
		return
	}
	s.deadline.Store(time.Now().Add(s.cfg.Timeout).UnixNano())
}

// watchInactivity polls the deadline and cancels the session's context the
// first time it elapses. Polling rather than a single timer keeps the
// deadline trivially resettable from the two I/O loops without additional
// synchronization beyond the atomic itself.
func (s *Session) watchInactivity(ctx context.Context) error {
	if s.cfg.Timeout <= 0 {
		<-ctx.Done()
		return nil
	}

	const pollInterval = 200 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Now().UnixNano() >= s.deadline.Load() {
				s.log.Info("session inactive, draining")
				return errInactive
			}
		}
	}
}

// errInactive signals the inactivity trigger through the errgroup so
// teardown can choose the "inactive" close reason.
var errInactive = errors.New("session: inactivity timeout elapsed")

// upstream pulls WebSocket frames from the client and forwards them to the
// child's stdin, applying file-sync side effects and URI rewriting first.
func (s *Session) upstream(ctx context.Context, stdin io.Writer) error {
	for {
		typ, data, err := s.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %s", errClientClosed, err)
		}
		if typ != websocket.MessageText {
			return fmt.Errorf("%w: received binary frame", errProtocolViolation)
		}
		s.resetDeadline()

		body, err := s.processIncoming(data)
		if err != nil {
			s.log.Warn("dropping malformed client message", zap.Error(err))
			continue
		}
		if body == nil {
			continue
		}

		if err := framing.WriteMessage(stdin, body); err != nil {
			return fmt.Errorf("session: writing to child stdin: %w", err)
		}
	}
}

var (
	errClientClosed      = errors.New("session: client closed")
	errProtocolViolation = errors.New("session: protocol violation")
)

// processIncoming applies sync side effects and remap rewriting to one
// client-originated message, returning the bytes to forward. A nil, nil
// result means the message should be silently dropped (the
// recoverable-per-message policy).
func (s *Session) processIncoming(data []byte) ([]byte, error) {
	if !json.Valid(data) {
		if !s.cfg.Remap && !s.cfg.Sync {
			return data, nil
		}
		return nil, fmt.Errorf("invalid JSON from client")
	}

	method := gjson.GetBytes(data, "method").String()
	id := gjson.GetBytes(data, "id")

	if method != "" && id.Exists() {
		s.pendingFromClient.Store(id.Raw, method)
	}

	if s.cfg.Sync && method != "" {
		filesync.Apply(s.syncContext(), method, data)
	}

	if !s.cfg.Remap || s.ctx == nil {
		return data, nil
	}

	if method != "" {
		rewritten, err := rewrite.Rewrite(data, s.ctx, rewrite.Incoming, method)
		if err != nil {
			return nil, err
		}
		return rewritten, nil
	}

	// A response with no method: the client is answering a request the
	// server previously sent it.
	if v, ok := s.pendingFromServer.LoadAndDelete(id.Raw); ok {
		rewritten, err := rewrite.RewriteResponse(data, s.ctx, rewrite.Incoming, v.(string))
		if err != nil {
			return nil, err
		}
		return rewritten, nil
	}
	return data, nil
}

func (s *Session) syncContext() filesync.Context {
	return filesync.Context{Dir: s.cfg.Dir, Remap: s.cfg.Remap, RewriteCtx: s.ctx, Log: s.log}
}

// downstream pulls decoded frames from the child's stdout and forwards
// them to the WebSocket client, applying URI rewriting first.
func (s *Session) downstream(ctx context.Context, stdout io.Reader) error {
	dec := framing.NewDecoder(stdout)
	for {
		body, err := dec.Decode()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("%w: %s", errProtocolViolation, err)
		}
		s.resetDeadline()

		out, err := s.processOutgoing(body)
		if err != nil {
			s.log.Warn("dropping malformed child message", zap.Error(err))
			continue
		}
		if out == nil {
			continue
		}

		if err := s.ws.Write(ctx, websocket.MessageText, out); err != nil {
			return fmt.Errorf("session: writing to websocket: %w", err)
		}
	}
}

// processOutgoing mirrors processIncoming for the server-to-client
// direction.
func (s *Session) processOutgoing(body []byte) ([]byte, error) {
	if !json.Valid(body) {
		if !s.cfg.Remap {
			return body, nil
		}
		return nil, fmt.Errorf("invalid JSON from child")
	}

	method := gjson.GetBytes(body, "method").String()
	id := gjson.GetBytes(body, "id")

	if method != "" && id.Exists() {
		s.pendingFromServer.Store(id.Raw, method)
	}

	if !s.cfg.Remap || s.ctx == nil {
		return body, nil
	}

	if method != "" {
		return rewrite.Rewrite(body, s.ctx, rewrite.Outgoing, method)
	}

	if v, ok := s.pendingFromClient.LoadAndDelete(id.Raw); ok {
		return rewrite.RewriteResponse(body, s.ctx, rewrite.Outgoing, v.(string))
	}
	return body, nil
}

// drainStderr forwards the child's stderr, line by line, to the host log.
// Errors here are not session failures: a language server's diagnostic
// chatter is orthogonal to protocol health.
func (s *Session) drainStderr(stderr io.Reader) error {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		s.log.Info("child stderr", zap.String("line", scan.Text()))
	}
	return nil
}

// closeReason picks the WebSocket close status/reason for a convergent
// teardown, given the error (if any) that ended the running loop.
func closeReason(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil:
		return websocket.StatusNormalClosure, "server exited"
	case errors.Is(err, errInactive):
		return websocket.StatusNormalClosure, "inactive"
	case errors.Is(err, errClientClosed):
		return websocket.StatusNormalClosure, "client closed"
	case errors.Is(err, errProtocolViolation):
		return websocket.StatusProtocolError, "protocol"
	default:
		return websocket.StatusInternalError, "internal error"
	}
}

// teardown implements the convergent shutdown path every trigger funnels
// into: attempt a graceful LSP shutdown/exit, kill the child if it is
// still alive, and close the WebSocket once.
func (s *Session) teardown(cmd *exec.Cmd, runErr error) error {
	var errs error

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	s.attemptGracefulShutdown()

	select {
	case waitErr := <-exited:
		if waitErr != nil {
			s.log.Debug("child exited", zap.Error(waitErr))
		}
	case <-time.After(gracePeriod):
		if err := cmd.Process.Kill(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session: killing child: %w", err))
		}
		<-exited
	}

	code, reason := closeReason(runErr)
	if err := s.ws.Close(code, reason); err != nil {
		// Close is best-effort; the peer may already be gone.
		s.log.Debug("closing websocket", zap.Error(err))
	}

	return errs
}

// attemptGracefulShutdown sends LSP shutdown then exit to the child's
// stdin directly (the session context is already cancelled, so the
// upstream loop is no longer forwarding client messages), then closes
// stdin so the child sees EOF even if it ignores exit. Once stdin is
// closed, a repeated call only logs the failed writes.
func (s *Session) attemptGracefulShutdown() {
	shutdown := []byte(`{"jsonrpc":"2.0","id":"teardown-shutdown","method":"shutdown"}`)
	exit := []byte(`{"jsonrpc":"2.0","method":"exit"}`)

	if err := framing.WriteMessage(s.stdin, shutdown); err != nil {
		s.log.Debug("writing shutdown to child", zap.Error(err))
	}
	if err := framing.WriteMessage(s.stdin, exit); err != nil {
		s.log.Debug("writing exit to child", zap.Error(err))
	}
	if closer, ok := s.stdin.(io.Closer); ok {
		_ = closer.Close()
	}
}
