package gsb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gsb/config"
	"github.com/cory-johannsen/gsb/observability"
	"github.com/cory-johannsen/gsb/telnet"
)

// Server is the process-wide registry owning the router, the hook registry
// and the set of live connections. Routes and hooks are registered before
// Serve; both tables freeze once serving begins.
//
// Each accepted transport gets a reader goroutine that extracts lines and
// dispatches them strictly in arrival order, and a writer goroutine that
// flushes the outbound queue. Different connections proceed concurrently;
// a slow handler on one never stalls the others.
type Server struct {
	cfg     config.ListenConfig
	logger  *zap.Logger
	router  *Router
	hooks   *Hooks
	metrics *observability.ServerMetrics
	filter  LineFilter

	mu        sync.Mutex
	conns     map[uuid.UUID]*Conn
	listeners []net.Listener
	serving   bool
	stopped   bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// Option customizes a Server at construction time.
type Option func(*Server)

// WithMetrics attaches a Prometheus metric set to the server.
func WithMetrics(m *observability.ServerMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLineFilter replaces the default out-of-band filter (telnet IAC
// stripping). Pass nil to disable filtering entirely.
func WithLineFilter(f LineFilter) Option {
	return func(s *Server) { s.filter = f }
}

// NewServer creates a Server with an empty route table and hook registry.
//
// Precondition: logger must be non-nil; cfg should come from config.Load
// or config.Default so its invariants hold.
func NewServer(cfg config.ListenConfig, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: NewRouter(),
		hooks:  NewHooks(),
		filter: telnet.StripIAC,
		conns:  make(map[uuid.UUID]*Conn),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the server's route table for registration.
func (s *Server) Router() *Router { return s.router }

// Hooks returns the server's hook registry for registration.
func (s *Server) Hooks() *Hooks { return s.hooks }

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Connections returns a snapshot of the live connections. The snapshot is
// safe to iterate while connections come and go.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Addr returns the actual listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) > 0 {
		return s.listeners[0].Addr().String()
	}
	return ""
}

// ListenAndServe opens a TCP listener on the configured address and serves
// until Stop is called or the listener fails.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Serve accepts connections from lis until Stop is called or an
// unrecoverable listener failure occurs. The route and hook tables freeze
// before the first accept. Blocks for the lifetime of the listener.
//
// Serve may be called concurrently with distinct listeners; all accepted
// connections share the same route table, hooks and broadcast domain.
func (s *Server) Serve(lis net.Listener) error {
	start := time.Now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("serve on stopped server")
	}
	first := !s.serving
	s.serving = true
	s.listeners = append(s.listeners, lis)
	s.mu.Unlock()

	if first {
		s.router.freeze()
		s.hooks.freeze()
	}

	s.logger.Info("server listening",
		zap.String("addr", lis.Addr().String()),
		zap.Int("routes", len(s.router.Routes())),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		transport, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		conn, ok := s.admit(transport)
		if !ok {
			s.reject(transport)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// admit registers a new connection, enforcing the concurrent-connection
// limit atomically with the insertion. No session is created for a
// transport that does not fit.
func (s *Server) admit(transport net.Conn) (*Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	if max := s.cfg.MaxConnections; max > 0 && len(s.conns) >= max {
		return nil, false
	}
	c := newConn(s, transport)
	s.conns[c.id] = c
	return c, true
}

// reject closes an over-capacity transport after a best-effort notice. No
// session exists for the transport, so the error goes to the log and the
// peer rather than the error hook.
func (s *Server) reject(transport net.Conn) {
	capErr := &CapacityError{Limit: s.cfg.MaxConnections}
	s.metrics.IncConnectionsRejected()
	s.logger.Warn("connection rejected",
		zap.String("remote_addr", transport.RemoteAddr().String()),
		zap.Error(capErr),
	)
	_ = transport.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = transport.Write([]byte(capErr.Error() + s.cfg.Terminator()))
	_ = transport.Close()
}

// removeConn drops a connection from the live set.
func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.metrics.DecConnectionsActive()
}

// serveConn runs one connection: connect hook, writer goroutine, then the
// read-dispatch loop until the transport fails or the connection closes.
func (s *Server) serveConn(c *Conn) {
	defer s.wg.Done()
	start := time.Now()

	s.metrics.IncConnectionsActive()
	c.logger.Info("connection accepted")

	go c.writeLoop()

	caller := &Caller{Conn: c, Session: c.Session()}
	if err := s.hooks.Fire(EventConnect, caller); err != nil {
		s.logger.Warn("connect hook failed", zap.Error(err))
	}
	c.state.advance(StateActive)

	s.readLoop(c)

	c.finalize()
	<-c.writerDone

	c.logger.Info("connection finished",
		zap.Duration("duration", time.Since(start)),
	)
}

// readLoop extracts complete lines and dispatches them one at a time. A
// handler for line N completes before line N+1 is read, preserving strict
// per-connection ordering. When the connection's outbound queue exceeds
// the backpressure ceiling the loop pauses before reading further input;
// buffered bytes are never lost or duplicated.
func (s *Server) readLoop(c *Conn) {
	br := bufio.NewReaderSize(c.transport, 4096)

	for {
		if c.State() >= StateClosing {
			return
		}

		c.out.waitBelowLimit()

		line, err := c.readLine(br, s.cfg.MaxLineLength)
		if errors.Is(err, errLineTooLong) {
			s.metrics.IncLinesDropped()
			s.reportError(c, &LineTooLongError{Limit: s.cfg.MaxLineLength})
			continue
		}
		if err != nil {
			// EOF and reads racing a local close are the normal ways
			// out of the loop; anything else is a transport fault.
			var terr *TransportError
			if errors.As(err, &terr) &&
				!errors.Is(terr.Err, io.EOF) &&
				!errors.Is(terr.Err, net.ErrClosed) &&
				c.State() < StateClosing {
				c.logger.Debug("transport read failed", zap.Error(err))
				s.reportError(c, terr)
			}
			return
		}

		s.dispatchLine(c, line)
	}
}

// dispatchLine feeds one resolved line through the hook and dispatch path:
// before-command hook (which may veto), the connection's dispatcher, error
// or unhandled-command reporting, then the after-command hook.
func (s *Server) dispatchLine(c *Conn, line string) {
	s.metrics.IncLinesDispatched()

	caller := &Caller{Conn: c, Session: c.Session(), Text: line}

	if err := s.hooks.Fire(EventBeforeCommand, caller); err != nil {
		if errors.Is(err, ErrSkipCommand) {
			return
		}
		s.logger.Warn("before-command hook failed", zap.Error(err))
	}

	err := c.Dispatcher().HandleLine(caller)

	var unhandled *UnhandledCommandError
	var failure *HandlerFailureError
	switch {
	case err == nil:
	case errors.As(err, &unhandled):
		s.metrics.IncUnhandledCommands()
		caller.Err = unhandled
		if s.hooks.Count(EventUnhandledCommand) > 0 {
			if herr := s.hooks.Fire(EventUnhandledCommand, caller); herr != nil {
				s.logger.Warn("unhandled-command hook failed", zap.Error(herr))
			}
		} else {
			c.logger.Debug("unhandled command", zap.String("verb", unhandled.Verb))
		}
	case errors.As(err, &failure):
		s.metrics.IncHandlerFailures()
		c.logger.Warn("handler failed",
			zap.String("route", failure.Route),
			zap.Error(failure.Err),
		)
		s.reportError(c, failure)
	default:
		s.reportError(c, err)
	}

	if err := s.hooks.Fire(EventAfterCommand, caller); err != nil && !errors.Is(err, ErrSkipCommand) {
		s.logger.Warn("after-command hook failed", zap.Error(err))
	}
}

// reportError delivers a condition to the error hook.
func (s *Server) reportError(c *Conn, err error) {
	caller := &Caller{Conn: c, Session: c.Session(), Err: err}
	if herr := s.hooks.Fire(EventError, caller); herr != nil {
		s.logger.Warn("error hook failed", zap.Error(herr))
	}
}

// Stop closes every listener and drives every live connection through
// Closing to Closed. Pending output gets a best-effort flush bounded by
// the shutdown timeout; a slow peer cannot deadlock shutdown.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	listeners := make([]net.Listener, len(s.listeners))
	copy(listeners, s.listeners)
	snapshot := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	close(s.quit)
	for _, lis := range listeners {
		_ = lis.Close()
	}

	for _, c := range snapshot {
		c.shutdown(s.cfg.ShutdownTimeout)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout + time.Second):
		s.logger.Warn("shutdown timed out waiting for connections")
	}

	s.logger.Info("server stopped")
}
