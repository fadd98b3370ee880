package gsb

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConnState is the lifecycle state of a connection. Transitions only move
// forward: Open → Active → Closing → Closed.
type ConnState int32

const (
	// StateOpen is the state on accept, before the connect hook runs.
	StateOpen ConnState = iota
	// StateActive is the state once the connect hook has completed.
	StateActive
	// StateClosing is the state after a peer- or server-initiated close
	// request; pending output is flushed, no new input is dispatched.
	StateClosing
	// StateClosed is terminal: the transport is released and the session
	// detached. No transition occurs out of StateClosed.
	StateClosed
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LineFilter strips out-of-band control bytes from a raw inbound line
// before the text reaches dispatch. The default is telnet.StripIAC.
type LineFilter func([]byte) []byte

// errLineTooLong is the internal signal from readLine that the current
// line exceeded the limit and was discarded.
var errLineTooLong = errors.New("line too long")

// outQueue is a connection's outbound buffer: frames are enqueued without
// blocking and drained by the writer goroutine. The byte count drives
// backpressure on the reader.
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	bytes  int
	limit  int
	closed bool
}

func newOutQueue(limit int) *outQueue {
	q := &outQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends a frame. Never blocks. Returns false once closed.
func (q *outQueue) enqueue(p []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.frames = append(q.frames, p)
	q.bytes += len(p)
	q.cond.Broadcast()
	return true
}

// next blocks until a frame is available and pops it. Returns false when
// the queue is closed and fully drained.
func (q *outQueue) next() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return nil, false
	}
	frame := q.frames[0]
	q.frames = q.frames[1:]
	q.bytes -= len(frame)
	q.cond.Broadcast()
	return frame, true
}

// waitBelowLimit blocks while the pending byte count exceeds the
// backpressure ceiling. Returns immediately once the queue is closed.
func (q *outQueue) waitBelowLimit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.bytes > q.limit && !q.closed {
		q.cond.Wait()
	}
}

// close stops accepting frames; the writer drains what remains.
func (q *outQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// pending returns the queued byte count.
func (q *outQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}

// Conn adapts one client's byte-stream transport to the framework's
// line-oriented protocol. It owns the inbound line buffer and the outbound
// frame queue; all writes are enqueued and flushed by a dedicated writer
// goroutine so no handler or broadcast ever blocks on a slow peer.
type Conn struct {
	id        uuid.UUID
	transport net.Conn
	server    *Server
	logger    *zap.Logger

	sessMu  sync.RWMutex
	session *Session

	state atomicState

	dispMu     sync.Mutex
	dispatcher Dispatcher

	out        *outQueue
	terminator string

	readTimeout  time.Duration
	writeTimeout time.Duration
	filter       LineFilter

	disconnectOnce sync.Once
	writerDone     chan struct{}
}

// atomicState wraps the forward-only state machine.
type atomicState struct {
	mu sync.Mutex
	v  ConnState
}

func (a *atomicState) get() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// advance moves to s if s is a forward transition; reports whether it moved.
func (a *atomicState) advance(s ConnState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s <= a.v {
		return false
	}
	a.v = s
	return true
}

func newConn(server *Server, transport net.Conn) *Conn {
	c := &Conn{
		id:           uuid.New(),
		transport:    transport,
		server:       server,
		out:          newOutQueue(server.cfg.WriteBufferLimit),
		terminator:   server.cfg.Terminator(),
		readTimeout:  server.cfg.ReadTimeout,
		writeTimeout: server.cfg.WriteTimeout,
		filter:       server.filter,
		writerDone:   make(chan struct{}),
	}
	c.session = newSession(c)
	c.logger = server.logger.With(
		zap.String("conn_id", c.id.String()),
		zap.String("remote_addr", transport.RemoteAddr().String()),
	)
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// State returns the connection's lifecycle state.
func (c *Conn) State() ConnState { return c.state.get() }

// Server returns the owning server.
func (c *Conn) Server() *Server { return c.server }

// Session returns the connection's session, or nil once the connection has
// reached StateClosed.
func (c *Conn) Session() *Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.session
}

// Dispatcher returns the connection's current line dispatcher; by default
// the server's router.
func (c *Conn) Dispatcher() Dispatcher {
	c.dispMu.Lock()
	defer c.dispMu.Unlock()
	if c.dispatcher == nil {
		return c.server.router
	}
	return c.dispatcher
}

// SetDispatcher swaps the connection's line dispatcher, firing the detach
// callback on the old one and the attach callback on the new one. Passing
// nil restores the server's router.
func (c *Conn) SetDispatcher(d Dispatcher) {
	c.dispMu.Lock()
	old := c.dispatcher
	if old == nil {
		old = c.server.router
	}
	c.dispatcher = d
	c.dispMu.Unlock()

	next := d
	if next == nil {
		next = c.server.router
	}
	if det, ok := old.(DispatcherDetacher); ok && old != next {
		det.OnDetach(c, next)
	}
	if att, ok := next.(DispatcherAttacher); ok && old != next {
		att.OnAttach(c, old)
	}
}

// Notify sends a formatted line to the client. The arguments are formatted
// with fmt.Sprintf when present; the configured line terminator is
// appended. The write is queued, never synchronous.
func (c *Conn) Notify(format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	_ = c.WriteLine(text)
}

// WriteLine queues text plus the line terminator for delivery.
func (c *Conn) WriteLine(text string) error {
	return c.write([]byte(text + c.terminator))
}

// Write queues raw bytes for delivery. It implements io.Writer; the
// returned length is always len(p) on success.
func (c *Conn) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	if err := c.write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) write(frame []byte) error {
	if s := c.state.get(); s >= StateClosing {
		return ErrConnClosed
	}
	if !c.out.enqueue(frame) {
		return ErrConnClosed
	}
	return nil
}

// PendingOutput returns the number of outbound bytes queued but not yet
// flushed to the transport.
func (c *Conn) PendingOutput() int { return c.out.pending() }

// Close requests a graceful close: the connection enters StateClosing, no
// further input is dispatched, pending output is flushed by the writer and
// the transport is then released. Safe to call from handlers and hooks.
func (c *Conn) Close() error {
	c.beginClose()
	return nil
}

// beginClose drives the connection into StateClosing and stops the
// outbound queue. The writer goroutine closes the transport after the
// flush, which in turn unblocks the reader.
func (c *Conn) beginClose() {
	if c.state.advance(StateClosing) {
		c.out.close()
	}
}

// shutdown is beginClose with a hard bound: pending writes get at most
// timeout before the transport deadline cuts them off. Used by Server.Stop
// so a slow peer cannot stall shutdown.
func (c *Conn) shutdown(timeout time.Duration) {
	if timeout > 0 {
		_ = c.transport.SetWriteDeadline(time.Now().Add(timeout))
	}
	c.beginClose()
}

// writeLoop drains the outbound queue onto the transport. It is the only
// goroutine that writes to the transport. On exit it closes the transport,
// which unblocks the reader.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer func() { _ = c.transport.Close() }()

	for {
		frame, ok := c.out.next()
		if !ok {
			return
		}
		if c.writeTimeout > 0 {
			_ = c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if _, err := c.transport.Write(frame); err != nil {
			c.logger.Debug("outbound write failed", zap.Error(err))
			c.beginClose()
			return
		}
	}
}

// readLine extracts one complete line from the buffered transport. Lines
// end on '\n'; an immediately preceding '\r' is dropped. A line exceeding
// max bytes is discarded through its terminator and reported as
// errLineTooLong without closing the connection. The configured LineFilter
// strips out-of-band control bytes before the text is returned.
func (c *Conn) readLine(br *bufio.Reader, max int) (string, error) {
	if c.readTimeout > 0 {
		_ = c.transport.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	buf := make([]byte, 0, 64)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", &TransportError{Op: "read", Err: err}
		}
		if b == '\n' {
			break
		}
		if len(buf) >= max {
			// Discard the rest of the oversized line, then report.
			for {
				d, derr := br.ReadByte()
				if derr != nil {
					return "", &TransportError{Op: "read", Err: derr}
				}
				if d == '\n' {
					break
				}
			}
			return "", errLineTooLong
		}
		buf = append(buf, b)
	}

	if n := len(buf); n > 0 && buf[n-1] == '\r' {
		buf = buf[:n-1]
	}
	if c.filter != nil {
		buf = c.filter(buf)
	}
	return string(buf), nil
}

// finalize drives the connection to StateClosed: the disconnect hook fires
// exactly once, the connection leaves the server's set and the session is
// detached. Runs on the connection's reader goroutine.
func (c *Conn) finalize() {
	c.disconnectOnce.Do(func() {
		c.beginClose()

		sess := c.Session()
		_ = c.server.hooks.Fire(EventDisconnect, &Caller{Conn: c, Session: sess})

		c.server.removeConn(c)

		c.state.advance(StateClosed)
		c.sessMu.Lock()
		c.session = nil
		c.sessMu.Unlock()

		c.logger.Info("connection closed")
	})
}
