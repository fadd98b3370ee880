// Package websocket adapts WebSocket clients to the framework's stream
// transport: Listener implements net.Listener by upgrading HTTP requests
// and presenting each WebSocket as a net.Conn, so a gsb server can serve
// browser clients with the same line protocol it speaks over raw TCP.
package websocket

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("websocket: listener closed")

// Listener accepts WebSocket connections upgraded from an embedded HTTP
// server and hands them out as net.Conn values.
type Listener struct {
	server   *http.Server
	lis      net.Listener
	logger   *zap.Logger
	upgrader websocket.Upgrader

	conns     chan net.Conn
	quit      chan struct{}
	closeOnce sync.Once
}

// Listen binds addr and serves WebSocket upgrades on pattern (e.g. "/ws").
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Listener ready for Accept, or an error if the
// address cannot be bound.
func Listen(addr, pattern string, logger *zap.Logger) (*Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	l := &Listener{
		lis:    lis,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Line-protocol servers are not browsers' same-origin
			// territory; the application gates access itself.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(chan net.Conn),
		quit:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(pattern, l.handleUpgrade)
	l.server = &http.Server{Handler: mux}

	go func() {
		if serr := l.server.Serve(lis); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("websocket http server failed", zap.Error(serr))
		}
	}()

	logger.Info("websocket listener ready",
		zap.String("addr", lis.Addr().String()),
		zap.String("pattern", pattern),
	)
	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	select {
	case l.conns <- newWSConn(ws):
	case <-l.quit:
		_ = ws.Close()
	}
}

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.quit:
		return nil, ErrListenerClosed
	}
}

// Close implements net.Listener.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.quit)
		err = l.server.Close()
	})
	return err
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr {
	return l.lis.Addr()
}

// wsConn presents one WebSocket as a byte-stream net.Conn: reads drain
// text/binary messages in order, writes emit one text message per call.
type wsConn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	current interface{ Read([]byte) (int, error) }
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

// Read implements net.Conn.
func (c *wsConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.current == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, translateClose(err)
			}
			c.current = r
		}
		n, err := c.current.Read(p)
		if err != nil {
			// Message exhausted; move to the next frame.
			c.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, nil
	}
}

// Write implements net.Conn. Each call becomes one text message.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, translateClose(err)
	}
	return len(p), nil
}

// Close implements net.Conn.
func (c *wsConn) Close() error { return c.ws.Close() }

// LocalAddr implements net.Conn.
func (c *wsConn) LocalAddr() net.Addr { return c.ws.LocalAddr() }

// RemoteAddr implements net.Conn.
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// SetDeadline implements net.Conn.
func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (c *wsConn) SetReadDeadline(t time.Time) error { return c.ws.SetReadDeadline(t) }

// SetWriteDeadline implements net.Conn.
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// translateClose maps WebSocket close frames onto io.EOF-style stream
// termination so the server's read loop treats them as a peer close.
func translateClose(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return net.ErrClosed
	}
	return err
}
