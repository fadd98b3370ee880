package gsb

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/gsb/config"
	"github.com/cory-johannsen/gsb/internal/testutil"
	"github.com/cory-johannsen/gsb/telnet"
)

const readWait = 5 * time.Second

func testListenConfig() config.ListenConfig {
	cfg := config.Default().Listen
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

// startServer builds a server, lets the caller register routes and hooks,
// then serves on an ephemeral port. Returns the server and its address.
func startServer(t *testing.T, cfg config.ListenConfig, setup func(*Server)) (*Server, string) {
	t.Helper()

	srv := NewServer(cfg, zaptest.NewLogger(t))
	if setup != nil {
		setup(srv)
	}

	lis, err := net.Listen("tcp", cfg.Addr())
	require.NoError(t, err)

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	return srv, lis.Addr().String()
}

func TestServeEchoCommand(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("echo", func(c *Caller) error {
			c.Notify("you said: %s", c.Args)
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("echo hello world")
	out := client.ReadUntil("you said: hello world", readWait)
	assert.Contains(t, out, "you said: hello world")
}

func TestServePerConnectionOrdering(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("count", func(c *Caller) error {
			c.Notify("reply %s", c.Args)
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	for i := 0; i < 20; i++ {
		client.Send(fmt.Sprintf("count %d", i))
	}

	out := client.ReadUntil("reply 19", readWait)
	last := -1
	for i := 0; i < 20; i++ {
		idx := strings.Index(out, fmt.Sprintf("reply %d\r\n", i))
		require.GreaterOrEqual(t, idx, 0, "missing reply %d", i)
		assert.Greater(t, idx, last, "reply %d arrived out of order", i)
		last = idx
	}
}

func TestServeConnectAndDisconnectHooks(t *testing.T) {
	disconnected := make(chan struct{})
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Hooks().MustOn(EventConnect, func(c *Caller) error {
			c.Notify("welcome")
			return nil
		})
		srv.Hooks().MustOn(EventDisconnect, func(c *Caller) error {
			close(disconnected)
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.ReadUntil("welcome", readWait)
	client.Close()

	select {
	case <-disconnected:
	case <-time.After(readWait):
		t.Fatal("disconnect hook did not fire")
	}
}

func TestServeQuitCommandClosesConnection(t *testing.T) {
	srv, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("quit", func(c *Caller) error {
			c.Notify("goodbye")
			return c.Conn.Close()
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("quit")
	out := client.ReadUntil("goodbye", readWait)
	assert.Contains(t, out, "goodbye")

	require.Eventually(t, func() bool {
		return srv.ConnCount() == 0
	}, readWait, 10*time.Millisecond)
}

func TestServeBeforeCommandVeto(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Hooks().MustOn(EventBeforeCommand, func(c *Caller) error {
			if strings.HasPrefix(c.Text, "forbidden") {
				return ErrSkipCommand
			}
			return nil
		})
		srv.Router().MustRegister("forbidden", func(c *Caller) error {
			c.Notify("should never run")
			return nil
		})
		srv.Router().MustRegister("allowed", func(c *Caller) error {
			c.Notify("ran fine")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("forbidden")
	client.Send("allowed")
	out := client.ReadUntil("ran fine", readWait)
	assert.NotContains(t, out, "should never run")
}

func TestServeVetoSkipsAfterCommandHook(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Hooks().MustOn(EventBeforeCommand, func(c *Caller) error {
			if strings.HasPrefix(c.Text, "forbidden") {
				return ErrSkipCommand
			}
			return nil
		})
		srv.Hooks().MustOn(EventAfterCommand, func(c *Caller) error {
			c.Notify("after: %s", c.Text)
			return nil
		})
		srv.Router().MustRegister("forbidden", func(*Caller) error { return nil })
		srv.Router().MustRegister("allowed", func(*Caller) error { return nil })
	})

	client := testutil.Dial(t, addr)
	client.Send("forbidden")
	client.Send("allowed")

	// Per-connection ordering: had the vetoed line reached the
	// after-command hook, its echo would precede the allowed one.
	out := client.ReadUntil("after: allowed", readWait)
	assert.NotContains(t, out, "after: forbidden")
}

func TestServeUnhandledCommandHook(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Hooks().MustOn(EventUnhandledCommand, func(c *Caller) error {
			c.Notify("unknown command: %s", c.Verb)
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("flail about")
	out := client.ReadUntil("unknown command: flail", readWait)
	assert.Contains(t, out, "unknown command: flail")
}

func TestServeHandlerErrorKeepsConnection(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("explode", func(*Caller) error {
			return fmt.Errorf("internal fault")
		})
		srv.Router().MustRegister("ping", func(c *Caller) error {
			c.Notify("pong")
			return nil
		})
		srv.Hooks().MustOn(EventError, func(c *Caller) error {
			c.Notify("that did not work")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("explode")
	client.ReadUntil("that did not work", readWait)

	client.Send("ping")
	out := client.ReadUntil("pong", readWait)
	assert.Contains(t, out, "pong")
}

func TestServeHandlerPanicKeepsConnection(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("explode", func(*Caller) error {
			panic("kaboom")
		})
		srv.Router().MustRegister("ping", func(c *Caller) error {
			c.Notify("pong")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("explode")
	client.Send("ping")
	out := client.ReadUntil("pong", readWait)
	assert.Contains(t, out, "pong")
}

func TestServeLineTooLongKeepsConnection(t *testing.T) {
	cfg := testListenConfig()
	cfg.MaxLineLength = 16
	_, addr := startServer(t, cfg, func(srv *Server) {
		srv.Router().MustRegister("ping", func(c *Caller) error {
			c.Notify("pong")
			return nil
		})
		srv.Hooks().MustOn(EventError, func(c *Caller) error {
			c.Notify("line too long")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send(strings.Repeat("x", 200))
	client.ReadUntil("line too long", readWait)

	client.Send("ping")
	out := client.ReadUntil("pong", readWait)
	assert.Contains(t, out, "pong")
}

func TestServeCapacityRejection(t *testing.T) {
	cfg := testListenConfig()
	cfg.MaxConnections = 1
	srv, addr := startServer(t, cfg, func(srv *Server) {
		srv.Hooks().MustOn(EventConnect, func(c *Caller) error {
			c.Notify("welcome")
			return nil
		})
	})

	first := testutil.Dial(t, addr)
	first.ReadUntil("welcome", readWait)
	require.Equal(t, 1, srv.ConnCount())

	second := testutil.Dial(t, addr)
	out := second.ReadUntil("capacity", readWait)
	assert.Contains(t, out, (&CapacityError{Limit: 1}).Error())

	// The admitted connection is unaffected.
	require.Equal(t, 1, srv.ConnCount())
}

func TestServeTelnetNegotiationStripped(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("echo", func(c *Caller) error {
			c.Notify("you said: %s", c.Args)
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.SendRaw([]byte{255, 253, 3}) // IAC DO SUPPRESS-GO-AHEAD
	client.Send("echo clean")
	out := client.ReadUntil("you said: clean", readWait)
	assert.Contains(t, out, "you said: clean")
}

func TestServeBackpressureSuspendsDispatch(t *testing.T) {
	cfg := testListenConfig()
	cfg.WriteBufferLimit = 1024

	var mu sync.Mutex
	var marks []string
	srv, addr := startServer(t, cfg, func(srv *Server) {
		srv.Router().MustRegister("flood", func(c *Caller) error {
			payload := strings.Repeat("x", 4096)
			for i := 0; i < 4096; i++ {
				c.Notify("%s", payload)
			}
			return nil
		})
		srv.Router().MustRegister("mark", func(c *Caller) error {
			mu.Lock()
			marks = append(marks, c.Args)
			mu.Unlock()
			c.Notify("ack %s", c.Args)
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("flood")
	for i := 1; i <= 20; i++ {
		client.Send(fmt.Sprintf("mark %d", i))
	}

	// With the client not reading, the flood output stays queued far above
	// the ceiling.
	require.Eventually(t, func() bool {
		conns := srv.Connections()
		return len(conns) == 1 && conns[0].PendingOutput() > cfg.WriteBufferLimit
	}, readWait, 10*time.Millisecond)

	// The reader must not dispatch buffered input while over the ceiling.
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	dispatched := len(marks)
	mu.Unlock()
	assert.Zero(t, dispatched, "lines dispatched while over the backpressure ceiling")

	// Draining the output resumes dispatch with no loss or duplication.
	client.ReadUntil("ack 20", 2*readWait)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, marks, 20)
	for i, arg := range marks {
		assert.Equal(t, fmt.Sprintf("%d", i+1), arg, "line %d out of order", i+1)
	}
}

func TestServeNegotiationOnConnect(t *testing.T) {
	_, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Hooks().MustOn(EventConnect, func(c *Caller) error {
			if _, err := c.Conn.Write(telnet.Negotiation); err != nil {
				return err
			}
			c.Notify("welcome")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	out := client.ReadUntil("welcome", readWait)
	assert.True(t, strings.HasPrefix(out, string(telnet.Negotiation)),
		"negotiation bytes must precede the greeting")
}

func TestStopFlushesAndCloses(t *testing.T) {
	srv, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("ping", func(c *Caller) error {
			c.Notify("pong")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("ping")
	client.ReadUntil("pong", readWait)

	srv.Stop()

	require.Eventually(t, func() bool {
		return srv.ConnCount() == 0
	}, readWait, 10*time.Millisecond)

	// New connections are refused once stopped.
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1)
		_, rerr := conn.Read(buf)
		assert.Error(t, rerr)
		_ = conn.Close()
	}
}

func TestStopIdempotent(t *testing.T) {
	srv, _ := startServer(t, testListenConfig(), nil)
	srv.Stop()
	srv.Stop()
}

func TestServeTwoListeners(t *testing.T) {
	srv, addr := startServer(t, testListenConfig(), func(srv *Server) {
		srv.Router().MustRegister("ping", func(c *Caller) error {
			c.Notify("pong")
			return nil
		})
	})

	extra, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.Serve(extra)
	}()

	for _, target := range []string{addr, extra.Addr().String()} {
		client := testutil.Dial(t, target)
		client.Send("ping")
		out := client.ReadUntil("pong", readWait)
		assert.Contains(t, out, "pong")
	}
}

func TestLineTerminatorLF(t *testing.T) {
	cfg := testListenConfig()
	cfg.LineTerminator = "lf"
	_, addr := startServer(t, cfg, func(srv *Server) {
		srv.Router().MustRegister("ping", func(c *Caller) error {
			c.Notify("pong")
			return nil
		})
	})

	client := testutil.Dial(t, addr)
	client.Send("ping")
	out := client.ReadUntil("pong\n", readWait)
	assert.NotContains(t, out, "\r")
}
