// Package main provides a small chat room server demonstrating routes,
// hooks, broadcast and input interception over plain TCP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gsb"
	"github.com/cory-johannsen/gsb/config"
	"github.com/cory-johannsen/gsb/intercept"
	"github.com/cory-johannsen/gsb/lifecycle"
	"github.com/cory-johannsen/gsb/observability"
	"github.com/cory-johannsen/gsb/websocket"
)

const nickKey = "nick"

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty = built-in defaults")
	wsAddr := flag.String("ws", "", "optional WebSocket listen address, e.g. :8080")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	flag.Parse()

	ctx := context.Background()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	opts := []gsb.Option{}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		opts = append(opts, gsb.WithMetrics(observability.NewServerMetrics(registry)))
	}

	srv := gsb.NewServer(cfg.Listen, logger, opts...)
	registerCommands(srv)
	registerHooks(srv, logger)

	logger.Info("chatroom initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Listen.Addr()),
	)

	lc := lifecycle.New(logger)

	lc.Add("tcp", &lifecycle.FuncService{
		StartFn: func() error { return srv.ListenAndServe() },
		StopFn:  func() { srv.Stop() },
	})

	if *wsAddr != "" {
		lc.Add("websocket", &lifecycle.FuncService{
			StartFn: func() error {
				lis, err := websocket.Listen(*wsAddr, "/ws", logger)
				if err != nil {
					return err
				}
				return srv.Serve(lis)
			},
			StopFn: func() {
				// Stop on the tcp service closes every listener.
			},
		})
	}

	if registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
		lc.Add("metrics", &lifecycle.FuncService{
			StartFn: func() error {
				logger.Info("metrics endpoint listening", zap.String("addr", *metricsAddr))
				return metricsSrv.ListenAndServe()
			},
			StopFn: func() {
				shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			},
		})
	}

	if err := lc.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// nick returns the display name for a session, falling back to the remote
// address before the user has introduced themselves.
func nick(c *gsb.Caller) string {
	if c.Session != nil {
		if n := c.Session.GetString(nickKey); n != "" {
			return n
		}
	}
	return c.Conn.RemoteAddr().String()
}

func registerCommands(srv *gsb.Server) {
	router := srv.Router()

	router.MustRegister("say", func(c *gsb.Caller) error {
		if c.Args == "" {
			c.Notify("Say what?")
			return nil
		}
		c.Server().Broadcast(fmt.Sprintf("%s says: %s", nick(c), c.Args))
		return nil
	}, gsb.WithHelp("talk to the room", "say <message>"))

	router.MustRegister("emote", func(c *gsb.Caller) error {
		if c.Args == "" {
			c.Notify("Emote what?")
			return nil
		}
		c.Server().Broadcast(fmt.Sprintf("* %s %s", nick(c), c.Args))
		return nil
	}, gsb.WithAliases("me"), gsb.WithHelp("perform an action", "emote <action>"))

	router.MustRegister("nick", func(c *gsb.Caller) error {
		name := strings.TrimSpace(c.Args)
		if name == "" {
			c.Notify("Usage: nick <name>")
			return nil
		}
		old := nick(c)
		c.Session.Set(nickKey, name)
		c.Server().Broadcast(fmt.Sprintf("%s is now known as %s.", old, name))
		return nil
	}, gsb.WithHelp("change your name", "nick <name>"))

	router.MustRegister("who", func(c *gsb.Caller) error {
		conns := c.Server().Connections()
		names := make([]string, 0, len(conns))
		for _, conn := range conns {
			sess := conn.Session()
			if sess == nil {
				continue
			}
			if n := sess.GetString(nickKey); n != "" {
				names = append(names, n)
			}
		}
		c.Notify("%d connected: %s", len(names), strings.Join(names, ", "))
		return nil
	}, gsb.WithHelp("list connected users", "who"))

	router.MustRegister("help", func(c *gsb.Caller) error {
		for _, route := range c.Server().Router().Routes() {
			if route.Description == "" {
				continue
			}
			c.Notify("%-8s %s", route.Name, route.Description)
		}
		return nil
	}, gsb.WithHelp("show this help", "help"))

	router.MustRegister("quit", func(c *gsb.Caller) error {
		c.Notify("Goodbye!")
		return c.Conn.Close()
	}, gsb.WithHelp("disconnect", "quit"))

	// Bare text is chat, matching what people type first.
	if err := router.SetDefault(func(c *gsb.Caller) error {
		c.Server().Broadcast(fmt.Sprintf("%s says: %s", nick(c), c.Text))
		return nil
	}); err != nil {
		log.Fatalf("setting default route: %v", err)
	}

	must(router.Substitute('\'', "say"))
	must(router.Substitute(':', "emote"))
}

func registerHooks(srv *gsb.Server, logger *zap.Logger) {
	hooks := srv.Hooks()

	hooks.MustOn(gsb.EventConnect, func(c *gsb.Caller) error {
		c.Notify("Welcome to the chat room.")
		reader := intercept.NewReader("What is your name?", func(c *gsb.Caller, text string) {
			name := strings.TrimSpace(text)
			if name == "" {
				name = c.Conn.RemoteAddr().String()
			}
			c.Session.Set(nickKey, name)
			c.Session.SetAuthenticated(true)
			c.Server().Broadcast(fmt.Sprintf("%s has joined.", name), gsb.Except(c.Conn))
			c.Notify("Hello, %s. Type 'help' for commands.", name)
		})
		c.Conn.SetDispatcher(reader)
		return nil
	})

	hooks.MustOn(gsb.EventDisconnect, func(c *gsb.Caller) error {
		if c.Session != nil {
			if n := c.Session.GetString(nickKey); n != "" {
				c.Server().Broadcast(fmt.Sprintf("%s has left.", n), gsb.Except(c.Conn))
			}
		}
		return nil
	})

	hooks.MustOn(gsb.EventError, func(c *gsb.Caller) error {
		logger.Warn("connection error", zap.Error(c.Err))
		c.Notify("Something went wrong handling that.")
		return nil
	})
}

func must(err error) {
	if err != nil {
		log.Fatalf("registering substitution: %v", err)
	}
}
