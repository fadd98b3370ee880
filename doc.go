// Package gsb is a framework for building line-oriented, connection-based
// multiplayer text servers (MUD-style games). Applications register command
// routes and lifecycle hooks the way a web framework registers URL
// handlers; the framework owns the listener, the per-connection line
// protocol, dispatch ordering, backpressure and broadcast fan-out.
//
// A minimal server:
//
//	cfg := config.Default()
//	srv := gsb.NewServer(cfg.Listen, logger)
//	srv.Router().MustRegister("look", func(c *gsb.Caller) error {
//		c.Notify("You are in a dark room.")
//		return nil
//	})
//	srv.Hooks().MustOn(gsb.EventConnect, func(c *gsb.Caller) error {
//		c.Notify("Welcome.")
//		return nil
//	})
//	_ = srv.ListenAndServe()
//
// All lines from one client are dispatched strictly in arrival order;
// different clients are served concurrently. Session state belongs to its
// connection's dispatch goroutine and cross-session effects go through
// Server.Broadcast, which enqueues and never blocks on a recipient.
package gsb
