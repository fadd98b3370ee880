package gsb

// Caller carries the context of a command invocation or lifecycle event to
// handlers and hooks. For lifecycle events that have no input line, Text,
// Verb and Args are empty. For error hooks, Err holds the condition being
// reported.
type Caller struct {
	// Conn is the connection that initiated the action.
	Conn *Conn
	// Session is the connection's session. Shorthand for Conn.Session().
	Session *Session
	// Text is the full input line after out-of-band filtering and
	// substitution expansion.
	Text string
	// Verb is the command word extracted from Text.
	Verb string
	// Args is the remainder of Text after the verb.
	Args string
	// Route is the matched route, set once resolution succeeds.
	Route *Route
	// Err is the reported condition when this caller is passed to the
	// error or unhandled-command hooks.
	Err error
}

// Notify sends a formatted line of text to the calling connection. Safe to
// call with a nil connection (server-level events), in which case it is a
// no-op.
func (c *Caller) Notify(format string, args ...interface{}) {
	if c.Conn != nil {
		c.Conn.Notify(format, args...)
	}
}

// Server returns the server the calling connection belongs to, or nil for
// a caller without a connection.
func (c *Caller) Server() *Server {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.server
}
