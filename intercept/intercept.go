// Package intercept provides input capture for gsb connections: a
// dispatcher temporarily installed on a connection to consume lines that
// would otherwise go through the router. Menu presents a numbered choice
// list; Reader collects one line or a multi-line block. Both restore the
// previous dispatcher when they finish or when the user aborts.
package intercept

import (
	"github.com/cory-johannsen/gsb"
)

// Defaults for the abort protocol.
const (
	DefaultAbortCommand = "@abort"
	DefaultAbortedText  = "Aborted."
)

// Intercept is the common base for input-capturing dispatchers. It records
// the dispatcher it replaced and implements the abort command. Embedders
// call tryAbort from their HandleLine and finish when done.
type Intercept struct {
	// AbortCommand aborts the capture (default "@abort").
	AbortCommand string
	// Aborted is sent on a successful abort (default "Aborted.").
	Aborted string
	// NoAbort, when non-empty, refuses aborts with this message.
	NoAbort string

	restore gsb.Dispatcher
}

// OnAttach records the dispatcher being replaced so it can be restored.
func (i *Intercept) OnAttach(conn *gsb.Conn, prev gsb.Dispatcher) {
	if i.restore == nil {
		i.restore = prev
	}
}

// abortCommand returns the configured or default abort command.
func (i *Intercept) abortCommand() string {
	if i.AbortCommand == "" {
		return DefaultAbortCommand
	}
	return i.AbortCommand
}

// tryAbort handles the abort command. Reports whether the line was
// consumed.
func (i *Intercept) tryAbort(c *gsb.Caller) bool {
	if c.Text != i.abortCommand() {
		return false
	}
	if i.NoAbort != "" {
		c.Notify(i.NoAbort)
		return true
	}
	aborted := i.Aborted
	if aborted == "" {
		aborted = DefaultAbortedText
	}
	c.Notify(aborted)
	i.finish(c.Conn)
	return true
}

// finish restores the dispatcher this intercept replaced. A nil restore
// falls back to the server's router.
func (i *Intercept) finish(conn *gsb.Conn) {
	conn.SetDispatcher(i.restore)
}
