package gsb

import (
	"errors"
	"fmt"
)

// ErrSkipCommand may be returned by a before-command hook to veto the
// current line. The line is dropped silently; neither the dispatcher nor
// the after-command hook runs for a vetoed line.
var ErrSkipCommand = errors.New("gsb: skip command")

// ErrServing is returned by registration calls made after serving has
// started. The route and hook tables are read-only once the loop runs.
var ErrServing = errors.New("gsb: registration table is frozen while serving")

// ErrConnClosed is returned by writes to a connection that has begun
// closing or is already closed.
var ErrConnClosed = errors.New("gsb: connection closed")

// TransportError wraps a socket-level failure. The connection is forcibly
// driven to Closing/Closed and the disconnect hook fires; other connections
// never see it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LineTooLongError reports an inbound line exceeding the configured
// maximum. The offending line is discarded and the connection stays open.
type LineTooLongError struct {
	Limit int
}

func (e *LineTooLongError) Error() string {
	return fmt.Sprintf("line exceeds maximum length of %d bytes", e.Limit)
}

// UnhandledCommandError reports a line no route matched. It is delivered to
// the unhandled-command hook; it is not an error to the connection.
type UnhandledCommandError struct {
	Line string
	Verb string
}

func (e *UnhandledCommandError) Error() string {
	return fmt.Sprintf("no route matched command %q", e.Verb)
}

// HandlerFailureError wraps an error returned, or a panic raised, by
// application handler code. It is caught at the router boundary and
// reported through the error hook; the connection keeps processing
// subsequent lines.
type HandlerFailureError struct {
	Route string
	Err   error
}

func (e *HandlerFailureError) Error() string {
	return fmt.Sprintf("handler for route %q failed: %v", e.Route, e.Err)
}

func (e *HandlerFailureError) Unwrap() error { return e.Err }

// CapacityError reports a transport rejected at the listener because the
// concurrent-connection limit was reached. No session is ever created for
// a rejected transport.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("server at capacity: connection limit of %d reached", e.Limit)
}
