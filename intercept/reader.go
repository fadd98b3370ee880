package intercept

import (
	"strings"

	"github.com/cory-johannsen/gsb"
)

// Reader captures one line of input, or in multiline mode all lines until
// the done command (default ".") on its own, and passes the collected text
// to the Done callback after restoring the previous dispatcher.
type Reader struct {
	Intercept

	// Prompt is sent when the reader attaches, if non-empty.
	Prompt string
	// Multiline collects lines until DoneCommand instead of stopping
	// after the first.
	Multiline bool
	// DoneCommand finishes multiline entry (default ".").
	DoneCommand string
	// LineSeparator joins collected lines (default "\n").
	LineSeparator string
	// Done receives the collected text.
	Done func(c *gsb.Caller, text string)

	buffer []string
}

// NewReader creates a single-line Reader.
func NewReader(prompt string, done func(*gsb.Caller, string)) *Reader {
	return &Reader{Prompt: prompt, Done: done}
}

// OnAttach sends the prompt.
func (r *Reader) OnAttach(conn *gsb.Conn, prev gsb.Dispatcher) {
	r.Intercept.OnAttach(conn, prev)
	if r.Prompt != "" {
		conn.Notify("%s", r.Prompt)
	}
}

// HandleLine implements gsb.Dispatcher.
func (r *Reader) HandleLine(c *gsb.Caller) error {
	if r.tryAbort(c) {
		return nil
	}

	if !r.Multiline {
		r.finish(c.Conn)
		if r.Done != nil {
			r.Done(c, c.Text)
		}
		return nil
	}

	doneCmd := r.DoneCommand
	if doneCmd == "" {
		doneCmd = "."
	}
	if c.Text == doneCmd {
		sep := r.LineSeparator
		if sep == "" {
			sep = "\n"
		}
		text := strings.Join(r.buffer, sep)
		r.buffer = nil
		r.finish(c.Conn)
		if r.Done != nil {
			r.Done(c, text)
		}
		return nil
	}

	r.buffer = append(r.buffer, c.Text)
	return nil
}
