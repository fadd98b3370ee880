package gsb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Event identifies a lifecycle hook point.
type Event string

// Recognized hook events.
const (
	// EventConnect fires once a new connection and its session exist,
	// before any input is read.
	EventConnect Event = "connect"
	// EventDisconnect fires exactly once when a connection closes.
	EventDisconnect Event = "disconnect"
	// EventBeforeCommand fires before each line is dispatched. A hook
	// returning ErrSkipCommand vetoes dispatch of that line.
	EventBeforeCommand Event = "before_command"
	// EventAfterCommand fires after each dispatched line, whether or not
	// the handler succeeded.
	EventAfterCommand Event = "after_command"
	// EventError fires for reported conditions: transport failures,
	// over-length lines, handler failures. Caller.Err holds the condition.
	EventError Event = "error"
	// EventUnhandledCommand fires when no route matched and no default
	// handler is configured.
	EventUnhandledCommand Event = "unhandled_command"
)

var knownEvents = map[Event]bool{
	EventConnect:          true,
	EventDisconnect:       true,
	EventBeforeCommand:    true,
	EventAfterCommand:     true,
	EventError:            true,
	EventUnhandledCommand: true,
}

// HookFunc is a lifecycle callback. Errors other than ErrSkipCommand are
// logged by the server; they never terminate the connection.
type HookFunc func(*Caller) error

type hookEntry struct {
	priority int
	seq      int
	fn       HookFunc
}

// Hooks is the registry of named lifecycle callbacks. Multiple hooks per
// event run in priority order (higher first), ties broken by registration
// order. Like the route table, it is frozen once serving begins.
type Hooks struct {
	mu      sync.RWMutex
	table   map[Event][]hookEntry
	frozen  bool
	nextSeq int
}

// NewHooks creates an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{table: make(map[Event][]hookEntry)}
}

// On registers fn for event at the default priority 0.
func (h *Hooks) On(event Event, fn HookFunc) error {
	return h.OnPriority(event, 0, fn)
}

// OnPriority registers fn for event with an explicit priority.
//
// Precondition: event must be one of the recognized Event constants; fn
// must be non-nil.
func (h *Hooks) OnPriority(event Event, priority int, fn HookFunc) error {
	if !knownEvents[event] {
		return fmt.Errorf("registering hook: unknown event %q", event)
	}
	if fn == nil {
		return fmt.Errorf("registering hook for %q: fn must not be nil", event)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.frozen {
		return ErrServing
	}

	entries := append(h.table[event], hookEntry{priority: priority, seq: h.nextSeq, fn: fn})
	h.nextSeq++
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})
	h.table[event] = entries
	return nil
}

// MustOn is On that panics on error, for startup wiring.
func (h *Hooks) MustOn(event Event, fn HookFunc) {
	if err := h.On(event, fn); err != nil {
		panic(err)
	}
}

// Fire runs every hook registered for event in order. It stops at the
// first hook returning a non-nil error and returns that error; for
// EventBeforeCommand a returned ErrSkipCommand is the veto signal.
func (h *Hooks) Fire(event Event, c *Caller) error {
	h.mu.RLock()
	entries := h.table[event]
	h.mu.RUnlock()

	for _, e := range entries {
		if err := e.fn(c); err != nil {
			if errors.Is(err, ErrSkipCommand) {
				return ErrSkipCommand
			}
			return fmt.Errorf("%s hook: %w", event, err)
		}
	}
	return nil
}

// Count returns the number of hooks registered for event.
func (h *Hooks) Count(event Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.table[event])
}

// freeze marks the registry read-only. Called by the server before serving.
func (h *Hooks) freeze() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frozen = true
}
