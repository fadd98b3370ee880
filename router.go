package gsb

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HandlerFunc is an application command handler. A non-nil error is caught
// at the router boundary and reported as a HandlerFailureError through the
// error hook; it never crashes the serving loop.
type HandlerFunc func(*Caller) error

// Predicate gates a route on session state.
type Predicate func(*Session) bool

// Anyone is the predicate that always allows.
func Anyone(*Session) bool { return true }

// RequireAuth allows only authenticated sessions.
func RequireAuth(s *Session) bool { return s.Authenticated() }

// InRoom allows only sessions currently in the named room.
func InRoom(room string) Predicate {
	return func(s *Session) bool { return s.Room() == room }
}

// And combines predicates; all must pass.
func And(preds ...Predicate) Predicate {
	return func(s *Session) bool {
		for _, p := range preds {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// Or combines predicates; any may pass.
func Or(preds ...Predicate) Predicate {
	return func(s *Session) bool {
		for _, p := range preds {
			if p(s) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(s *Session) bool { return !p(s) }
}

// Dispatcher consumes complete input lines from a connection. The Router is
// the default dispatcher; packages like intercept install temporary ones to
// capture input (menus, multi-line readers).
type Dispatcher interface {
	HandleLine(c *Caller) error
}

// DispatcherAttacher is implemented by dispatchers that want to know when
// they are installed on a connection (e.g. to print a prompt).
type DispatcherAttacher interface {
	OnAttach(conn *Conn, prev Dispatcher)
}

// DispatcherDetacher is implemented by dispatchers that want to know when
// they are replaced on a connection.
type DispatcherDetacher interface {
	OnDetach(conn *Conn, next Dispatcher)
}

// Route is one entry in the Router's ordered table: a command pattern, an
// optional session predicate, a handler, and a priority. Routes are
// immutable once registered.
type Route struct {
	// Name is the canonical command verb, matched case-insensitively.
	Name string
	// Aliases are alternate verbs for this route.
	Aliases []string
	// Description is a one-line summary for help output.
	Description string
	// Help is the longer help text for help output.
	Help string
	// Priority orders matching: higher priorities are consulted first,
	// ties broken by registration order.
	Priority int
	// Predicate, when non-nil, must evaluate true against the current
	// session for the route to match.
	Predicate Predicate
	// Handler runs when the route matches.
	Handler HandlerFunc
	// AllowPrefix also matches any verb that is a prefix of Name
	// (e.g. "lo" for "look").
	AllowPrefix bool

	seq int
}

// Matches reports whether verb selects this route, ignoring the predicate.
func (r *Route) Matches(verb string) bool {
	if strings.EqualFold(verb, r.Name) {
		return true
	}
	for _, a := range r.Aliases {
		if strings.EqualFold(verb, a) {
			return true
		}
	}
	if r.AllowPrefix && verb != "" && len(verb) < len(r.Name) {
		return strings.EqualFold(verb, r.Name[:len(verb)])
	}
	return false
}

// allows reports whether the predicate (if any) passes for sess.
func (r *Route) allows(sess *Session) bool {
	return r.Predicate == nil || r.Predicate(sess)
}

// RouteOption customizes a route at registration time.
type RouteOption func(*Route)

// WithAliases adds alternate verbs.
func WithAliases(aliases ...string) RouteOption {
	return func(r *Route) { r.Aliases = append(r.Aliases, aliases...) }
}

// WithPredicate gates the route on session state.
func WithPredicate(p Predicate) RouteOption {
	return func(r *Route) { r.Predicate = p }
}

// WithPriority sets the route priority (default 0; higher wins).
func WithPriority(priority int) RouteOption {
	return func(r *Route) { r.Priority = priority }
}

// WithHelp attaches help metadata to the route.
func WithHelp(description, help string) RouteOption {
	return func(r *Route) {
		r.Description = description
		r.Help = help
	}
}

// WithPrefixMatch lets abbreviated verbs select the route.
func WithPrefixMatch() RouteOption {
	return func(r *Route) { r.AllowPrefix = true }
}

// Router maps input lines to handlers. Routes are registered before the
// server starts; the table is frozen and read-only once serving begins.
type Router struct {
	mu             sync.RWMutex
	routes         []*Route
	substitutions  map[rune]string
	defaultHandler HandlerFunc
	separator      string
	frozen         bool
	nextSeq        int
}

// NewRouter creates an empty Router with the default verb separator (space).
func NewRouter() *Router {
	return &Router{
		substitutions: make(map[rune]string),
		separator:     " ",
	}
}

// Register adds a route for the given verb. Returns the created route, or
// ErrServing if called after serving has started.
//
// Precondition: name must be non-empty; handler must be non-nil.
func (r *Router) Register(name string, handler HandlerFunc, opts ...RouteOption) (*Route, error) {
	if name == "" {
		return nil, fmt.Errorf("registering route: name must not be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("registering route %q: handler must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, ErrServing
	}

	rt := &Route{Name: name, Handler: handler, seq: r.nextSeq}
	r.nextSeq++
	for _, opt := range opts {
		opt(rt)
	}

	r.routes = append(r.routes, rt)
	// Keep the table in dispatch order: priority descending, then
	// registration order. The sort is stable so equal priorities retain
	// their registration sequence.
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].Priority > r.routes[j].Priority
	})
	return rt, nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Router) MustRegister(name string, handler HandlerFunc, opts ...RouteOption) *Route {
	rt, err := r.Register(name, handler, opts...)
	if err != nil {
		panic(err)
	}
	return rt
}

// Substitute maps a leading rune to a verb: an input line starting with
// short is rewritten as if the user had typed the verb followed by the
// separator (e.g. '\'' for "say").
func (r *Router) Substitute(short rune, verb string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrServing
	}
	r.substitutions[short] = verb
	return nil
}

// SetDefault installs the handler invoked when no route matches. Without
// one, unmatched lines are reported through the unhandled-command hook.
func (r *Router) SetDefault(handler HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrServing
	}
	r.defaultHandler = handler
	return nil
}

// Routes returns the route table in dispatch order. Applications use this
// to build help commands.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// freeze marks the table read-only. Called by the server before serving.
func (r *Router) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Split divides a line into verb and argument remainder on the separator.
func (r *Router) Split(line string) (verb, args string) {
	verb, args, _ = strings.Cut(line, r.separator)
	return verb, args
}

// Resolve returns the first route matching verb whose predicate passes for
// sess, scanning in priority order with ties broken by registration order.
func (r *Router) Resolve(verb string, sess *Session) *Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.Matches(verb) && rt.allows(sess) {
			return rt
		}
	}
	return nil
}

// HandleLine implements Dispatcher: it normalizes the caller's line,
// resolves a route and runs its handler. Handler errors and panics are
// returned as *HandlerFailureError; unmatched lines without a default
// handler are returned as *UnhandledCommandError. Neither is ever allowed
// to propagate as a panic. Blank lines are dropped without dispatch.
func (r *Router) HandleLine(c *Caller) error {
	line := strings.TrimSpace(c.Text)
	if line == "" {
		return nil
	}
	line = r.expandSubstitution(line)
	c.Text = line
	c.Verb, c.Args = r.Split(line)

	rt := r.Resolve(c.Verb, c.Session)
	if rt == nil {
		r.mu.RLock()
		def := r.defaultHandler
		r.mu.RUnlock()
		if def == nil {
			return &UnhandledCommandError{Line: line, Verb: c.Verb}
		}
		return r.invoke("", def, c)
	}

	c.Route = rt
	return r.invoke(rt.Name, rt.Handler, c)
}

// expandSubstitution rewrites a leading shortcut rune into its verb.
func (r *Router) expandSubstitution(line string) string {
	if line == "" {
		return line
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for short, verb := range r.substitutions {
		if strings.HasPrefix(line, string(short)) {
			return verb + r.separator + line[len(string(short)):]
		}
	}
	return line
}

// invoke runs a handler, converting error returns and panics into
// *HandlerFailureError.
func (r *Router) invoke(routeName string, handler HandlerFunc, c *Caller) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &HandlerFailureError{Route: routeName, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if herr := handler(c); herr != nil {
		return &HandlerFailureError{Route: routeName, Err: herr}
	}
	return nil
}
