package gsb

import "sync"

// Session holds per-connection mutable application state. One Session
// exists per Conn for the Conn's entire lifetime and is never shared.
//
// Reserved fields (room membership and the authentication flag) are used
// by routing predicates and broadcast selection; everything else is
// application-defined key/value data the framework does not interpret.
//
// Mutation happens only on the owning connection's dispatch goroutine;
// accessors are still guarded so broadcast predicates evaluated from other
// goroutines read consistent values.
type Session struct {
	conn *Conn

	mu            sync.RWMutex
	room          string
	authenticated bool
	attrs         map[string]interface{}
}

func newSession(conn *Conn) *Session {
	return &Session{
		conn:  conn,
		attrs: make(map[string]interface{}),
	}
}

// Conn returns the owning connection.
func (s *Session) Conn() *Conn { return s.conn }

// Room returns the session's current room or group membership.
func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// SetRoom moves the session to the named room or group.
func (s *Session) SetRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
}

// Authenticated reports whether the session has been marked authenticated.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// SetAuthenticated flips the session's authentication flag.
func (s *Session) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
}

// Get returns the application-defined attribute for key.
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attrs[key]
	return v, ok
}

// GetString returns the attribute for key as a string, or "" when unset or
// of another type.
func (s *Session) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Set stores an application-defined attribute.
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = make(map[string]interface{})
	}
	s.attrs[key] = value
}

// Delete removes an application-defined attribute.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attrs, key)
}
