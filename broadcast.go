package gsb

import "github.com/google/uuid"

// broadcastTargets describes the recipient selection for one broadcast.
type broadcastTargets struct {
	room      string
	roomSet   bool
	predicate Predicate
	exclude   map[uuid.UUID]struct{}
}

// BroadcastOption narrows the recipients of a broadcast.
type BroadcastOption func(*broadcastTargets)

// ToRoom limits delivery to sessions in the named room.
func ToRoom(room string) BroadcastOption {
	return func(t *broadcastTargets) {
		t.room = room
		t.roomSet = true
	}
}

// Where limits delivery to sessions the predicate accepts.
func Where(p Predicate) BroadcastOption {
	return func(t *broadcastTargets) { t.predicate = p }
}

// Except skips the given connections, typically the sender.
func Except(conns ...*Conn) BroadcastOption {
	return func(t *broadcastTargets) {
		if t.exclude == nil {
			t.exclude = make(map[uuid.UUID]struct{}, len(conns))
		}
		for _, c := range conns {
			if c != nil {
				t.exclude[c.id] = struct{}{}
			}
		}
	}
}

// Broadcast queues text (plus the line terminator) on every selected active
// connection's outbound buffer and returns the number of recipients.
//
// Delivery is enqueue-only: the caller never blocks on any recipient's
// I/O, and a connection in Closing or Closed state is silently skipped.
// Selection reads session state through its guarded accessors, so
// Broadcast is safe to call from any handler or hook.
func (s *Server) Broadcast(text string, opts ...BroadcastOption) int {
	var targets broadcastTargets
	for _, opt := range opts {
		opt(&targets)
	}

	delivered := 0
	for _, c := range s.activeConns() {
		if _, skip := targets.exclude[c.id]; skip {
			continue
		}
		if c.State() != StateActive {
			continue
		}
		sess := c.Session()
		if sess == nil {
			continue
		}
		if targets.roomSet && sess.Room() != targets.room {
			continue
		}
		if targets.predicate != nil && !targets.predicate(sess) {
			continue
		}
		if err := c.WriteLine(text); err != nil {
			// Lost the race with a close; skip like any other
			// non-active connection.
			continue
		}
		delivered++
	}

	s.metrics.AddBroadcastDeliveries(delivered)
	return delivered
}

// activeConns snapshots the live connection set.
func (s *Server) activeConns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}
