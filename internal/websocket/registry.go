package websocket

import (
	"sync"
)

// Registry tracks event subscribers per session. A user may hold several
// connections to the same session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[*Connection]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[*Connection]struct{}),
	}
}

// Subscribe adds a bound connection.
func (r *Registry) Subscribe(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsSubscribed() {
		return ErrConnectionNotSubscribed
	}

	sessionID := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[*Connection]struct{})
	}
	r.sessions[sessionID][conn] = struct{}{}
	return nil
}

// Unsubscribe removes conn. Removing an unknown connection is a no-op.
func (r *Registry) Unsubscribe(conn *Connection) {
	if conn == nil {
		return
	}
	sessionID := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
}

// SessionConnections returns every subscriber of sessionID.
func (r *Registry) SessionConnections(sessionID string) []*Connection {
	return r.collect(sessionID, func(*Connection) bool { return true })
}

// SessionHosts returns the subscribers that receive host-only events.
func (r *Registry) SessionHosts(sessionID string) []*Connection {
	return r.collect(sessionID, (*Connection).IsHost)
}

// CloseSession drops every subscriber of sessionID and shuts each one down
// once its queued frames are written. It returns the number dropped.
func (r *Registry) CloseSession(sessionID string) int {
	r.mu.Lock()
	conns := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	for conn := range conns {
		conn.Shutdown()
	}
	return len(conns)
}

// Stats returns registry counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.sessions {
		total += len(conns)
	}
	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}

func (r *Registry) collect(sessionID string, keep func(*Connection) bool) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Connection
	for conn := range r.sessions[sessionID] {
		if keep(conn) {
			out = append(out, conn)
		}
	}
	return out
}
