// Package router decides which subscribers receive a session event and
// delivers it.
package router

import (
	"log/slog"

	"liveclass/internal/websocket"
	"liveclass/pkg/types"
)

// Recipients is the subscriber lookup the router reads from.
type Recipients interface {
	SessionConnections(sessionID string) []*websocket.Connection
	SessionHosts(sessionID string) []*websocket.Connection
	CloseSession(sessionID string) int
}

// Router fans one event out to the subscribers allowed to see it.
type Router struct {
	registry Recipients
	logger   *slog.Logger
}

func NewRouter(registry Recipients, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger.With(slog.String("component", "router"))}
}

// Route delivers event and returns the number of subscribers reached. A
// failed write to one subscriber does not stop delivery to the rest. Deleted
// and expired sessions have their streams closed after the final event.
func (r *Router) Route(event types.SessionEvent) (int, error) {
	recipients, err := r.GetRecipients(event)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, conn := range recipients {
		if err := conn.WriteJSON(event); err != nil {
			r.logger.Debug("event delivery failed",
				slog.String("session_id", event.SessionID),
				slog.String("user_id", conn.UserID()),
				slog.String("err", err.Error()))
			continue
		}
		delivered++
	}

	if Terminal(event) {
		r.registry.CloseSession(event.SessionID)
	}
	return delivered, nil
}

// GetRecipients applies the role rule: roster events reach the host only,
// everything else reaches every subscriber.
func (r *Router) GetRecipients(event types.SessionEvent) ([]*websocket.Connection, error) {
	if event.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	if !IsKnownEvent(event.Type) {
		return nil, ErrUnknownEventType
	}
	if event.HostOnly() {
		return r.registry.SessionHosts(event.SessionID), nil
	}
	return r.registry.SessionConnections(event.SessionID), nil
}

// IsKnownEvent reports whether eventType is a lifecycle event.
func IsKnownEvent(eventType string) bool {
	switch eventType {
	case types.EventStatusChanged, types.EventUpdated, types.EventRosterChanged,
		types.EventDeleted, types.EventExpired:
		return true
	}
	return false
}

// Terminal reports whether no further events will follow for the session.
func Terminal(event types.SessionEvent) bool {
	return event.Type == types.EventDeleted || event.Type == types.EventExpired
}
