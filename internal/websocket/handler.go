package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// EventSubscribed is the first frame sent on a new stream.
const EventSubscribed = "subscribed"

// SubscriptionValidator decides whether an actor may watch a session.
type SubscriptionValidator interface {
	ValidateSubscription(ctx context.Context, sessionID string, actor types.Actor) (*types.Session, error)
}

// Subscriptions receives accepted connections. Both the Registry and the
// hub satisfy it.
type Subscriptions interface {
	Subscribe(conn *Connection) error
	Unsubscribe(conn *Connection)
}

// ActorFunc resolves the caller of an upgrade request.
type ActorFunc func(r *http.Request) (types.Actor, error)

// Handler upgrades /ws/sessions/{id} into a one-way event stream.
type Handler struct {
	subs      Subscriptions
	validator SubscriptionValidator
	actor     ActorFunc
	config    Config
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates an event stream handler.
func NewHandler(subs Subscriptions, validator SubscriptionValidator, actor ActorFunc, config Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		subs:      subs,
		validator: validator,
		actor:     actor,
		config:    config.withDefaults(),
		logger:    logger.With(slog.String("component", "websocket")),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// ServeHTTP validates the subscriber before upgrading so refusals are plain
// HTTP errors.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	actor, err := h.actor(r)
	if err != nil {
		http.Error(w, "missing or invalid caller identity", http.StatusUnauthorized)
		return
	}

	session, err := h.validator.ValidateSubscription(r.Context(), sessionID, actor)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrSessionNotFound), errors.Is(err, interfaces.ErrSessionExpired):
			http.Error(w, "session not found or expired", http.StatusNotFound)
		case errors.Is(err, interfaces.ErrUnauthorized):
			http.Error(w, "not allowed to watch this session", http.StatusForbidden)
		default:
			h.logger.Error("subscription validation failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
			http.Error(w, "subscription validation failed", http.StatusInternalServerError)
		}
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("err", err.Error()))
		return
	}

	conn := NewConnection(ws, h.config, h.logger)
	host := actor.CanManage(session)
	conn.Bind(actor.ID, sessionID, host)

	if err := h.subs.Subscribe(conn); err != nil {
		h.logger.Warn("failed to register subscriber", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		_ = conn.Close()
		return
	}

	role := types.RoleParticipant
	if host {
		role = types.RoleHost
	}
	_ = conn.WriteJSON(types.SessionEvent{
		Type:      EventSubscribed,
		SessionID: sessionID,
		Status:    session.Status,
		Data:      map[string]any{"role": role},
		Timestamp: time.Now().UTC(),
	})

	h.logger.Debug("subscriber connected",
		slog.String("session_id", sessionID),
		slog.String("user_id", actor.ID),
		slog.Bool("host", host))

	go h.handleConnection(conn, ws)
}

// handleConnection runs the read pump and heartbeat. Inbound frames are
// ignored; reading only surfaces pongs and closes.
func (h *Handler) handleConnection(conn *Connection, ws *websocket.Conn) {
	defer func() {
		h.subs.Unsubscribe(conn)
		_ = conn.Close()
	}()

	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
					_ = conn.Close()
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("subscriber read error", slog.String("user_id", conn.UserID()), slog.String("err", err.Error()))
			}
			return
		}
	}
}
