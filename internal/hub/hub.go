// Package hub is the in-process event bus between the lifecycle managers
// and websocket subscribers.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"liveclass/internal/router"
	"liveclass/internal/websocket"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Config sizes the hub queues.
type Config struct {
	BufferSize int `yaml:"buffer_size" env:"LIVECLASS_EVENTS_BUFFER_SIZE"`
}

// DefaultConfig buffers 1000 events.
func DefaultConfig() Config {
	return Config{BufferSize: 1000}
}

// Stats counts events since construction.
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Delivered int64 `json:"delivered"`
}

// Hub serializes event delivery and subscriber changes through one loop.
type Hub struct {
	eventChannel      chan types.SessionEvent
	registerChannel   chan *websocket.Connection
	unregisterChannel chan *websocket.Connection
	shutdownChannel   chan struct{}
	done              chan struct{}

	registry *websocket.Registry
	router   *router.Router
	logger   *slog.Logger

	running bool
	mu      sync.RWMutex

	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
}

var _ interfaces.EventPublisher = (*Hub)(nil)

// NewHub creates a stopped hub.
func NewHub(registry *websocket.Registry, router *router.Router, config Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &Hub{
		eventChannel:      make(chan types.SessionEvent, config.BufferSize),
		registerChannel:   make(chan *websocket.Connection, 100),
		unregisterChannel: make(chan *websocket.Connection, 100),
		registry:          registry,
		router:            router,
		logger:            logger.With(slog.String("component", "hub")),
	}
}

// Start begins processing on a single goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting event hub")
	go h.run(ctx, h.shutdownChannel, h.done)

	return nil
}

// Stop ends processing and waits for the loop to exit. Queued events are
// delivered before it returns.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("event hub stopped")
	return nil
}

// Publish queues event without blocking. Events published while the hub is
// stopped or its queue is full are dropped and counted.
func (h *Hub) Publish(event types.SessionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		h.dropped.Add(1)
		return
	}

	select {
	case h.eventChannel <- event:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event",
			slog.String("type", event.Type),
			slog.String("session_id", event.SessionID))
	}
}

// Subscribe queues a new subscriber behind any events already queued.
func (h *Hub) Subscribe(conn *websocket.Connection) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.running {
		return ErrHubNotRunning
	}
	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Unsubscribe removes conn, directly when the loop cannot take it.
func (h *Hub) Unsubscribe(conn *websocket.Connection) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.running {
		select {
		case h.unregisterChannel <- conn:
			return
		default:
		}
	}
	h.registry.Unsubscribe(conn)
}

// Stats returns the event counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
		Delivered: h.delivered.Load(),
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case event := <-h.eventChannel:
			h.handleEvent(event)

		case conn := <-h.registerChannel:
			h.handleRegistration(conn)

		case conn := <-h.unregisterChannel:
			h.registry.Unsubscribe(conn)

		case <-shutdown:
			h.drain()
			return

		case <-ctx.Done():
			h.logger.Debug("hub context cancelled")
			return
		}
	}
}

// drain delivers whatever was queued before shutdown.
func (h *Hub) drain() {
	for {
		select {
		case event := <-h.eventChannel:
			h.handleEvent(event)
		case conn := <-h.unregisterChannel:
			h.registry.Unsubscribe(conn)
		default:
			return
		}
	}
}

func (h *Hub) handleEvent(event types.SessionEvent) {
	n, err := h.router.Route(event)
	if err != nil {
		h.logger.Warn("event routing failed",
			slog.String("type", event.Type),
			slog.String("session_id", event.SessionID),
			slog.String("err", err.Error()))
		return
	}
	h.delivered.Add(int64(n))
}

func (h *Hub) handleRegistration(conn *websocket.Connection) {
	if conn == nil {
		return
	}
	if err := h.registry.Subscribe(conn); err != nil {
		h.logger.Warn("subscriber registration failed", slog.String("user_id", conn.UserID()), slog.String("err", err.Error()))
		_ = conn.Close()
	}
}
