package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config tunes event stream connections.
type Config struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"LIVECLASS_WS_PING_INTERVAL"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"LIVECLASS_WS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"LIVECLASS_WS_WRITE_TIMEOUT"`
	SendBuffer   int           `yaml:"send_buffer" env:"LIVECLASS_WS_SEND_BUFFER"`
}

// DefaultConfig pings every 30s and drops peers silent for 60s.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}

// Connection is one subscriber of a session's event stream. All writes go
// through a single writer goroutine.
type Connection struct {
	conn    *websocket.Conn
	writeCh chan []byte
	config  Config
	logger  *slog.Logger

	userID     string
	sessionID  string
	host       bool
	subscribed bool
	mu         sync.RWMutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	flush     chan struct{}
	flushOnce sync.Once
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, config Config, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, config.SendBuffer),
		config:  config,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		flush:   make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if !c.write(data) {
				_ = c.Close()
				return
			}
		case <-c.flush:
			for {
				select {
				case data := <-c.writeCh:
					if !c.write(data) {
						_ = c.Close()
						return
					}
				default:
					_ = c.Close()
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("event write failed", slog.String("user_id", c.UserID()), slog.String("err", err.Error()))
		return false
	}
	return true
}

// WriteJSON queues v for delivery. It fails when the peer is too slow to
// drain the buffer within the write timeout.
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Shutdown closes the connection after frames already queued are written.
func (c *Connection) Shutdown() {
	c.flushOnce.Do(func() { close(c.flush) })
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Bind attaches the connection to a session. host selects host-only events.
func (c *Connection) Bind(userID, sessionID string, host bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.sessionID = sessionID
	c.host = host
	c.subscribed = true
}

func (c *Connection) IsSubscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) IsHost() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}
