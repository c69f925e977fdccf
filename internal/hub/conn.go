package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/robot-teleop/hub/internal/model"
	"github.com/robot-teleop/hub/internal/protocol"
)

// Conn represents one connected hub client.
type Conn struct {
	id          string
	sock        *websocket.Conn
	send        chan []byte
	connectedAt time.Time

	mu       sync.Mutex
	closed   bool
	identity string
	subs     []string
}

// NewConn wraps an upgraded WebSocket connection.
func NewConn(sock *websocket.Conn) *Conn {
	return &Conn{
		id:          uuid.NewString(),
		sock:        sock,
		send:        make(chan []byte, 256),
		connectedAt: time.Now().UTC(),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Send queues data for delivery to the client. A client that cannot keep up
// with its send buffer is closed.
func (c *Conn) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the client connection.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendChan returns the outgoing frame channel for the write pump.
func (c *Conn) SendChan() <-chan []byte {
	return c.send
}

// Sock returns the underlying WebSocket connection.
func (c *Conn) Sock() *websocket.Conn {
	return c.sock
}

// SetIdentity records the role the client declared.
func (c *Conn) SetIdentity(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = role
}

// Identity returns the declared role, or "" before any identity frame.
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Subscribe adds a subscription pattern: the wildcard "*" or an exact key.
func (c *Conn) Subscribe(pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.subs {
		if p == pattern {
			return
		}
	}
	c.subs = append(c.subs, pattern)
}

// SubscribedTo reports whether key matches any of the client's patterns.
func (c *Conn) SubscribedTo(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.subs {
		if p == protocol.SubscribeAll || p == key {
			return true
		}
	}
	return false
}

// Info returns a diagnostics view of the connection.
func (c *Conn) Info() model.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]string, len(c.subs))
	copy(subs, c.subs)
	return model.ClientInfo{
		ID:            c.id,
		Identity:      c.identity,
		Subscriptions: subs,
		ConnectedAt:   c.connectedAt,
	}
}
