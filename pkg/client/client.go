// Package client implements the hub state synchronization client: a
// reconnecting WebSocket client that mirrors hub-pushed key/value state into
// a local cache, notifies registered listeners on every change, and runs a
// heartbeat monitor that flips the connection status to offline when the hub
// goes silent.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robot-teleop/hub/internal/protocol"
	"github.com/robot-teleop/hub/pkg/state"
)

// DefaultPort is the well-known hub port.
const DefaultPort = 9000

// DefaultRequestTimeout bounds GetState when the caller's context carries no
// deadline of its own.
const DefaultRequestTimeout = 10 * time.Second

const (
	// Time allowed to write a frame to the hub.
	writeWait = 10 * time.Second

	// Heartbeat ping period while online.
	heartbeatInterval = 1000 * time.Millisecond

	// Silence longer than this while online marks the connection
	// offline. Must be at least 1.5x heartbeatInterval so the monitor
	// never fires before proof of silence over one and a half heartbeat
	// periods.
	stalenessThreshold = 1500 * time.Millisecond

	// Delay before a reconnect attempt after a session is lost.
	reconnectDelay = 5 * time.Second
)

// Options configures a Client. The zero value connects to
// ws://localhost:9000/ws as a "webapp" client with auto-reconnect enabled.
type Options struct {
	// Host and Port locate the hub. Defaults: "localhost", DefaultPort.
	Host string
	Port int

	// URL, when set, overrides Host and Port with a complete WebSocket
	// URL (including the /ws path).
	URL string

	// Identity is the role declared to the hub after connecting.
	// Defaults to "webapp".
	Identity string

	// Seed provides initial mirror entries merged over the built-in
	// defaults at construction.
	Seed state.State

	// NoReconnect disables the delayed redial after a lost session.
	NoReconnect bool
}

// Client supervises one WebSocket session to a hub, keeps a local mirror of
// hub state, and delivers change notifications to registered listeners.
//
// Listeners are invoked synchronously while the client's internal lock is
// held, strictly after the triggering mutation and before any other client
// event is processed. A listener must not call back into the client.
type Client struct {
	url         string
	identity    string
	noReconnect bool

	// Fixed in production; shortened by tests in this package.
	heartbeatInterval  time.Duration
	stalenessThreshold time.Duration
	reconnectDelay     time.Duration

	wmu sync.Mutex // serializes frame writes to the active connection

	mu             sync.Mutex
	mirror         state.State
	listeners      state.ListenerList
	pending        []chan state.State
	conn           *websocket.Conn
	gen            int // session generation; bumped on every supersession
	lastSeen       time.Time
	updates        int
	reconnectTimer *time.Timer
	closed         bool
}

// New creates a Client for the hub described by opts. The mirror starts as
// {"status": "offline", "updates": 0} merged with opts.Seed. No connection
// is attempted until Connect.
func New(opts Options) *Client {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	url := opts.URL
	if url == "" {
		url = fmt.Sprintf("ws://%s:%d/ws", host, port)
	}
	identity := opts.Identity
	if identity == "" {
		identity = protocol.IdentityWebapp
	}

	mirror := state.State{
		state.KeyStatus:  state.StatusOffline,
		state.KeyUpdates: 0,
	}
	mirror.Merge(opts.Seed)

	return &Client{
		url:                url,
		identity:           identity,
		noReconnect:        opts.NoReconnect,
		heartbeatInterval:  heartbeatInterval,
		stalenessThreshold: stalenessThreshold,
		reconnectDelay:     reconnectDelay,
		mirror:             mirror,
	}
}

// Connect dials the hub, performs the post-open handshake (full-state
// request, identity declaration, wildcard subscription), and starts the
// heartbeat monitor. Status moves offline -> connecting -> online, with a
// listener notification at each transition.
//
// On failure the status returns to offline and, unless reconnect is
// disabled, a redial is scheduled; the dial error is still returned so the
// caller knows the first attempt did not stick.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.setStatusLocked(state.StatusConnecting)
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.failSetup()
		return fmt.Errorf("hub dial failed: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.lastSeen = time.Now()
	c.mu.Unlock()

	// The completed dial handshake is the readiness signal; the hub will
	// frame these in arrival order.
	handshake := []*protocol.Message{
		protocol.NewGetState(),
		protocol.NewIdentity(c.identity),
		protocol.NewSubscribe(protocol.SubscribeAll),
	}
	for _, msg := range handshake {
		if err := c.write(conn, msg); err != nil {
			c.dropSession(conn, gen)
			c.failSetup()
			return fmt.Errorf("hub handshake failed: %w", err)
		}
	}

	c.mu.Lock()
	c.setStatusLocked(state.StatusOnline)
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.monitor(conn, gen)
	return nil
}

// Close tears down the active session and stops all reconnect attempts.
// Registered listeners receive a final offline transition if the client was
// not already offline.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	conn := c.conn
	c.conn = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.setStatusLocked(state.StatusOffline)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// AddListener registers l for every status transition and merged update.
// Duplicates are allowed; notification order is registration order.
func (c *Client) AddListener(l state.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners.Add(l)
}

// RemoveListener unregisters one registration of l by identity. After it
// returns, l receives no further notifications.
func (c *Client) RemoveListener(l state.Listener) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners.Remove(l)
}

// State returns a snapshot copy of the local mirror.
func (c *Client) State() state.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Clone()
}

// Status returns the current connection status.
func (c *Client) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Status()
}

// GetState requests a full snapshot from the hub and waits for the next
// full-state reply. Concurrent calls each get their own resolution from the
// same reply. When ctx carries no deadline, DefaultRequestTimeout applies;
// expiry yields an error wrapping ErrRequestTimeout.
func (c *Client) GetState(ctx context.Context) (state.State, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	waiter := make(chan state.State, 1)
	c.pending = append(c.pending, waiter)
	c.mu.Unlock()

	if err := c.write(conn, protocol.NewGetState()); err != nil {
		c.removeWaiter(waiter)
		return nil, fmt.Errorf("full-state request failed: %w", err)
	}

	select {
	case snapshot := <-waiter:
		return snapshot, nil
	case <-ctx.Done():
		c.removeWaiter(waiter)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrRequestTimeout
		}
		return nil, fmt.Errorf("full-state request: %w", ctx.Err())
	}
}

// UpdateState proposes a partial state change to the hub. The local mirror
// is not touched here; it changes only when the hub echoes the update back
// to all subscribers, the sender included.
func (c *Client) UpdateState(partial map[string]any) error {
	msg, err := protocol.NewUpdateState(partial)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := c.write(conn, msg); err != nil {
		return fmt.Errorf("state update send failed: %w", err)
	}
	return nil
}

// readLoop consumes frames from one session until the connection dies, then
// runs the close path for that session.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.handleFrame(gen, raw)
	}
}

// handleFrame processes one inbound frame. Malformed frames are logged and
// dropped without touching the mirror or the connection.
func (c *Client) handleFrame(gen int, raw []byte) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastSeen = time.Now()
	c.mu.Unlock()

	msg, err := protocol.Decode(raw)
	if err != nil {
		log.Printf("hub client: dropping frame: %v", err)
		return
	}

	switch msg.Type {
	case protocol.MessageTypePong:
		// Liveness reply; lastSeen is already refreshed.
	case protocol.MessageTypeState:
		obj, err := msg.ObjectData()
		if err != nil {
			log.Printf("hub client: dropping frame: %v", err)
			return
		}
		c.resolveState(gen, state.State(obj))
	case protocol.MessageTypeStateUpdate:
		obj, err := msg.ObjectData()
		if err != nil {
			log.Printf("hub client: dropping frame: %v", err)
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.applyUpdateLocked(state.State(obj))
		}
		c.mu.Unlock()
	}
}

// resolveState handles a full-state frame: every pending requester is
// resolved with the same payload, and the payload is also merged into the
// mirror so request traffic and push traffic leave the mirror identical.
func (c *Client) resolveState(gen int, snapshot state.State) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	waiters := c.pending
	c.pending = nil
	c.applyUpdateLocked(snapshot)
	c.mu.Unlock()

	for _, w := range waiters {
		w <- snapshot
	}
}

// applyUpdateLocked merges partial into the mirror, bumps the update
// counter, and notifies listeners. Caller holds c.mu.
func (c *Client) applyUpdateLocked(partial state.State) {
	c.mirror.Merge(partial)
	c.updates++
	c.mirror[state.KeyUpdates] = c.updates
	c.listeners.Notify(c.mirror)
}

// setStatusLocked records a status transition and notifies listeners.
// Idempotent: setting the current status again does not refire. Caller
// holds c.mu.
func (c *Client) setStatusLocked(status string) {
	if c.mirror.Status() == status {
		return
	}
	c.mirror[state.KeyStatus] = status
	c.listeners.Notify(c.mirror)
}

// monitor is the heartbeat and staleness loop for one session. It pings the
// hub every heartbeat interval — the ping doubles as a probe that forces a
// write error on silently-dead sockets — and flips the status offline when
// no frame of any kind has arrived within the staleness threshold. The
// socket itself is left alone; its own close event drives recovery.
func (c *Client) monitor(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		if time.Since(c.lastSeen) > c.stalenessThreshold && c.mirror.Status() == state.StatusOnline {
			c.setStatusLocked(state.StatusOffline)
		}
		c.mu.Unlock()

		if err := c.write(conn, protocol.NewPing()); err != nil {
			log.Printf("hub client: ping failed: %v", err)
			return
		}
	}
}

// handleClose runs when a session's connection dies. The session is
// discarded, status goes offline, and a delayed redial is scheduled unless
// reconnect is disabled or the client is closed.
func (c *Client) handleClose(conn *websocket.Conn, gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		// Session already superseded; nothing to recover.
		c.mu.Unlock()
		conn.Close()
		return
	}
	if !c.closed {
		log.Printf("hub client: connection lost: %v", err)
	}
	c.gen++
	c.conn = nil
	c.setStatusLocked(state.StatusOffline)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
	conn.Close()
}

// failSetup is the setup-error path: status offline, monitor already
// stopped by the generation bump, delayed redial if enabled.
func (c *Client) failSetup() {
	c.mu.Lock()
	c.setStatusLocked(state.StatusOffline)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// dropSession discards conn as the active session if it still is. Caller
// handles the status transition.
func (c *Client) dropSession(conn *websocket.Conn, gen int) {
	c.mu.Lock()
	if gen == c.gen {
		c.gen++
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// scheduleReconnectLocked arms the delayed redial. The attempt only
// proceeds if the status is still offline when the timer fires, so a
// session that recovered through another path is never superseded. Caller
// holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.noReconnect || c.closed {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		if c.closed || c.conn != nil || c.mirror.Status() != state.StatusOffline {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if err := c.Connect(); err != nil {
			log.Printf("hub client: reconnect failed: %v", err)
		}
	})
}

// removeWaiter unregisters a pending full-state waiter that gave up.
func (c *Client) removeWaiter(waiter chan state.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.pending {
		if w == waiter {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// write serializes msg and sends it on conn as one text frame.
func (c *Client) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
