// Package hub implements the state hub: it owns the authoritative key/value
// state, brokers updates between subscribed WebSocket clients, and relays
// SDP offers to the robot client.
package hub

import (
	"context"
	"log"
	"sync"

	"github.com/robot-teleop/hub/internal/model"
	"github.com/robot-teleop/hub/internal/protocol"
	"github.com/robot-teleop/hub/internal/signaling"
)

// Hub manages connected clients and routes their frames.
type Hub struct {
	store    *Store
	exchange *signaling.Exchange

	mu    sync.RWMutex
	conns map[*Conn]bool
}

// New creates a Hub around store.
func New(store *Store) *Hub {
	return &Hub{
		store:    store,
		exchange: signaling.NewExchange(),
		conns:    make(map[*Conn]bool),
	}
}

// Store returns the hub's state store.
func (h *Hub) Store() *Store {
	return h.store
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

// Unregister removes a connection and closes it.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.Close()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Clients returns diagnostics info for every connection.
func (h *Hub) Clients() []model.ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.ClientInfo, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c.Info())
	}
	return out
}

// HandleMessage routes one decoded frame from a client.
func (h *Hub) HandleMessage(ctx context.Context, c *Conn, msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageTypeGetState:
		h.handleGetState(c)
	case protocol.MessageTypeIdentity:
		h.handleIdentity(c, msg)
	case protocol.MessageTypeSubscribeState:
		h.handleSubscribe(c, msg)
	case protocol.MessageTypePing:
		h.handlePing(c)
	case protocol.MessageTypeUpdateState:
		h.handleUpdateState(ctx, c, msg)
	case protocol.MessageTypeSDPAnswer:
		h.handleSDPAnswer(c, msg)
	}
}

// handleGetState replies with a full snapshot, to the requester only.
func (h *Hub) handleGetState(c *Conn) {
	msg, err := protocol.NewState(h.store.Snapshot())
	if err != nil {
		log.Printf("hub: failed to build state snapshot: %v", err)
		return
	}
	h.sendMessage(c, msg)
}

func (h *Hub) handleIdentity(c *Conn, msg *protocol.Message) {
	role, err := msg.StringData()
	if err != nil {
		log.Printf("hub: dropping identity frame from %s: %v", c.ID(), err)
		return
	}
	c.SetIdentity(role)
}

func (h *Hub) handleSubscribe(c *Conn, msg *protocol.Message) {
	pattern, err := msg.StringData()
	if err != nil {
		log.Printf("hub: dropping subscribe frame from %s: %v", c.ID(), err)
		return
	}
	c.Subscribe(pattern)
}

func (h *Hub) handlePing(c *Conn) {
	h.sendMessage(c, protocol.NewPong())
}

// handleUpdateState merges a proposed partial update into the store and
// broadcasts the accepted keys to every matching subscriber, the sender
// included. Clients learn of their own updates only through this echo.
func (h *Hub) handleUpdateState(ctx context.Context, c *Conn, msg *protocol.Message) {
	partial, err := msg.ObjectData()
	if err != nil {
		log.Printf("hub: dropping update frame from %s: %v", c.ID(), err)
		return
	}

	accepted, err := h.store.Apply(ctx, partial, c.Identity())
	if err != nil {
		log.Printf("hub: rejected update from %s: %v", c.ID(), err)
		return
	}

	h.BroadcastUpdate(accepted)
}

// BroadcastUpdate pushes a stateUpdate frame to every subscriber, filtered
// to the keys each subscription matches.
func (h *Hub) BroadcastUpdate(partial map[string]any) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		matched := make(map[string]any)
		for k, v := range partial {
			if c.SubscribedTo(k) {
				matched[k] = v
			}
		}
		if len(matched) == 0 {
			continue
		}
		msg, err := protocol.NewStateUpdate(matched)
		if err != nil {
			log.Printf("hub: failed to build state update: %v", err)
			return
		}
		h.sendMessage(c, msg)
	}
}

func (h *Hub) handleSDPAnswer(c *Conn, msg *protocol.Message) {
	answer, err := msg.DescriptionData()
	if err != nil {
		log.Printf("hub: dropping answer frame from %s: %v", c.ID(), err)
		return
	}
	if !h.exchange.Resolve(msg.ID, answer) {
		log.Printf("hub: answer for unknown offer %q from %s", msg.ID, c.ID())
	}
}

// RelayOffer forwards an SDP offer to the connected robot client and waits
// for its answer, bounded by ctx.
func (h *Hub) RelayOffer(ctx context.Context, offer protocol.SessionDescription) (protocol.SessionDescription, error) {
	robot := h.findByIdentity(protocol.IdentityRobot)
	if robot == nil {
		return protocol.SessionDescription{}, model.ErrNoRobotConnected
	}

	id, answerCh := h.exchange.Register()
	msg, err := protocol.NewSDPOffer(id, offer)
	if err != nil {
		h.exchange.Cancel(id)
		return protocol.SessionDescription{}, err
	}
	h.sendMessage(robot, msg)

	select {
	case answer := <-answerCh:
		return answer, nil
	case <-ctx.Done():
		h.exchange.Cancel(id)
		if ctx.Err() == context.DeadlineExceeded {
			return protocol.SessionDescription{}, model.ErrAnswerTimeout
		}
		return protocol.SessionDescription{}, ctx.Err()
	}
}

// findByIdentity returns one connection that declared role, or nil.
func (h *Hub) findByIdentity(role string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if c.Identity() == role {
			return c
		}
	}
	return nil
}

func (h *Hub) sendMessage(c *Conn, msg *protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("hub: failed to encode %q frame: %v", msg.Type, err)
		return
	}
	c.Send(data)
}

// Close closes every connection and empties the registry.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*Conn]bool)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
