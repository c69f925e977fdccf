package hub

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robot-teleop/hub/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong at the reverse proxy for now.
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket sessions on the hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a WebSocket handler for hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleConnection upgrades the HTTP connection and starts the read and
// write pumps for the new client.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := NewConn(sock)
	h.hub.Register(conn)

	go h.writePump(conn)
	go h.readPump(conn)

	return nil
}

// readPump pumps frames from the WebSocket connection into the hub.
// Malformed frames are logged and dropped without affecting the connection.
func (h *Handler) readPump(conn *Conn) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Sock().Close()
	}()

	conn.Sock().SetReadLimit(maxMessageSize)
	conn.Sock().SetReadDeadline(time.Now().Add(pongWait))
	conn.Sock().SetPongHandler(func(string) error {
		conn.Sock().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.Sock().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("hub: read error from %s: %v", conn.ID(), err)
			}
			break
		}
		// Any inbound frame proves the peer is alive.
		conn.Sock().SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(raw)
		if err != nil {
			log.Printf("hub: dropping frame from %s: %v", conn.ID(), err)
			continue
		}

		h.hub.HandleMessage(context.Background(), conn, msg)
	}
}

// writePump pumps queued frames to the WebSocket connection and sends
// protocol-level pings.
func (h *Handler) writePump(conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Sock().Close()
	}()

	for {
		select {
		case message, ok := <-conn.SendChan():
			conn.Sock().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				conn.Sock().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Sock().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain anything already queued, one frame each.
			n := len(conn.SendChan())
			for i := 0; i < n; i++ {
				queued := <-conn.SendChan()
				conn.Sock().SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.Sock().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			conn.Sock().SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Sock().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
