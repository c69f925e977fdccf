package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/robot-teleop/hub/internal/hub"
)

// WebSocketHandler exposes the hub socket endpoint.
type WebSocketHandler struct {
	wsHandler *hub.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *hub.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Attach handles GET /ws - upgrades the connection and hands it to the hub.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the error response.
		return
	}
}

// RegisterRoutes registers the WebSocket route on a Gin engine. The socket
// lives at the root, not under /api, matching the ws://host:port/ws URL
// clients dial.
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.Attach)
}
