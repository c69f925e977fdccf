// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/robot-teleop/hub/internal/hub"
	"github.com/robot-teleop/hub/internal/journal"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// HubHandler exposes read-only diagnostics over the hub: the current state
// snapshot, the connected clients, and the recent-update journal.
type HubHandler struct {
	hub *hub.Hub
}

// NewHubHandler creates a new HubHandler.
func NewHubHandler(h *hub.Hub) *HubHandler {
	return &HubHandler{hub: h}
}

// GetState handles GET /api/state - returns the authoritative snapshot.
func (h *HubHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Store().Snapshot())
}

// GetClients handles GET /api/clients - lists connected clients.
func (h *HubHandler) GetClients(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"clients": h.hub.Clients(),
	})
}

// GetJournal handles GET /api/journal - returns recent accepted updates,
// oldest first.
func (h *HubHandler) GetJournal(c *gin.Context) {
	j := h.hub.Store().Journal()
	entries := []journal.Entry{}
	if j != nil {
		entries = j.Entries()
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
	})
}

// RegisterRoutes registers the diagnostics routes on a Gin router group.
func (h *HubHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/state", h.GetState)
	rg.GET("/clients", h.GetClients)
	rg.GET("/journal", h.GetJournal)
}
