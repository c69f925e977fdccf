package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/robot-teleop/hub/internal/hub"
	"github.com/robot-teleop/hub/internal/model"
	"github.com/robot-teleop/hub/internal/protocol"
)

// answerWait bounds how long an offer waits for the robot's answer. ICE
// candidates are gathered fully before the offer is posted, so one
// round-trip is all there is.
const answerWait = 15 * time.Second

// SignalingHandler negotiates real-time media sessions: it accepts an SDP
// offer over HTTP, relays it to the robot client through the hub socket,
// and returns the robot's answer.
type SignalingHandler struct {
	hub *hub.Hub
}

// NewSignalingHandler creates a new SignalingHandler.
func NewSignalingHandler(h *hub.Hub) *SignalingHandler {
	return &SignalingHandler{hub: h}
}

// OfferRequest is the request body for POST /api/signaling/offer.
type OfferRequest struct {
	SDP  string `json:"sdp" binding:"required"`
	Type string `json:"type" binding:"required"`
}

// Offer handles POST /api/signaling/offer.
func (h *SignalingHandler) Offer(c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Offer must carry sdp and type: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), answerWait)
	defer cancel()

	answer, err := h.hub.RelayOffer(ctx, protocol.SessionDescription{
		SDP:  req.SDP,
		Type: req.Type,
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNoRobotConnected):
			sendError(c, http.StatusServiceUnavailable, "NO_ROBOT", "No robot client is connected")
		case errors.Is(err, model.ErrAnswerTimeout):
			sendError(c, http.StatusGatewayTimeout, "ANSWER_TIMEOUT", "Robot did not answer in time")
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to relay offer: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sdp":  answer.SDP,
		"type": answer.Type,
	})
}

// RegisterRoutes registers the signaling routes on a Gin router group.
func (h *SignalingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/signaling/offer", h.Offer)
}
