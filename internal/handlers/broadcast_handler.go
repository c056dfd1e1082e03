package handlers

import (
	"errors"
	"net/http"

	"familyhub/internal/authorizer"
	"familyhub/internal/middleware"

	"github.com/gin-gonic/gin"
)

// BroadcastAuthRequest is sent by the gateway client library as a form post
// (JSON is accepted as well).
type BroadcastAuthRequest struct {
	ChannelName string `form:"channel_name" json:"channel_name" binding:"required"`
	SocketID    string `form:"socket_id" json:"socket_id" binding:"required"`
}

// BroadcastAuthResponse is what the gateway verifies. ChannelData is only
// present for presence channels.
type BroadcastAuthResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// BroadcastAuth signs a channel subscription for the calling connection.
// POST /broadcasting/auth
func (h *Handler) BroadcastAuth(c *gin.Context) {
	caller := middleware.Identity(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
		return
	}

	var req BroadcastAuthRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"message": "channel_name and socket_id are required."})
		return
	}

	grant, err := h.authorizer.Authorize(c.Request.Context(), req.ChannelName, req.SocketID, caller)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, BroadcastAuthResponse{Auth: grant.Auth, ChannelData: grant.ChannelData})
	case errors.Is(err, authorizer.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
	case errors.Is(err, authorizer.ErrDenied):
		c.JSON(http.StatusForbidden, gin.H{"message": "You are not a member of this channel."})
	case errors.Is(err, authorizer.ErrInvalidTopic), errors.Is(err, authorizer.ErrInvalidSocketID):
		c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
	default:
		h.log.Error().Err(err).Str("channel", req.ChannelName).Msg("channel authorization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Authorization is temporarily unavailable."})
	}
}

// RealtimeConfig returns the public gateway settings. The secret never leaves the server.
// GET /api/realtime/config
func (h *Handler) RealtimeConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway)
}
