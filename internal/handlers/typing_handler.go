package handlers

import (
	"net/http"

	"familyhub/internal/channel"
	"familyhub/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Gateway event names for typing presence.
const (
	EventUserTyping        = "user.typing"
	EventUserStoppedTyping = "user.stopped-typing"
)

// TypingRequest toggles the caller's typing indicator in a room.
type TypingRequest struct {
	Typing *bool `json:"typing" binding:"required"`
}

// SocketHeaders carries the caller's own socket so the gateway skips it.
type SocketHeaders struct {
	SocketID string `header:"X-Socket-ID" binding:"omitempty,socket_id"`
}

// TypingPayload is the body of user.typing and user.stopped-typing events.
type TypingPayload struct {
	ChatRoomID uint64 `json:"chat_room_id"`
	UserID     uint64 `json:"user_id"`
	Name       string `json:"name"`
}

// Typing relays a typing signal to the room's private topic.
// POST /api/chat-rooms/:roomId/typing
func (h *Handler) Typing(c *gin.Context) {
	roomID, caller, ok := h.roomAccess(c)
	if !ok {
		return
	}
	socketID, ok := socketHeader(c)
	if !ok {
		return
	}
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := EventUserStoppedTyping
	if *req.Typing {
		event = EventUserTyping
	}
	payload := TypingPayload{ChatRoomID: roomID, UserID: caller.UserID, Name: caller.Name}
	topic := channel.ChatRoom(roomID).Name()

	if err := h.publisher.Trigger(c.Request.Context(), topic, event, payload, socketID); err != nil {
		metrics.GatewayTriggerTotal.WithLabelValues(event, "failed").Inc()
		h.log.Warn().Err(err).Str("channel", topic).Str("event", event).Msg("typing relay failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to relay typing signal"})
		return
	}
	metrics.GatewayTriggerTotal.WithLabelValues(event, "ok").Inc()
	c.Status(http.StatusAccepted)
}
