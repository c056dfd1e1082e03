package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"familyhub/internal/auth"
	"familyhub/internal/authorizer"
	"familyhub/internal/channel"
	"familyhub/internal/metrics"
	"familyhub/internal/middleware"
	"familyhub/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Gateway event names for chat messages.
const (
	EventMessageSent    = "message.sent"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// CreateMessageRequest represents the request payload for posting a message
type CreateMessageRequest struct {
	Body      string `json:"body" binding:"required,max=4000"`
	ClientRef string `json:"client_ref" binding:"omitempty,max=64"`
}

// UpdateMessageRequest represents the request payload for editing a message
type UpdateMessageRequest struct {
	Body *string `json:"body" binding:"required,max=4000"`
}

// MessageResponse is the canonical message shape shared by the REST API and
// gateway events.
type MessageResponse struct {
	ID         uint64    `json:"id"`
	ChatRoomID uint64    `json:"chat_room_id"`
	UserID     uint64    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Body       string    `json:"body"`
	ClientRef  string    `json:"client_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MessageEvent is the body of message.sent and message.updated.
type MessageEvent struct {
	Message MessageResponse `json:"message"`
}

// MessageDeletedEvent is the body of message.deleted.
type MessageDeletedEvent struct {
	ID         uint64 `json:"id"`
	ChatRoomID uint64 `json:"chat_room_id"`
}

func toMessageResponse(m *models.Message) MessageResponse {
	return MessageResponse{
		ID:         uint64(m.ID),
		ChatRoomID: uint64(m.ChatRoomID),
		UserID:     uint64(m.UserID),
		UserName:   m.User.Name,
		Body:       m.Body,
		ClientRef:  m.ClientRef,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// roomAccess resolves :roomId and checks the caller may use the room. It
// writes the error response itself and reports whether to continue.
func (h *Handler) roomAccess(c *gin.Context) (uint64, *auth.Identity, bool) {
	caller := middleware.Identity(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthenticated."})
		return 0, nil, false
	}
	roomID, err := strconv.ParseUint(c.Param("roomId"), 10, 64)
	if err != nil || roomID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return 0, nil, false
	}
	if err := h.authorizer.CanJoinRoom(c.Request.Context(), roomID, caller); err != nil {
		if errors.Is(err, authorizer.ErrDenied) {
			c.JSON(http.StatusForbidden, gin.H{"error": "You are not a member of this room"})
			return 0, nil, false
		}
		h.log.Error().Err(err).Uint64("room_id", roomID).Msg("room membership check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check membership"})
		return 0, nil, false
	}
	return roomID, caller, true
}

// socketHeader reads the optional X-Socket-ID of the caller's own connection.
func socketHeader(c *gin.Context) (string, bool) {
	var headers SocketHeaders
	if err := c.ShouldBindHeader(&headers); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid X-Socket-ID header"})
		return "", false
	}
	return headers.SocketID, true
}

// broadcast triggers a room event. Delivery is best effort: the write has
// already been committed, so failures are only logged and counted.
func (h *Handler) broadcast(c *gin.Context, roomID uint64, event string, payload any, socketID string) {
	topic := channel.ChatRoom(roomID).Name()
	if err := h.publisher.Trigger(c.Request.Context(), topic, event, payload, socketID); err != nil {
		metrics.GatewayTriggerTotal.WithLabelValues(event, "failed").Inc()
		h.log.Warn().Err(err).Str("channel", topic).Str("event", event).Msg("message broadcast failed")
		return
	}
	metrics.GatewayTriggerTotal.WithLabelValues(event, "ok").Inc()
}

/*
GetMessages handles GET /api/chat-rooms/:roomId/messages
Returns the latest messages in ascending id order.
Optional query param: limit (default 50, max 200).
*/
func (h *Handler) GetMessages(c *gin.Context) {
	roomID, _, ok := h.roomAccess(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultMessageLimit)))
	if err != nil || limit < 1 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	var rows []models.Message
	err = h.db.WithContext(c.Request.Context()).
		Preload("User").
		Where("chat_room_id = ?", roomID).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		h.log.Error().Err(err).Uint64("room_id", roomID).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}

	out := make([]MessageResponse, len(rows))
	for i := range rows {
		out[len(rows)-1-i] = toMessageResponse(&rows[i])
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// CreateMessage handles POST /api/chat-rooms/:roomId/messages
// A repeated client_ref from the same sender returns the stored message
// instead of creating a second one.
func (h *Handler) CreateMessage(c *gin.Context) {
	roomID, caller, ok := h.roomAccess(c)
	if !ok {
		return
	}
	socketID, ok := socketHeader(c)
	if !ok {
		return
	}

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message body must not be blank"})
		return
	}

	db := h.db.WithContext(c.Request.Context())
	if req.ClientRef != "" {
		var existing models.Message
		err := db.Preload("User").
			Where("chat_room_id = ? AND user_id = ? AND client_ref = ?", roomID, caller.UserID, req.ClientRef).
			First(&existing).Error
		if err == nil {
			c.JSON(http.StatusOK, toMessageResponse(&existing))
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Error().Err(err).Msg("client ref lookup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create message"})
			return
		}
	}

	msg := models.Message{
		ChatRoomID: uint(roomID),
		UserID:     uint(caller.UserID),
		Body:       body,
		ClientRef:  req.ClientRef,
	}
	if err := db.Create(&msg).Error; err != nil {
		h.log.Error().Err(err).Uint64("room_id", roomID).Msg("create message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create message"})
		return
	}
	msg.User = models.User{Name: caller.Name}

	resp := toMessageResponse(&msg)
	h.broadcast(c, roomID, EventMessageSent, MessageEvent{Message: resp}, socketID)
	c.JSON(http.StatusCreated, resp)
}

// loadOwnMessage fetches :messageId in roomID and checks the caller wrote it.
func (h *Handler) loadOwnMessage(c *gin.Context, roomID uint64, caller *auth.Identity) (*models.Message, bool) {
	messageID, err := strconv.ParseUint(c.Param("messageId"), 10, 64)
	if err != nil || messageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message id"})
		return nil, false
	}
	var msg models.Message
	err = h.db.WithContext(c.Request.Context()).
		Preload("User").
		Where("id = ? AND chat_room_id = ?", messageID, roomID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
		return nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Uint64("message_id", messageID).Msg("load message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch message"})
		return nil, false
	}
	if uint64(msg.UserID) != caller.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only change your own messages"})
		return nil, false
	}
	return &msg, true
}

// UpdateMessage handles PATCH /api/chat-rooms/:roomId/messages/:messageId
func (h *Handler) UpdateMessage(c *gin.Context) {
	roomID, caller, ok := h.roomAccess(c)
	if !ok {
		return
	}
	socketID, ok := socketHeader(c)
	if !ok {
		return
	}
	var req UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body := strings.TrimSpace(*req.Body)
	if body == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message body must not be blank"})
		return
	}

	msg, ok := h.loadOwnMessage(c, roomID, caller)
	if !ok {
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Model(msg).Update("body", body).Error; err != nil {
		h.log.Error().Err(err).Uint("message_id", msg.ID).Msg("update message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update message"})
		return
	}

	resp := toMessageResponse(msg)
	h.broadcast(c, roomID, EventMessageUpdated, MessageEvent{Message: resp}, socketID)
	c.JSON(http.StatusOK, resp)
}

// DeleteMessage handles DELETE /api/chat-rooms/:roomId/messages/:messageId
func (h *Handler) DeleteMessage(c *gin.Context) {
	roomID, caller, ok := h.roomAccess(c)
	if !ok {
		return
	}
	socketID, ok := socketHeader(c)
	if !ok {
		return
	}
	msg, ok := h.loadOwnMessage(c, roomID, caller)
	if !ok {
		return
	}
	if err := h.db.WithContext(c.Request.Context()).Delete(msg).Error; err != nil {
		h.log.Error().Err(err).Uint("message_id", msg.ID).Msg("delete message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete message"})
		return
	}

	h.broadcast(c, roomID, EventMessageDeleted, MessageDeletedEvent{ID: uint64(msg.ID), ChatRoomID: roomID}, socketID)
	c.Status(http.StatusNoContent)
}
