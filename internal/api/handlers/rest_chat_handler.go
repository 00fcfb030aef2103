package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/api/middleware"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/services"
	"fieldops/inquiry/internal/utils"
)

// RestChatHandler handles REST requests for chat rooms and messages.
type RestChatHandler struct {
	chatService services.IChatService
}

// NewRestChatHandler creates a new RestChatHandler.
func NewRestChatHandler(chatService services.IChatService) *RestChatHandler {
	return &RestChatHandler{chatService: chatService}
}

type sendMessageBody struct {
	Text string `json:"text"`
}

// respondServiceError writes the HTTP status matching a service sentinel.
func respondServiceError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed to " + action})
	default:
		log.Printf("ERROR: failed to %s: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

func pathObjectID(c *gin.Context, param string) (primitive.ObjectID, bool) {
	id, err := utils.ParseObjectID(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + " format"})
		return primitive.NilObjectID, false
	}
	return id, true
}

// pageParams reads ?limit and ?before. A missing or non-positive limit selects the default.
func pageParams(c *gin.Context) (int, *int64, bool) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return 0, nil, false
		}
		limit = parsed
	}
	before, err := utils.ParseCursor(c.Query("before"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid before cursor"})
		return 0, nil, false
	}
	return limit, before, true
}

func mustActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	}
	return actor, ok
}

// ListChats handles GET /v1/chats
func (h *RestChatHandler) ListChats(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	chats, err := h.chatService.ListChats(c.Request.Context(), actor.UserID)
	if err != nil {
		respondServiceError(c, "list chats", err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// ListUnreadChats handles GET /v1/chats/unread
func (h *RestChatHandler) ListUnreadChats(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	chats, err := h.chatService.UnreadChats(c.Request.Context(), actor.UserID)
	if err != nil {
		respondServiceError(c, "list unread chats", err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// GetInquiryMessages handles GET /v1/chats/inquiry/:inquiry_id/messages
func (h *RestChatHandler) GetInquiryMessages(c *gin.Context) {
	inquiryID, ok := pathObjectID(c, "inquiry_id")
	if !ok {
		return
	}
	limit, before, ok := pageParams(c)
	if !ok {
		return
	}
	messages, err := h.chatService.PageByInquiry(c.Request.Context(), inquiryID, limit, before)
	if err != nil {
		respondServiceError(c, "load messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// SendInquiryMessage handles POST /v1/chats/inquiry/:inquiry_id/messages
func (h *RestChatHandler) SendInquiryMessage(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	inquiryID, ok := pathObjectID(c, "inquiry_id")
	if !ok {
		return
	}
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	msg, err := h.chatService.SendMessage(c.Request.Context(), actor, inquiryID, body.Text)
	if err != nil {
		respondServiceError(c, "send message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetChatMessages handles GET /v1/chats/:chat_id/messages
func (h *RestChatHandler) GetChatMessages(c *gin.Context) {
	roomID, ok := pathObjectID(c, "chat_id")
	if !ok {
		return
	}
	limit, before, ok := pageParams(c)
	if !ok {
		return
	}
	messages, err := h.chatService.Page(c.Request.Context(), roomID, limit, before)
	if err != nil {
		respondServiceError(c, "load messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// MarkRead handles POST /v1/chats/:chat_id/read
func (h *RestChatHandler) MarkRead(c *gin.Context) {
	actor, ok := mustActor(c)
	if !ok {
		return
	}
	roomID, ok := pathObjectID(c, "chat_id")
	if !ok {
		return
	}
	lastRead, err := h.chatService.MarkRead(c.Request.Context(), roomID, actor.UserID)
	if err != nil {
		respondServiceError(c, "mark chat read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": roomID.Hex(), "last_read_id": strconv.FormatInt(lastRead, 10)})
}
