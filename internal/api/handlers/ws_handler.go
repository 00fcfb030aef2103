package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/api/middleware"
	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/models"
	"fieldops/inquiry/internal/realtime"
	"fieldops/inquiry/internal/services"
	"fieldops/inquiry/internal/utils"
)

const (
	wsPongWait     = 60 * time.Second
	wsMaxFrameSize = 64 * 1024 // fits a maximal message even with every rune \u-escaped
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SendLimiter throttles live sends per user.
type SendLimiter interface {
	AllowUser(userID primitive.ObjectID) bool
}

// WsHandler upgrades GET /v1/ws and serves the chat event protocol.
type WsHandler struct {
	cfg         *config.Config
	hub         *realtime.Hub
	chatService services.IChatService
	limiter     SendLimiter
}

// NewWsHandler creates a new WsHandler. limiter may be nil.
func NewWsHandler(cfg *config.Config, hub *realtime.Hub, chatService services.IChatService, limiter SendLimiter) *WsHandler {
	return &WsHandler{cfg: cfg, hub: hub, chatService: chatService, limiter: limiter}
}

// Handle accepts anonymous connections; a valid token in the "token" query
// parameter or Authorization header is required only for sendMessage.
func (h *WsHandler) Handle(c *gin.Context) {
	var identity models.Actor
	if tokenString, err := middleware.BearerToken(c); err == nil {
		actor, authErr := middleware.Authenticate(tokenString, h.cfg.JwtSecret)
		if authErr != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		identity = actor
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	client := h.hub.NewClient(ws, identity)
	go client.WritePump()
	log.Printf("Chat client %s connected (user %q)", client.ID, identity.Username)

	defer func() {
		h.hub.Leave(client)
		client.Close()
		log.Printf("Chat client %s disconnected", client.ID)
	}()

	ws.SetReadLimit(wsMaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Chat client %s read error: %v", client.ID, err)
			}
			return
		}
		select {
		case <-client.Done():
			return
		default:
		}
		h.dispatch(client, env)
	}
}

func (h *WsHandler) dispatch(client *realtime.Client, env realtime.Envelope) {
	ctx := context.Background()
	switch env.Event {
	case realtime.EventJoinRoom:
		var req realtime.JoinRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Invalid joinRoom payload"})
			return
		}
		inquiryID, err := utils.ParseObjectID(req.InquiryID)
		if err != nil {
			client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Invalid inquiry_id format"})
			return
		}
		err = h.hub.Join(ctx, client, inquiryID.Hex(), func(ctx context.Context) ([]models.Message, error) {
			return h.chatService.PageByInquiry(ctx, inquiryID, h.cfg.ChatHistoryLimit, nil)
		})
		if err != nil && !errors.Is(err, realtime.ErrSlowClient) {
			log.Printf("Chat client %s failed to join %s: %v", client.ID, inquiryID.Hex(), err)
			client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Failed to join room"})
		}

	case realtime.EventLeaveRoom:
		var req realtime.JoinRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.InquiryID == "" {
			h.hub.Leave(client)
			return
		}
		if inquiryID, err := utils.ParseObjectID(req.InquiryID); err == nil {
			h.hub.LeaveRoom(client, inquiryID.Hex())
		}

	case realtime.EventSendMessage:
		h.sendMessage(ctx, client, env.Data)

	default:
		client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Unknown event: " + env.Event})
	}
}

func (h *WsHandler) sendMessage(ctx context.Context, client *realtime.Client, data json.RawMessage) {
	if !client.Authenticated() {
		client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Authentication required"})
		return
	}
	if h.limiter != nil && !h.limiter.AllowUser(client.Identity.UserID) {
		log.Printf("Rate limit exceeded for chat client %s (user %s)", client.ID, client.Identity.UserID.Hex())
		client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Rate limit exceeded"})
		return
	}
	var req realtime.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Invalid sendMessage payload"})
		return
	}

	var (
		msg *models.Message
		err error
	)
	switch {
	case req.ChatID != "":
		var roomID primitive.ObjectID
		if roomID, err = utils.ParseObjectID(req.ChatID); err == nil {
			msg, err = h.chatService.SendToRoom(ctx, client.Identity, roomID, req.Text)
		}
	case req.InquiryID != "":
		var inquiryID primitive.ObjectID
		if inquiryID, err = utils.ParseObjectID(req.InquiryID); err == nil {
			msg, err = h.chatService.SendMessage(ctx, client.Identity, inquiryID, req.Text)
		}
	default:
		client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: "Missing chat_id or inquiry_id"})
		return
	}
	if err != nil {
		client.SendEvent(realtime.EventError, realtime.ErrorEvent{Error: wsErrorMessage(err)})
		return
	}
	client.SendEvent(realtime.EventMessageSent, realtime.MessageEvent{Message: msg})
}

func wsErrorMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrInvalidID):
		return "Invalid identifier format"
	case errors.Is(err, services.ErrNotFound):
		return "Not found"
	case errors.Is(err, services.ErrValidation):
		return err.Error()
	case errors.Is(err, services.ErrUnauthorized):
		return "Authentication required"
	case errors.Is(err, services.ErrForbidden):
		return "Not allowed to send message"
	default:
		log.Printf("ERROR: websocket send failed: %v", err)
		return "Failed to send message"
	}
}
