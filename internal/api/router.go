package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fieldops/inquiry/internal/api/handlers"
	"fieldops/inquiry/internal/api/middleware"
	"fieldops/inquiry/internal/auth"
	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/realtime"
	"fieldops/inquiry/internal/services"
	"fieldops/inquiry/internal/storage"
)

// Dependencies are the long-lived components the public router dispatches to.
type Dependencies struct {
	InquiryService services.IInquiryService
	ChatService    services.IChatService
	Storage        storage.IS3Storage
	TaskClient     handlers.IAsynqClient
	Hub            *realtime.Hub
}

// SetupRouter configures and returns the main Gin engine and its rate limiter,
// which the caller closes on shutdown.
func SetupRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *middleware.RateLimiterMiddleware) {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware(cfg.CorsAllowedOrigins))
	r.Use(middleware.OptionalAuthMiddleware(cfg.JwtSecret))
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(cfg, deps.TaskClient, deps.InquiryService, deps.ChatService, deps.Storage)
	restChatHandler := handlers.NewRestChatHandler(deps.ChatService)
	wsHandler := handlers.NewWsHandler(cfg, deps.Hub, deps.ChatService, rateLimiter)

	v1 := r.Group("/v1")
	{
		v1.POST("/api", jsonApiHandler.HandleRequest)
		v1.GET("/ws", wsHandler.Handle)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		chats := v1.Group("/chats")
		chats.GET("/inquiry/:inquiry_id/messages", restChatHandler.GetInquiryMessages)
		chats.GET("/:chat_id/messages", restChatHandler.GetChatMessages)

		authRequired := chats.Group("")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("", restChatHandler.ListChats)
			authRequired.GET("/unread", restChatHandler.ListUnreadChats)
			authRequired.POST("/inquiry/:inquiry_id/messages", restChatHandler.SendInquiryMessage)
			authRequired.POST("/:chat_id/read", restChatHandler.MarkRead)
		}
	}

	return r, rateLimiter
}

// SetupServiceRouter configures and returns the internal service Gin engine.
// It must never be exposed publicly: issueToken mints credentials.
func SetupServiceRouter(cfg *config.Config, hub *realtime.Hub, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			log.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				log.Println("Shutdown signal sent successfully.")
			default:
				log.Println("Shutdown channel already signaled or blocked.")
			}

		case "issueToken":
			var args struct {
				UserID   string `json:"user_id"`
				Username string `json:"username"`
				IsAdmin  bool   `json:"is_admin"`
			}
			var argArray []json.RawMessage
			if err := json.Unmarshal(req.Arguments, &argArray); err != nil || len(argArray) != 1 || json.Unmarshal(argArray[0], &args) != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected [{user_id, username, is_admin}]"})
				return
			}
			if _, err := primitive.ObjectIDFromHex(args.UserID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid user_id"})
				return
			}
			token, err := auth.GenerateJWT(args.UserID, args.Username, args.IsAdmin, cfg.JwtSecret, cfg.JwtTTL)
			if err != nil {
				log.Printf("Service API: failed to issue token: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to issue token"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": token})

		case "roomMembers":
			var args []string
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected [inquiry_id]"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": hub.Members(args[0])})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
