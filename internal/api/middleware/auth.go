package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fieldops/inquiry/internal/auth"
	"fieldops/inquiry/internal/models"
)

const (
	// ContextKeyActor holds the key for the authenticated models.Actor in Gin context.
	ContextKeyActor = "actor"
	// ContextKeyIsAdmin holds the key for admin status in Gin context.
	ContextKeyIsAdmin = "isAdmin"
)

// BearerToken extracts the token from "Authorization: Bearer ...". Browsers cannot set
// headers on a websocket handshake, so the "token" query parameter is accepted as well.
func BearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", fmt.Errorf("authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("authorization header format must be Bearer {token}")
	}
	return parts[1], nil
}

// Authenticate validates a token and returns the caller identity.
func Authenticate(tokenString, jwtSecret string) (models.Actor, error) {
	claims, err := auth.ValidateJWT(tokenString, jwtSecret)
	if err != nil {
		return models.Actor{}, err
	}
	return claims.Actor()
}

// OptionalAuthMiddleware stores the caller identity when a valid token is present
// and lets guests through untouched.
func OptionalAuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c)
		if err == nil {
			actor, authErr := Authenticate(tokenString, jwtSecret)
			if authErr != nil {
				log.Printf("DEBUG: Invalid optional auth token on %s: %v", c.FullPath(), authErr)
			} else {
				c.Set(ContextKeyActor, actor)
				c.Set(ContextKeyIsAdmin, actor.IsAdmin)
			}
		}
		c.Next()
	}
}

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFromContext(c); ok {
			c.Next()
			return
		}

		tokenString, err := BearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		actor, err := Authenticate(tokenString, jwtSecret)
		if err != nil {
			errMsg := fmt.Sprintf("Invalid or expired token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMsg})
			return
		}

		c.Set(ContextKeyActor, actor)
		c.Set(ContextKeyIsAdmin, actor.IsAdmin)

		c.Next()
	}
}

// AdminMiddleware creates a Gin middleware to check for admin privileges.
// Assumes AuthMiddleware runs first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyIsAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator privileges required"})
			return
		}
		c.Next()
	}
}

// ActorFromContext returns the identity stored by the auth middlewares.
func ActorFromContext(c *gin.Context) (models.Actor, bool) {
	val, exists := c.Get(ContextKeyActor)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := val.(models.Actor)
	return actor, ok
}
