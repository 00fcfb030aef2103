package middleware

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/time/rate"

	"fieldops/inquiry/internal/config"
)

// clientLimiter stores rate limiters for a specific client.
type clientLimiter struct {
	softLimiter *rate.Limiter
	hardLimiter *rate.Limiter
	lastSeen    time.Time
}

// RateLimiterMiddleware manages rate limiting for API endpoints.
// Guests are held to the soft bucket; signed-in callers only to the hard one.
type RateLimiterMiddleware struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex
	cfg     *config.Config
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware.
func NewRateLimiterMiddleware(cfg *config.Config) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients: make(map[string]*clientLimiter),
		cfg:     cfg,
		done:    make(chan struct{}),
	}
	// Start a background goroutine to clean up old client entries
	go rm.cleanupClients(10*time.Minute, 30*time.Minute)
	return rm
}

// Close stops the cleanup goroutine.
func (rm *RateLimiterMiddleware) Close() {
	rm.once.Do(func() { close(rm.done) })
}

// getClientIdentifier keys signed-in users by account so one user on several devices
// shares a bucket; guests are keyed by IP.
func getClientIdentifier(c *gin.Context) string {
	if actor, ok := ActorFromContext(c); ok {
		return userKey(actor.UserID)
	}
	return "ip|" + c.ClientIP()
}

func userKey(userID primitive.ObjectID) string {
	return "user|" + userID.Hex()
}

// AllowUser takes one token from a signed-in user's hard bucket, the bucket
// their HTTP requests draw from. Used for traffic that bypasses the middleware,
// such as websocket events.
func (rm *RateLimiterMiddleware) AllowUser(userID primitive.ObjectID) bool {
	return rm.getClientLimiter(userKey(userID)).hardLimiter.Allow()
}

// getClientLimiter retrieves or creates the rate limiters for a given client identifier.
func (rm *RateLimiterMiddleware) getClientLimiter(identifier string) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[identifier]
	if !exists {
		limiter = &clientLimiter{
			softLimiter: rate.NewLimiter(rate.Limit(rm.cfg.RateLimitSoftRefillRate), rm.cfg.RateLimitSoftBucketSize),
			hardLimiter: rate.NewLimiter(rate.Limit(rm.cfg.RateLimitHardRefillRate), rm.cfg.RateLimitHardBucketSize),
		}
		rm.clients[identifier] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter
}

// cleanupClients periodically removes old client entries from the map.
func (rm *RateLimiterMiddleware) cleanupClients(interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.done:
			return
		case <-ticker.C:
		}
		rm.mu.Lock()
		count := 0
		for id, client := range rm.clients {
			if time.Since(client.lastSeen) > idle {
				delete(rm.clients, id)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d old client entries.", count)
		}
	}
}

// Limit creates the Gin middleware handler. Run it after OptionalAuthMiddleware.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := getClientIdentifier(c)
		limiter := rm.getClientLimiter(clientKey)

		if !limiter.hardLimiter.Allow() {
			log.Printf("Hard rate limit exceeded for client: %s on %s", clientKey, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		_, signedIn := ActorFromContext(c)
		if !signedIn && !limiter.softLimiter.Allow() {
			log.Printf("Soft rate limit exceeded for guest: %s on %s", clientKey, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, sign in for a higher limit"})
			return
		}

		c.Next()
	}
}
