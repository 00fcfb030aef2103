package realtime

import (
	"log"
	"sync"
	"time"

	"fieldops/inquiry/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 50 * time.Second
)

// Conn is the write side of a websocket connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live connection. Frames are queued on a bounded channel and
// written by a single goroutine, so a client sees frames in queue order.
type Client struct {
	ID       string
	Identity models.Actor // zero UserID for anonymous connections

	hub  *Hub
	conn Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	rooms     map[string]struct{}
}

// NewClient registers a connection with the hub. Call WritePump in its own goroutine.
func (h *Hub) NewClient(conn Conn, identity models.Actor) *Client {
	connectionsOpen.Inc()
	c := &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
	h.track(c)
	return c
}

// Authenticated reports whether the connection presented a valid token.
func (c *Client) Authenticated() bool {
	return !c.Identity.UserID.IsZero()
}

// Enqueue queues a frame without blocking. It returns false when the client
// is closed or its buffer is full.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		deliveries.Inc()
		return true
	default:
		return false
	}
}

// SendEvent encodes and queues a direct reply. A full buffer drops the client.
func (c *Client) SendEvent(event string, data any) {
	payload, err := Encode(event, data)
	if err != nil {
		log.Printf("Failed to encode %s event: %v", event, err)
		return
	}
	if !c.Enqueue(payload) {
		c.hub.drop(c)
	}
}

// Rooms returns the keys of the rooms the client has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.rooms))
	for k := range c.rooms {
		keys = append(keys, k)
	}
	return keys
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops the writer and closes the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.forget(c)
		connectionsOpen.Dec()
	})
}

// WritePump drains the send queue to the connection until the client is closed
// or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Chat client %s write failed: %v", c.ID, err)
				c.hub.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
