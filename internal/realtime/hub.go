package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"fieldops/inquiry/internal/models"
)

// ErrSlowClient is returned when a join reply could not be queued.
var ErrSlowClient = errors.New("client send buffer full")

const relayTimeout = 2 * time.Second

// HistoryLoader fetches the page pushed to a client on join.
type HistoryLoader func(ctx context.Context) ([]models.Message, error)

// Relay forwards locally published frames to other instances.
type Relay interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

type roomState struct {
	send sync.Mutex // held across append+publish and across join

	mu      sync.Mutex
	members map[*Client]struct{}

	refs int // sequences in flight plus members; guarded by Hub.mu
}

// Hub is the in-memory membership table of live rooms. Rooms are keyed by the
// hex id of the inquiry they are bound to.
type Hub struct {
	mu         sync.Mutex
	rooms      map[string]*roomState
	clients    map[*Client]struct{} // every open client, in a room or not
	sendBuffer int

	relayMu sync.RWMutex
	relay   Relay
}

// NewHub creates a hub whose clients queue up to sendBuffer frames.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		rooms:      make(map[string]*roomState),
		clients:    make(map[*Client]struct{}),
		sendBuffer: sendBuffer,
	}
}

// SetRelay attaches a cross-instance relay. nil detaches it.
func (h *Hub) SetRelay(r Relay) {
	h.relayMu.Lock()
	defer h.relayMu.Unlock()
	h.relay = r
}

func (h *Hub) acquire(key string) *roomState {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[key]
	if !ok {
		r = &roomState{members: make(map[*Client]struct{})}
		h.rooms[key] = r
		roomsActive.Inc()
	}
	r.refs++
	return r
}

func (h *Hub) release(key string, r *roomState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r.refs--
	if r.refs == 0 && h.rooms[key] == r {
		delete(h.rooms, key)
		roomsActive.Dec()
	}
}

// Sequence runs fn while holding the room's send lock.
func (h *Hub) Sequence(key string, fn func() error) error {
	r := h.acquire(key)
	defer h.release(key, r)
	r.send.Lock()
	defer r.send.Unlock()
	return fn()
}

// Join loads the history and registers the client under the room's send lock,
// so no live message can reach the client ahead of the history.
func (h *Hub) Join(ctx context.Context, c *Client, key string, load HistoryLoader) error {
	return h.Sequence(key, func() error {
		history, err := load(ctx)
		if err != nil {
			return err
		}
		if history == nil {
			history = []models.Message{}
		}
		payload, err := Encode(EventRoomJoined, RoomJoined{InquiryID: key, History: history})
		if err != nil {
			return err
		}
		if !c.Enqueue(payload) {
			h.drop(c)
			return ErrSlowClient
		}
		h.register(key, c)
		return nil
	})
}

func (h *Hub) register(key string, c *Client) {
	c.mu.Lock()
	_, already := c.rooms[key]
	c.rooms[key] = struct{}{}
	c.mu.Unlock()
	if already {
		return
	}
	r := h.acquire(key)
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()
}

// LeaveRoom removes the client from one room.
func (h *Hub) LeaveRoom(c *Client, key string) {
	c.mu.Lock()
	_, member := c.rooms[key]
	delete(c.rooms, key)
	c.mu.Unlock()
	if !member {
		return
	}
	h.mu.Lock()
	r := h.rooms[key]
	h.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.members, c)
	r.mu.Unlock()
	h.release(key, r)
}

// Leave removes the client from every room it joined.
func (h *Hub) Leave(c *Client) {
	for _, key := range c.Rooms() {
		h.LeaveRoom(c, key)
	}
}

// drop disconnects a client that can no longer be written to.
func (h *Hub) drop(c *Client) {
	select {
	case <-c.done:
		return
	default:
	}
	slowClients.Inc()
	log.Printf("Dropping chat client %s (user %s)", c.ID, c.Identity.UserID.Hex())
	h.Leave(c)
	c.Close()
}

// Publish pushes newMessage to every local member of the room, including the
// sender, then forwards the frame to the relay when one is attached.
func (h *Hub) Publish(key string, msg *models.Message) {
	payload, err := Encode(EventNewMessage, MessageEvent{Message: msg})
	if err != nil {
		log.Printf("Failed to encode message %d: %v", msg.ID, err)
		return
	}
	h.deliver(key, payload)
	broadcasts.WithLabelValues("local").Inc()

	h.relayMu.RLock()
	relay := h.relay
	h.relayMu.RUnlock()
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := relay.Publish(ctx, key, payload); err != nil {
		relayErrors.WithLabelValues("out").Inc()
		log.Printf("Failed to relay message %d for room %s: %v", msg.ID, key, err)
	}
}

// DeliverRemote fans out a frame received from another instance.
func (h *Hub) DeliverRemote(key string, payload []byte) {
	h.mu.Lock()
	_, live := h.rooms[key]
	h.mu.Unlock()
	if !live {
		return
	}
	_ = h.Sequence(key, func() error {
		h.deliver(key, payload)
		return nil
	})
	broadcasts.WithLabelValues("relay").Inc()
}

func (h *Hub) deliver(key string, payload []byte) {
	h.mu.Lock()
	r := h.rooms[key]
	h.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	members := make([]*Client, 0, len(r.members))
	for c := range r.members {
		members = append(members, c)
	}
	r.mu.Unlock()

	for _, c := range members {
		if !c.Enqueue(payload) {
			h.drop(c)
		}
	}
}

// Members returns the number of local members of a room.
func (h *Hub) Members(key string) int {
	h.mu.Lock()
	r := h.rooms[key]
	h.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (h *Hub) track(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) forget(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Clients returns the number of open clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every open client, including those that never joined a room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.Leave(c)
		c.Close()
	}
}
