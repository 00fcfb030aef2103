package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RelayChannel is the Redis pub/sub channel shared by every instance.
const RelayChannel = "chat:broadcast"

type relayFrame struct {
	Origin  string          `json:"origin"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay forwards broadcasts between instances over Redis pub/sub.
// Ordering across instances follows Redis delivery order only.
type RedisRelay struct {
	rdb     *redis.Client
	origin  string
	channel string
}

// NewRedisRelay creates a relay with a fresh instance identity.
func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb, origin: uuid.NewString(), channel: RelayChannel}
}

// Origin is the identity stamped on frames sent by this instance.
func (r *RedisRelay) Origin() string {
	return r.origin
}

func (r *RedisRelay) Publish(ctx context.Context, key string, payload []byte) error {
	frame, err := json.Marshal(relayFrame{Origin: r.origin, Key: key, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode relay frame: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, frame).Err()
}

// Run subscribes to the relay channel and hands frames from other instances to
// the hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for confirmation that the subscription exists before relaying anything.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	ch := pubsub.Channel()
	log.Println("Subscribed to Redis channel for chat relay:", r.channel)

	for {
		select {
		case <-ctx.Done():
			log.Println("Chat relay listener stopped.")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				relayErrors.WithLabelValues("in").Inc()
				log.Printf("Discarding malformed relay frame: %v", err)
				continue
			}
			if frame.Origin == r.origin {
				continue
			}
			hub.DeliverRemote(frame.Key, frame.Payload)
		}
	}
}
