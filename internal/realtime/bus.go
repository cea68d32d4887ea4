package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Event names pushed to clients.
const (
	EventNewSession       = "new-session"
	EventSessionUpdated   = "session-updated"
	EventSessionEnded     = "session-ended"
	EventAttendanceMarked = "attendance-marked"
)

// Room names the broadcast channel for one department and level.
func Room(deptID, level string) string {
	return fmt.Sprintf("dept-%s-level-%s", deptID, level)
}

// Envelope is one event addressed to a room.
type Envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Bus carries envelopes between the processes that produce events and the
// ones holding websocket connections.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}

// InMemory is a process-local bus for single-instance deployments and tests.
type InMemory struct {
	mu   sync.RWMutex
	subs map[chan Envelope]struct{}
	size int
}

// NewInMemory creates a bus whose subscribers buffer size envelopes each.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{subs: make(map[chan Envelope]struct{}), size: size}
}

// Publish hands env to every subscriber. A subscriber with a full buffer
// misses the event.
func (b *InMemory) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			log.Printf("[WARN] memory bus subscriber full, dropped %s for %s", env.Event, env.Room)
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx ends.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ch := make(chan Envelope, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// RedisBus fans envelopes out over a Redis pub/sub channel so the API and the
// standalone sweeper share one event stream.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus builds a bus on the given channel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "uniattend:events"
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish sends env as JSON.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe streams envelopes until ctx ends. The subscription is confirmed
// before returning so no event published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("[WARN] redis bus: bad payload: %v", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
