package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"uniattend/internal/metrics"
)

// Frame is the wire shape of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks which connections joined which rooms and delivers bus events.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
	conns map[*Conn]map[string]struct{}

	retryMin time.Duration
	retryMax time.Duration
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Conn]struct{}),
		conns: make(map[*Conn]map[string]struct{}),

		retryMin: 500 * time.Millisecond,
		retryMax: 15 * time.Second,
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = make(map[string]struct{})
	h.mu.Unlock()
	metrics.WSConnections.Inc()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	rooms, ok := h.conns[c]
	for room := range rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		metrics.WSConnections.Dec()
	}
}

// Join adds c to room.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.conns[c][room] = struct{}{}
}

// RoomSize reports how many connections joined room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Deliver writes env to every member of its room and returns how many
// connections accepted it.
func (h *Hub) Deliver(env Envelope) int {
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		log.Printf("[ERROR] encode frame %s: %v", env.Event, err)
		return 0
	}
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[env.Room]))
	for c := range h.rooms[env.Room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range members {
		if c.Send(frame) {
			sent++
		}
	}
	return sent
}

// Run delivers bus events until ctx ends. A failed or dropped subscription is
// retried with exponential backoff.
func (h *Hub) Run(ctx context.Context, bus Bus) {
	backoff := h.retryMin
	for {
		events, err := bus.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] realtime subscribe failed, retrying in %s: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, h.retryMax)
			continue
		}
		backoff = h.retryMin
		log.Printf("[INFO] realtime hub subscribed")
		for env := range events {
			h.Deliver(env)
		}
		if ctx.Err() != nil {
			log.Printf("[INFO] realtime hub stopped")
			return
		}
		log.Printf("[WARN] realtime subscription ended, resubscribing")
	}
}
