package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"uniattend/internal/metrics"
)

const publishTimeout = 2 * time.Second

// Broadcaster publishes domain events to the bus. Failures are logged and
// counted, never returned: the caller's write has already committed.
type Broadcaster struct {
	bus Bus
}

// NewBroadcaster wraps bus.
func NewBroadcaster(bus Bus) *Broadcaster {
	return &Broadcaster{bus: bus}
}

// Notify sends data to room as event.
func (b *Broadcaster) Notify(ctx context.Context, room, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		metrics.Broadcasts.WithLabelValues(event, "error").Inc()
		log.Printf("[ERROR] encode %s for %s: %v", event, room, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := b.bus.Publish(ctx, Envelope{Room: room, Event: event, Data: payload}); err != nil {
		metrics.Broadcasts.WithLabelValues(event, "error").Inc()
		log.Printf("[WARN] publish %s to %s: %v", event, room, err)
		return
	}
	metrics.Broadcasts.WithLabelValues(event, "ok").Inc()
}
