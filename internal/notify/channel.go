// Package notify carries realtime events from stage workers to the
// notification sink through a single buffered channel with one consumer.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kbingest/internal/metrics"
)

type EventType string

const (
	EventItemStatus    EventType = "item:status"
	EventBatchProgress EventType = "batch:progress"
	EventBatchComplete EventType = "batch:complete"
)

// Event is addressed to one owner. Data must be JSON-serialisable.
type Event struct {
	OwnerID string
	Type    EventType
	Data    any
}

// ItemStatus reports an item reaching a terminal state.
type ItemStatus struct {
	ItemID string `json:"itemId"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// BatchComplete is the final tally of a batch.
type BatchComplete struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Sink delivers an event payload to an owner's subscribers.
type Sink interface {
	Publish(ctx context.Context, ownerID, eventType string, payload []byte) error
}

// Publisher is the producer side handed to stage workers.
type Publisher interface {
	Publish(ev Event) bool
}

type Channel struct {
	events  chan Event
	sink    Sink
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewChannel(sink Sink, buffer int) *Channel {
	if buffer <= 0 {
		buffer = 1
	}
	return &Channel{
		events:  make(chan Event, buffer),
		sink:    sink,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

// Publish enqueues ev without blocking. It reports false when the event
// was dropped because the buffer is full or the channel is closed.
func (c *Channel) Publish(ev Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.events <- ev:
		return true
	default:
		metrics.NotificationsDropped.Inc()
		slog.Warn("notification buffer full, dropping event", "owner_id", ev.OwnerID, "event", ev.Type)
		return false
	}
}

// Run delivers events to the sink until Close is called and the buffer is
// drained, or ctx is cancelled.
func (c *Channel) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			c.deliver(ctx, ev)
		}
	}
}

// Close stops accepting events. Run returns once the buffer is drained.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// Done is closed when Run returns.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) deliver(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode notification", "event", ev.Type, "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.sink.Publish(sendCtx, ev.OwnerID, string(ev.Type), payload); err != nil {
		slog.WarnContext(ctx, "notification delivery failed", "owner_id", ev.OwnerID, "event", ev.Type, "error", err)
	}
}
