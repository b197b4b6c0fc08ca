package services

import (
	"log/slog"
	"sync"
	"time"

	"meshforge/internal/core/domain"
)

// Event is one slot status transition, broadcast to pollers that prefer a
// push channel (SSE) over busy polling. Polling remains the completion
// mechanism; events are informational.
type Event struct {
	Slot      string            `json:"slot"`
	Status    domain.SlotStatus `json:"status"`
	Message   string            `json:"message,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // key: slot
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for one slot plus an
// unsubscribe func that closes it.
func (b *EventBus) Subscribe(slot string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16) // buffered so a slow reader cannot stall Publish
	b.subs[slot] = append(b.subs[slot], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subscribers := b.subs[slot]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[slot] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[slot]) == 0 {
			delete(b.subs, slot)
		}
	}
	return ch, unsub
}

// Publish fans the event out to all subscribers of its slot. Full
// subscriber buffers drop the event rather than block the orchestrator.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e.Slot] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("dropping slot event, subscriber buffer full", "slot", e.Slot)
		}
	}
}
