package events

import (
	"sync"

	"kb/internal/domain"
	"kb/internal/port"
)

// Handler observes published events.
type Handler func(domain.Event)

// Bus fans events out to subscribers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for every subsequent event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers ev to all handlers. A nil Bus drops events.
func (b *Bus) Publish(ev domain.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Discard is a publisher that drops everything.
type Discard struct{}

func (Discard) Publish(domain.Event) {}

var (
	_ port.EventPublisher = (*Bus)(nil)
	_ port.EventPublisher = Discard{}
)
