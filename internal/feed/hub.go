package feed

import (
	"sync"

	"github.com/mfiorillo/faqbot/internal/exchange"
)

// Hub fans committed exchange records out to live subscribers (the websocket
// feed). Publishing never blocks: a subscriber that cannot keep up misses
// events rather than stalling the chat pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan exchange.Record]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan exchange.Record]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away; it closes the channel.
func (h *Hub) Subscribe() (<-chan exchange.Record, func()) {
	ch := make(chan exchange.Record, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a record to every subscriber that has buffer space.
func (h *Hub) Publish(record exchange.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- record:
		default:
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
