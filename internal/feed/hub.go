// Package feed fans change events out to live subscribers over SSE and
// websockets. Events only say what changed; subscribers re-read the views
// they care about.
package feed

import (
	"sync"

	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// Buffer is the per-subscriber queue depth. A full queue drops events.
const Buffer = 32

type subscriber struct {
	ch     chan domain.ChangeEvent
	userID string // empty receives everything
}

func (s *subscriber) wants(ev domain.ChangeEvent) bool {
	return s.userID == "" || ev.UserID == "" || ev.UserID == s.userID
}

// Hub is an in-process publish/subscribe fan-out.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish delivers ev to every interested subscriber without blocking.
func (h *Hub) Publish(ev domain.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			metrics.FeedDropped.Inc()
		}
	}
}

// Subscribe registers a subscriber for userID's events (all events when
// empty). The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(userID string) (<-chan domain.ChangeEvent, func()) {
	s := &subscriber{ch: make(chan domain.ChangeEvent, Buffer), userID: userID}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}
