package history

import (
	"sync"

	"github.com/rzbill/historykit/pkg/kit"
)

const subscriberBuffer = 16

type subscriber struct {
	ch   chan kit.Signal
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// Hub fans signals out to subscribers. Publish blocks until every live
// subscriber has accepted the signal, so subscribers must keep draining.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber. The cancel func is idempotent. After
// Close, Subscribe returns an already closed channel.
func (h *Hub) Subscribe() (<-chan kit.Signal, func()) {
	s := &subscriber{ch: make(chan kit.Signal, subscriberBuffer), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s.ch, func() {
		s.stop()
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
	}
}

// Publish delivers sig to every subscriber.
func (h *Hub) Publish(sig kit.Signal) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		select {
		case s.ch <- sig:
		case <-s.done:
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel; subscribed kits observe the closed
// source and stop.
func (h *Hub) Close() {
	h.mu.RLock()
	for s := range h.subs {
		s.stop()
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	h.subs = nil
}
