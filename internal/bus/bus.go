// Package bus provides the in-process publish/subscribe channel that
// decouples the cache engine from whatever presentation layer consumes it.
package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to subscribers filtered by kind prefix.
// Publish never blocks: a subscriber that cannot keep up loses events.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription is one registered listener on the bus.
type Subscription struct {
	prefix string
	ch     chan Event
	cancel func()
}

// C returns the receive channel for the subscription.
func (s *Subscription) C() <-chan Event { return s.ch }

// Cancel removes the subscription from the bus. Idempotent.
func (s *Subscription) Cancel() { s.cancel() }

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
				// Slow subscriber; drop rather than stall the engine.
			}
		}
	}
}

// Subscribe registers a listener for events whose kind starts with prefix.
// An empty prefix matches everything. buf sets the channel buffer size.
func (b *Bus) Subscribe(prefix string, buf int) *Subscription {
	sub := &Subscription{prefix: prefix, ch: make(chan Event, buf)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			// Publish sends under the read lock, so no send can be in
			// flight once we hold the write lock; closing here is safe
			// and lets range loops over C() terminate.
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
	return sub
}
