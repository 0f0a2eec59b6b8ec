// Package eventbus implements a named-topic, in-process publish/subscribe
// bus. Delivery order among one topic's subscribers is insertion order;
// a handler that panics never prevents other handlers from receiving the
// event.
package eventbus

import (
	"sync"

	"github.com/overblick/agentcore/pkg/contracts"
	"github.com/rs/zerolog/log"
)

type subscription struct {
	id      int
	handler contracts.EventHandler
}

// Bus is the concrete implementation of contracts.EventBus.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID int
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

var _ contracts.EventBus = (*Bus)(nil)

// Subscribe registers a handler on a topic and returns a handle usable
// with Unsubscribe.
func (b *Bus) Subscribe(topic string, handler contracts.EventHandler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(topic string, handlerID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == handlerID {
			b.topics[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every subscriber of topic, in registration
// order, isolating panics per-handler, and returns the number delivered.
func (b *Bus) Emit(topic string, payload map[string]any) int {
	b.mu.RLock()
	subs := make([]subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("topic", topic).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			s.handler(payload)
			delivered++
		}()
	}
	return delivered
}
