// Package bus is a best-effort in-process event bus. Delivery is
// non-blocking: a subscriber that falls behind loses events rather than
// stalling publishers.
package bus

import (
	"sync"
	"time"
)

// Event is a published message on a topic.
type Event struct {
	Topic   string
	At      time.Time
	Payload any
}

// Bus fans events out to subscribers by topic.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a buffered channel receiving events for topic.
func (b *Bus) Subscribe(topic string, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return ch
}

// Publish delivers the event to every subscriber of topic that has buffer
// space. No delivery guarantee.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, At: time.Now().UTC(), Payload: payload}

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is full; drop.
		}
	}
}
