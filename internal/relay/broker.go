// Package relay fans coordinator notifications out to the UI layer over
// SSE: recovery activations/clears, restart-recovery outcomes, and session
// health changes.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 64

// Feed names published by the coordinator.
const (
	FeedRecovery = "recovery"
	FeedCredits  = "credits"
	FeedSession  = "session"
)

// Event is a single notification. Payload is the JSON-encoded body.
type Event struct {
	Feed    string
	Payload string
}

// Broker fans out events to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a new client. The channel is buffered; slow
// consumers have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish marshals body and sends it to all subscribers. Non-blocking:
// slow clients have events dropped.
func (b *Broker) Publish(feed string, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("relay: marshal event", "feed", feed, "error", err)
		return
	}
	evt := Event{Feed: feed, Payload: string(data)}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
