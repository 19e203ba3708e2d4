// Package events implements Design Notes §9's replacement for a global
// "add state change listener" pattern: an internal publish/subscribe hub
// delivering typed events into bounded, cancellable channels. Grounded on
// the teacher's Broker (subscribers map + buffered eventCh + non-blocking
// per-subscriber fanout), generalized from a single untyped Event to the
// ServiceStateChanged shape this engine actually needs.
package events

import (
	"sync"
	"time"

	"github.com/fleetedge/deployd/pkg/types"
)

// ServiceStateChanged is published whenever a managed service's lifecycle
// state transitions, per Design Notes §9.
type ServiceStateChanged struct {
	DeploymentID string
	Service      string
	Old          types.ServiceLifecycleState
	New          types.ServiceLifecycleState
	Timestamp    time.Time
}

// Subscriber is a channel that receives ServiceStateChanged events.
type Subscriber chan ServiceStateChanged

// Broker fans out ServiceStateChanged events to every current subscriber.
// A slow subscriber drops events past its buffer rather than blocking the
// publisher, matching the teacher's "subscriber buffer full, skip" policy.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan ServiceStateChanged
	stopCh      chan struct{}
}

// NewBroker constructs a Broker. Call Start to begin distribution.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan ServiceStateChanged, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution. It is safe to call at most once.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscription with a per-subscriber buffer.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe cancels a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues event for distribution. If the broker has been stopped,
// Publish is a no-op.
func (b *Broker) Publish(event ServiceStateChanged) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event ServiceStateChanged) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
