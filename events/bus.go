package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	id int
	fn Handler
}

// Bus is an in-memory event bus that stores subscriptions and dispatches
// events to them. Subscribers are either targeted at a single request or
// wildcard. Delivery is synchronous in subscription order, and a panicking
// handler never prevents delivery to the others.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	nextID    int
	byRequest map[uuid.UUID][]subscription
	wildcard  []subscription
}

// NewBus creates a new Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger:    logger.With("component", "event_bus"),
		byRequest: make(map[uuid.UUID][]subscription),
	}
}

// Subscribe registers h for events about a single request and returns a
// function that removes the subscription. Calling it more than once is safe.
func (b *Bus) Subscribe(requestID uuid.UUID, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byRequest[requestID] = append(b.byRequest[requestID], subscription{id: id, fn: h})
	b.logger.Debug("subscriber registered", "request_id", requestID, "subscription_id", id)
	return func() { b.removeTargeted(requestID, id) }
}

// SubscribeAll registers h for every event the engine publishes, including
// queue_empty. The returned function removes the subscription.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, subscription{id: id, fn: h})
	b.logger.Debug("wildcard subscriber registered", "subscription_id", id)
	return func() { b.removeWildcard(id) }
}

func (b *Bus) removeTargeted(requestID uuid.UUID, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byRequest[requestID]
	for i, s := range subs {
		if s.id == id {
			b.byRequest[requestID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.byRequest[requestID]) == 0 {
		delete(b.byRequest, requestID)
	}
}

func (b *Bus) removeWildcard(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.wildcard {
		if s.id == id {
			b.wildcard = append(b.wildcard[:i], b.wildcard[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to the request's subscribers first, then to wildcard
// subscribers, each group in subscription order. Subscriptions are
// snapshotted before delivery, so a handler subscribing mid-publish does not
// receive the in-flight event.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	var targeted []subscription
	if ev.RequestID != uuid.Nil {
		targeted = append([]subscription(nil), b.byRequest[ev.RequestID]...)
	}
	wildcard := append([]subscription(nil), b.wildcard...)
	b.mu.RUnlock()

	for _, s := range targeted {
		b.deliver(s, ev)
	}
	for _, s := range wildcard {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"panic", r,
				"event_type", ev.Type,
				"request_id", ev.RequestID)
		}
	}()
	s.fn(ev)
}

// DropRequest removes every subscription targeted at the given request.
// The engine calls it when a terminal request ages out of retention, so
// per-request listeners do not accumulate for the life of the bus.
func (b *Bus) DropRequest(requestID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byRequest, requestID)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.wildcard)
	for _, subs := range b.byRequest {
		n += len(subs)
	}
	return n
}
