package channel

import (
	"sync"
	"sync/atomic"

	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// Subscription identifies one registered callback. Go funcs are not
// comparable, so callers keep the subscription to unregister later.
type Subscription uint64

var nextSubscription atomic.Uint64

// Broadcaster delivers values synchronously to its subscribers
// PRINCIPLES:
// - KISS: ordered slice of callbacks, no goroutines
// - Callbacks run outside the lock so they may subscribe, unsubscribe or publish
type Broadcaster[T any] struct {
	name   string
	mu     sync.RWMutex
	subs   []subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	id Subscription
	fn func(T)
}

// NewBroadcaster creates a broadcaster. The name labels its metrics.
func NewBroadcaster[T any](name string) *Broadcaster[T] {
	return &Broadcaster[T]{name: name}
}

// Subscribe registers fn and returns its handle. Subscribing to a closed
// broadcaster returns 0 and fn is never called.
func (b *Broadcaster[T]) Subscribe(fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || fn == nil {
		return 0
	}
	id := Subscription(nextSubscription.Add(1))
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	return id
}

// Unsubscribe removes a callback. It reports whether it was registered.
func (b *Broadcaster[T]) Unsubscribe(id Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish calls every subscriber in subscription order.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	imetrics.NotificationsSent(b.name, int64(len(subs)))
	for _, s := range subs {
		s.fn(v)
	}
}

// Len is the number of current subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscribers; later publishes are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
}
