// Package channel provides in-memory channel implementation
package channel

import (
	"context"
	"sync"
	"time"

	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// InMemoryChannel provides a buffered event queue
// PRINCIPLES:
// - KISS: Simple channel with basic operations
// - SRP: Single responsibility - in-memory event passing
// - Thread-safe: Uses proper synchronization
type InMemoryChannel struct {
	events     chan Event
	closed     bool
	mu         sync.RWMutex
	timeout    time.Duration
	dropOnFull bool
}

// InMemoryChannelConfig holds configuration for InMemoryChannel
type InMemoryChannelConfig struct {
	BufferSize int           // Buffer size for the channel
	Timeout    time.Duration // Default timeout for operations
	DropOnFull bool          // Drop events instead of blocking when the buffer is full
}

// NewInMemoryChannel creates a new in-memory channel
func NewInMemoryChannel(config InMemoryChannelConfig) *InMemoryChannel {
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &InMemoryChannel{
		events:     make(chan Event, config.BufferSize),
		timeout:    config.Timeout,
		dropOnFull: config.DropOnFull,
	}
}

// DefaultInMemoryChannel creates an in-memory channel with default settings
func DefaultInMemoryChannel() *InMemoryChannel {
	return NewInMemoryChannel(InMemoryChannelConfig{BufferSize: 256, Timeout: 5 * time.Second})
}

// Send enqueues an event
func (c *InMemoryChannel) Send(ctx context.Context, event Event) error {
	if c.dropOnFull {
		return c.TrySend(event)
	}
	if err := event.Validate(); err != nil {
		return err
	}

	// The read lock is held across the send so Close cannot close the
	// underlying channel while a send is pending.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case c.events <- event:
		imetrics.EventQueued(string(event.Type))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

// TrySend enqueues an event without blocking. It returns ErrTimeout when the
// buffer is full.
func (c *InMemoryChannel) TrySend(event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.events <- event:
		imetrics.EventQueued(string(event.Type))
		return nil
	default:
		imetrics.EventDropped(string(event.Type))
		return ErrTimeout
	}
}

// Receive dequeues the next event. After Close the remaining events are
// still delivered, then ErrChannelClosed.
func (c *InMemoryChannel) Receive(ctx context.Context) (Event, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, ErrChannelClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-timer.C:
		return Event{}, ErrTimeout
	}
}

// Drain returns all queued events without waiting.
func (c *InMemoryChannel) Drain() []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Close closes the channel
func (c *InMemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.events)
	return nil
}

// Len returns the number of events currently queued
func (c *InMemoryChannel) Len() int {
	return len(c.events)
}

// Cap returns the capacity of the channel
func (c *InMemoryChannel) Cap() int {
	return cap(c.events)
}

// IsClosed returns whether the channel is closed
func (c *InMemoryChannel) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Stats returns channel statistics
func (c *InMemoryChannel) Stats() InMemoryChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return InMemoryChannelStats{
		Length:   len(c.events),
		Capacity: cap(c.events),
		Closed:   c.closed,
	}
}

// InMemoryChannelStats provides channel statistics
type InMemoryChannelStats struct {
	Length   int  `json:"length"`
	Capacity int  `json:"capacity"`
	Closed   bool `json:"closed"`
}
