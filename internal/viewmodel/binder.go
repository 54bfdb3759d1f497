package viewmodel

import (
	"sync"
	"sync/atomic"

	"github.com/FynnBe/ilastik/internal/core/channel"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/reentrancy"
)

// Binder couples a view to an operator through two one-way channels: view
// edits flow to the model handlers, model changes flow to the view handlers.
// A single reentrancy guard spans both directions, so an update triggered
// while a handler runs is dropped instead of bouncing back.
type Binder struct {
	guard   *reentrancy.Guard
	toModel *channel.Broadcaster[string]
	toView  *channel.Broadcaster[string]
	dropped atomic.Int64
}

// NewBinder creates a binder; name labels its guard.
func NewBinder(name string) *Binder {
	return &Binder{
		guard:   reentrancy.New(name),
		toModel: channel.NewBroadcaster[string]("binder_to_model"),
		toView:  channel.NewBroadcaster[string]("binder_to_view"),
	}
}

// OnViewChanged registers a handler that writes view state into the model.
func (b *Binder) OnViewChanged(fn func(source string)) channel.Subscription {
	return b.toModel.Subscribe(fn)
}

// OnModelChanged registers a handler that refreshes the view from the model.
func (b *Binder) OnModelChanged(fn func(source string)) channel.Subscription {
	return b.toView.Subscribe(fn)
}

// ViewChanged announces a view edit. It reports false when the update was
// dropped because a handler is already running.
func (b *Binder) ViewChanged(source string) bool { return b.publish(b.toModel, source) }

// ModelChanged announces a model change.
func (b *Binder) ModelChanged(source string) bool { return b.publish(b.toView, source) }

func (b *Binder) publish(to *channel.Broadcaster[string], source string) bool {
	ok := b.guard.Do(func() { to.Publish(source) })
	if !ok {
		b.dropped.Add(1)
	}
	return ok
}

// Busy reports whether a handler is running.
func (b *Binder) Busy() bool { return b.guard.Busy() }

// Dropped counts updates suppressed by the guard.
func (b *Binder) Dropped() int64 { return b.dropped.Load() }

// WatchSlot forwards dirtiness and meta changes of s as model changes. The
// returned func undoes the registration.
func (b *Binder) WatchSlot(s *graph.Slot) func() {
	name := s.FullName()
	dirty := s.NotifyDirty(func(graph.DirtyEvent) { b.ModelChanged(name) })
	meta := s.NotifyMetaChanged(func(*graph.Slot) { b.ModelChanged(name) })
	return func() {
		s.UnregisterDirty(dirty)
		s.UnregisterMetaChanged(meta)
	}
}

// Close drops every handler.
func (b *Binder) Close() {
	b.toModel.Close()
	b.toView.Close()
}

// Cleanups collects undo functions and runs them once, newest first.
type Cleanups struct {
	mu  sync.Mutex
	fns []func()
}

// Add registers fn.
func (c *Cleanups) Add(fn func()) {
	c.mu.Lock()
	c.fns = append(c.fns, fn)
	c.mu.Unlock()
}

// Len is the number of pending cleanups.
func (c *Cleanups) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fns)
}

// Run calls every registered func and forgets them.
func (c *Cleanups) Run() {
	c.mu.Lock()
	fns := c.fns
	c.fns = nil
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
