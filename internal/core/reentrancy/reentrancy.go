// Package reentrancy provides a scoped guard that rejects nested entry.
//
// A Guard replaces an "updating" boolean that two callback chains flip by
// convention. Entering hands out a Token; only the holder of the token can
// leave, and leaving twice is harmless.
package reentrancy

import "sync"

// Guard admits one holder at a time. The zero value is ready to use.
type Guard struct {
	mu    sync.Mutex
	held  *Token
	name  string
	count uint64
}

// Token is proof of having entered a Guard.
type Token struct {
	guard *Guard
	once  sync.Once
}

// New returns a named guard. The name is only used by String.
func New(name string) *Guard {
	return &Guard{name: name}
}

// Enter acquires the guard. It returns false, and a nil token, when the guard
// is already held; the caller must then skip its update.
func (g *Guard) Enter() (*Token, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held != nil {
		return nil, false
	}
	t := &Token{guard: g}
	g.held = t
	g.count++
	return t, true
}

// Release leaves the guard. Only the first call has an effect.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		g := t.guard
		g.mu.Lock()
		if g.held == t {
			g.held = nil
		}
		g.mu.Unlock()
	})
}

// Do runs fn while holding the guard and reports whether it ran. The guard is
// released when fn returns or panics.
func (g *Guard) Do(fn func()) bool {
	tok, ok := g.Enter()
	if !ok {
		return false
	}
	defer tok.Release()
	fn()
	return true
}

// Busy reports whether the guard is currently held.
func (g *Guard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held != nil
}

// Entries is the number of successful Enter calls so far.
func (g *Guard) Entries() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *Guard) String() string {
	if g.name == "" {
		return "reentrancy.Guard"
	}
	return "reentrancy.Guard(" + g.name + ")"
}
