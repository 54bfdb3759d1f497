// Package viewmodel holds headless widget models for applet drawers. They
// carry the state a GUI would show and publish changes to subscribers; no
// rendering happens here.
package viewmodel

import (
	"sync"

	"github.com/FynnBe/ilastik/internal/core/channel"
)

// SpinBox is an integer input with an inclusive range.
type SpinBox struct {
	name string

	mu       sync.Mutex
	min, max int
	value    int
	enabled  bool

	changed *channel.Broadcaster[int]
}

// NewSpinBox creates a spin box with range [0, 99] and value 0.
func NewSpinBox(name string) *SpinBox {
	return &SpinBox{name: name, max: 99, enabled: true, changed: channel.NewBroadcaster[int]("spinbox")}
}

func (s *SpinBox) Name() string { return s.name }

// SetRange sets the bounds, swapping them if given in reverse, and clamps
// the value. A clamped value is published like any other change.
func (s *SpinBox) SetRange(lo, hi int) {
	if lo > hi {
		lo, hi = hi, lo
	}
	s.mu.Lock()
	s.min, s.max = lo, hi
	s.mu.Unlock()
	s.SetValue(s.Value())
}

// Range returns the bounds.
func (s *SpinBox) Range() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.min, s.max
}

// SetValue clamps v into range and stores it. Subscribers are called only
// when the stored value changes. It reports whether it did.
func (s *SpinBox) SetValue(v int) bool {
	s.mu.Lock()
	v = min(max(v, s.min), s.max)
	if v == s.value {
		s.mu.Unlock()
		return false
	}
	s.value = v
	s.mu.Unlock()
	s.changed.Publish(v)
	return true
}

func (s *SpinBox) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// OnValueChanged subscribes fn to value changes.
func (s *SpinBox) OnValueChanged(fn func(int)) channel.Subscription { return s.changed.Subscribe(fn) }

// Unsubscribe removes a subscription made with OnValueChanged.
func (s *SpinBox) Unsubscribe(sub channel.Subscription) bool { return s.changed.Unsubscribe(sub) }

func (s *SpinBox) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
}

func (s *SpinBox) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// CheckBox is a boolean input.
type CheckBox struct {
	name    string
	mu      sync.Mutex
	checked bool
	toggled *channel.Broadcaster[bool]
}

func NewCheckBox(name string) *CheckBox {
	return &CheckBox{name: name, toggled: channel.NewBroadcaster[bool]("checkbox")}
}

func (c *CheckBox) Name() string { return c.name }

// SetChecked stores on and notifies subscribers if it changed.
func (c *CheckBox) SetChecked(on bool) bool {
	c.mu.Lock()
	if c.checked == on {
		c.mu.Unlock()
		return false
	}
	c.checked = on
	c.mu.Unlock()
	c.toggled.Publish(on)
	return true
}

func (c *CheckBox) Checked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checked
}

func (c *CheckBox) OnToggled(fn func(bool)) channel.Subscription { return c.toggled.Subscribe(fn) }

func (c *CheckBox) Unsubscribe(sub channel.Subscription) bool { return c.toggled.Unsubscribe(sub) }

// Label is display text.
type Label struct {
	mu   sync.Mutex
	text string
}

func NewLabel(text string) *Label { return &Label{text: text} }

func (l *Label) SetText(s string) {
	l.mu.Lock()
	l.text = s
	l.mu.Unlock()
}

func (l *Label) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}
