package graph

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/core/channel"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// Direction tells inputs from outputs.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// DirtyEvent reports that the data of Slot changed inside Roi. A zero Roi
// means the whole slot.
type DirtyEvent struct {
	Slot *Slot
	Roi  Roi
}

// SlotOption configures a slot at creation.
type SlotOption func(*Slot)

// Optional marks an input that does not have to be ready for the operator to
// set up its outputs.
func Optional() SlotOption { return func(s *Slot) { s.optional = true } }

// WithDefault gives an input an initial value.
func WithDefault(v any) SlotOption {
	return func(s *Slot) {
		s.value = v
		s.hasValue = true
		s.meta = metaOfValue(v)
	}
}

// Slot is a typed connection point of an operator.
//
// Structural changes (Connect, Disconnect, SetValue) are expected from one
// goroutine at a time. Reads and requests may run concurrently with them.
type Slot struct {
	name     string
	op       *OperatorBase
	dir      Direction
	optional bool

	mu         sync.RWMutex
	upstream   *Slot
	downstream []*Slot
	value      any
	hasValue   bool
	meta       Meta
	ready      bool // outputs without upstream only
	changedSet bool // outputs: meta or value changed during SetupOutputs

	dirty       *channel.Broadcaster[DirtyEvent]
	metaChanged *channel.Broadcaster[*Slot]
}

func newSlot(op *OperatorBase, name string, dir Direction, opts ...SlotOption) *Slot {
	s := &Slot{
		name:        name,
		op:          op,
		dir:         dir,
		dirty:       channel.NewBroadcaster[DirtyEvent]("dirty"),
		metaChanged: channel.NewBroadcaster[*Slot]("meta_changed"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns the slot name.
func (s *Slot) Name() string { return s.name }

// FullName is "<operator>.<slot>".
func (s *Slot) FullName() string {
	if s.op == nil {
		return s.name
	}
	return s.op.Name() + "." + s.name
}

// Operator returns the owning operator base.
func (s *Slot) Operator() *OperatorBase { return s.op }

// Direction returns whether the slot is an input or an output.
func (s *Slot) Direction() Direction { return s.dir }

// IsOptional reports whether readiness of this input is required.
func (s *Slot) IsOptional() bool { return s.optional }

// Upstream returns the slot this one reads from, if any.
func (s *Slot) Upstream() *Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream
}

// Downstream returns a snapshot of the slots reading from this one.
func (s *Slot) Downstream() []*Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Slot, len(s.downstream))
	copy(out, s.downstream)
	return out
}

// Connected reports whether the slot has an upstream.
func (s *Slot) Connected() bool { return s.Upstream() != nil }

// Connect makes s read from upstream. A slot has at most one upstream;
// connecting replaces the previous one. Connections that close a cycle are
// rejected.
func (s *Slot) Connect(upstream *Slot) error {
	if upstream == nil {
		return ErrNilSlot
	}
	if upstream == s {
		return ErrSelfConnection
	}
	if s.Upstream() == upstream {
		return nil
	}
	if s.reaches(upstream) {
		return fmt.Errorf("%w: %s -> %s", ErrCyclicConnection, upstream.FullName(), s.FullName())
	}
	s.detach()

	s.mu.Lock()
	s.upstream = upstream
	s.value, s.hasValue = nil, false
	s.mu.Unlock()

	upstream.mu.Lock()
	upstream.downstream = append(upstream.downstream, s)
	upstream.mu.Unlock()

	s.logger().Debug().Str("from", upstream.FullName()).Str("to", s.FullName()).Msg("connected")
	s.changed()
	if s.Ready() {
		s.SetDirty(Roi{})
	}
	return nil
}

// Disconnect removes the upstream connection, if any.
func (s *Slot) Disconnect() {
	if s.Upstream() == nil {
		return
	}
	s.detach()
	s.changed()
}

func (s *Slot) detach() {
	s.mu.Lock()
	up := s.upstream
	s.upstream = nil
	s.mu.Unlock()
	if up == nil {
		return
	}
	up.mu.Lock()
	for i, d := range up.downstream {
		if d == s {
			up.downstream = append(up.downstream[:i:i], up.downstream[i+1:]...)
			break
		}
	}
	up.mu.Unlock()
}

// reaches reports whether target is downstream of s, following connections
// and, for inputs, the outputs of the owning operator.
func (s *Slot) reaches(target *Slot) bool {
	seen := map[*Slot]bool{}
	stack := []*Slot{s}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, cur.Downstream()...)
		if cur.dir == Input && cur.op != nil {
			stack = append(stack, cur.op.Outputs()...)
		}
	}
	return false
}

// SetValue assigns a value to an input and notifies dependents. A connected
// input is disconnected first. Setting an equal value is a no-op.
func (s *Slot) SetValue(v any) error {
	return s.setValue(v, metaOfValue(v))
}

// SetValueWithMeta is SetValue with an explicit meta, e.g. to attach a data
// range to an array.
func (s *Slot) SetValueWithMeta(v any, m Meta) error {
	return s.setValue(v, m.Clone())
}

func (s *Slot) setValue(v any, m Meta) error {
	if s.dir != Input {
		return fmt.Errorf("%w: %s", ErrNotAnInput, s.FullName())
	}
	if s.Upstream() != nil {
		s.detach()
	} else if s.sameValue(v, m) {
		return nil
	}
	s.mu.Lock()
	s.value = v
	s.hasValue = true
	s.meta = m
	s.mu.Unlock()

	s.changed()
	s.SetDirty(Roi{})
	return nil
}

func (s *Slot) sameValue(v any, m Meta) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasValue || !s.meta.Equal(m) {
		return false
	}
	if a, ok := v.(*ndarray.Array); ok {
		b, ok := s.value.(*ndarray.Array)
		return ok && a == b
	}
	return reflect.DeepEqual(s.value, v)
}

// Value returns the stored value of the slot, following upstream
// connections. Values computed on demand by an operator are read with
// GetValue.
func (s *Slot) Value() any {
	if up := s.Upstream(); up != nil {
		return up.Value()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// HasValue reports whether Value returns a stored value.
func (s *Slot) HasValue() bool {
	if up := s.Upstream(); up != nil {
		return up.HasValue()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasValue
}

// ValueAs returns the slot value converted to T.
func ValueAs[T any](s *Slot) (T, bool) {
	v, ok := s.Value().(T)
	return v, ok
}

// Ready reports whether the slot can deliver data. An input is ready when
// its upstream is ready or when it holds a value. An output is ready after
// its operator set it up.
func (s *Slot) Ready() bool {
	if up := s.Upstream(); up != nil {
		return up.Ready()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dir == Input {
		return s.hasValue
	}
	return s.ready
}

// Meta returns the slot meta, following upstream connections.
func (s *Slot) Meta() Meta {
	if up := s.Upstream(); up != nil {
		return up.Meta()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.Clone()
}

// SetMeta sets the meta of an output. It is meant to be called from
// SetupOutputs of the owning operator.
func (s *Slot) SetMeta(m Meta) error {
	if s.dir != Output {
		return fmt.Errorf("%w: %s", ErrNotAnOutput, s.FullName())
	}
	if s.Upstream() != nil {
		return fmt.Errorf("%w: %s", ErrSlotConnected, s.FullName())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.meta.Equal(m) {
		s.changedSet = true
	}
	s.meta = m.Clone()
	return nil
}

// SetOutputValue stores a value on an output. Like SetMeta it belongs in
// SetupOutputs. Downstream slots see the new value once setup finishes.
func (s *Slot) SetOutputValue(v any) error {
	if s.dir != Output {
		return fmt.Errorf("%w: %s", ErrNotAnOutput, s.FullName())
	}
	if s.Upstream() != nil {
		return fmt.Errorf("%w: %s", ErrSlotConnected, s.FullName())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasValue || !reflect.DeepEqual(s.value, v) {
		s.changedSet = true
	}
	s.value = v
	s.hasValue = true
	m := metaOfValue(v)
	if !s.meta.Equal(m) && (m.IsArray() || !s.meta.IsArray()) {
		s.meta = m
	}
	return nil
}

// NotifyDirty registers cb for dirty notifications of this slot.
func (s *Slot) NotifyDirty(cb func(DirtyEvent)) channel.Subscription {
	return s.dirty.Subscribe(cb)
}

// UnregisterDirty removes a dirty callback. It reports whether sub was
// registered.
func (s *Slot) UnregisterDirty(sub channel.Subscription) bool {
	return s.dirty.Unsubscribe(sub)
}

// NotifyMetaChanged registers cb for meta and readiness changes.
func (s *Slot) NotifyMetaChanged(cb func(*Slot)) channel.Subscription {
	return s.metaChanged.Subscribe(cb)
}

// UnregisterMetaChanged removes a meta callback.
func (s *Slot) UnregisterMetaChanged(sub channel.Subscription) bool {
	return s.metaChanged.Unsubscribe(sub)
}

// SetDirty announces that data inside roi changed. Subscribers run first,
// then the owning operator's PropagateDirty for inputs, then downstream
// slots.
func (s *Slot) SetDirty(roi Roi) {
	if s.op != nil && s.op.isClosed() {
		return
	}
	s.dirty.Publish(DirtyEvent{Slot: s, Roi: roi})
	if s.dir == Input && s.op != nil {
		s.op.propagateDirty(s, roi)
	}
	for _, d := range s.Downstream() {
		d.SetDirty(roi)
	}
}

// changed announces meta or readiness changes to subscribers, downstream
// slots and, for inputs, the owning operator.
func (s *Slot) changed() {
	if s.op != nil && s.op.isClosed() {
		return
	}
	s.metaChanged.Publish(s)
	for _, d := range s.Downstream() {
		d.changed()
	}
	if s.dir == Input && s.op != nil {
		s.op.inputChanged()
	}
}

// Get returns a lazy request for roi. The zero Roi requests the whole slot.
func (s *Slot) Get(roi Roi) *Request {
	return newRequest(s, roi, false)
}

// GetValue returns a lazy request for the slot value, which may be computed
// by the operator on demand.
func (s *Slot) GetValue() *Request {
	return newRequest(s, Roi{}, true)
}

func (s *Slot) logger() *zerolog.Logger {
	if s.op == nil {
		return &nopLogger
	}
	return &s.op.log
}

func (s *Slot) String() string {
	return fmt.Sprintf("Slot(%s %s)", s.dir, s.FullName())
}

func (s *Slot) closeNotifiers() {
	s.dirty.Close()
	s.metaChanged.Close()
}

func metaOfValue(v any) Meta {
	if a, ok := v.(*ndarray.Array); ok && a != nil {
		return Meta{Axes: a.Axes, Shape: append([]int(nil), a.Shape...), DType: Float32}
	}
	return Meta{}
}
