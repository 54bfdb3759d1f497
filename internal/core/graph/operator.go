package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

var nopLogger = zerolog.Nop()

// Operator computes its outputs lazily from its inputs.
// PRINCIPLES:
// - ISP: four methods, everything else lives in OperatorBase
// - DIP: the graph only talks to this interface
type Operator interface {
	// Base returns the embedded bookkeeping (slots, graph, logger).
	Base() *OperatorBase

	// SetupOutputs derives output meta from input meta. It runs whenever
	// every required input is ready and one of them changed.
	SetupOutputs() error

	// Execute computes roi of an array output.
	Execute(ctx context.Context, slot *Slot, roi Roi) (*ndarray.Array, error)

	// PropagateDirty maps dirtiness of an input onto the outputs.
	PropagateDirty(slot *Slot, roi Roi)
}

// ValueExecutor is implemented by operators with outputs whose value is
// computed on demand instead of being set in SetupOutputs.
type ValueExecutor interface {
	ExecuteValue(ctx context.Context, slot *Slot) (any, error)
}

// OperatorBase holds the slots and graph registration of an operator.
// Concrete operators embed it and call Init from their constructor:
//
//	op := &OpFoo{}
//	op.Init(g, "Foo", op)
//	op.Input = op.AddInput("Input")
//	op.Output = op.AddOutput("Output")
type OperatorBase struct {
	name   string
	graph  *Graph
	impl   Operator
	parent *OperatorBase
	log    zerolog.Logger

	mu       sync.RWMutex
	inputs   []*Slot
	outputs  []*Slot
	children []Operator
	setupErr error
	closed   bool
}

// Init registers the operator with g under name. impl is the concrete
// operator embedding this base.
func (b *OperatorBase) Init(g *Graph, name string, impl Operator) {
	b.impl = impl
	b.graph = g
	b.name = g.register(name, impl)
	b.log = g.Logger().With().Str("operator", b.name).Logger()
}

// InitChild registers an operator owned by parent. Its name is prefixed
// with the parent name and it is cleaned up together with the parent.
func (b *OperatorBase) InitChild(parent Operator, name string, impl Operator) {
	pb := parent.Base()
	b.Init(pb.graph, pb.name+"/"+name, impl)
	b.parent = pb
	pb.mu.Lock()
	pb.children = append(pb.children, impl)
	pb.mu.Unlock()
}

// Owner says where a new operator lives: directly in a graph or under a
// parent operator.
type Owner struct {
	graph  *Graph
	parent Operator
}

// InGraph places an operator at the top level of g.
func InGraph(g *Graph) Owner { return Owner{graph: g} }

// Under places an operator as a child of parent.
func Under(parent Operator) Owner { return Owner{graph: parent.Base().graph, parent: parent} }

// Graph returns the graph the owner belongs to.
func (o Owner) Graph() *Graph { return o.graph }

// InitIn is Init or InitChild depending on o.
func (b *OperatorBase) InitIn(o Owner, name string, impl Operator) {
	if o.parent != nil {
		b.InitChild(o.parent, name, impl)
		return
	}
	b.Init(o.graph, name, impl)
}

// Base implements Operator.
func (b *OperatorBase) Base() *OperatorBase { return b }

// Name returns the registered, unique operator name.
func (b *OperatorBase) Name() string { return b.name }

// Graph returns the graph the operator belongs to.
func (b *OperatorBase) Graph() *Graph { return b.graph }

// Parent returns the owning operator, or nil for top-level operators.
func (b *OperatorBase) Parent() *OperatorBase { return b.parent }

// Logger returns the operator logger.
func (b *OperatorBase) Logger() *zerolog.Logger { return &b.log }

// AddInput creates a named input slot.
func (b *OperatorBase) AddInput(name string, opts ...SlotOption) *Slot {
	s := newSlot(b, name, Input, opts...)
	b.mu.Lock()
	b.inputs = append(b.inputs, s)
	b.mu.Unlock()
	return s
}

// AddOutput creates a named output slot.
func (b *OperatorBase) AddOutput(name string, opts ...SlotOption) *Slot {
	s := newSlot(b, name, Output, opts...)
	b.mu.Lock()
	b.outputs = append(b.outputs, s)
	b.mu.Unlock()
	return s
}

// Inputs returns the input slots in creation order.
func (b *OperatorBase) Inputs() []*Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Slot(nil), b.inputs...)
}

// Outputs returns the output slots in creation order.
func (b *OperatorBase) Outputs() []*Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Slot(nil), b.outputs...)
}

// Slot looks a slot up by name, inputs first.
func (b *OperatorBase) Slot(name string) (*Slot, error) {
	for _, s := range b.Inputs() {
		if s.name == name {
			return s, nil
		}
	}
	for _, s := range b.Outputs() {
		if s.name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrSlotNotFound, b.name, name)
}

// Children returns operators created with InitChild under this one.
func (b *OperatorBase) Children() []Operator {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Operator(nil), b.children...)
}

// SetupError returns the error of the last failed SetupOutputs, if any.
func (b *OperatorBase) SetupError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.setupErr
}

// InputsReady reports whether every required input is ready.
func (b *OperatorBase) InputsReady() bool {
	for _, s := range b.Inputs() {
		if !s.optional && !s.Ready() {
			return false
		}
	}
	return true
}

// PropagateDirty is the default mapping: every output becomes dirty over its
// whole extent.
func (b *OperatorBase) PropagateDirty(_ *Slot, _ Roi) {
	b.MarkOutputsDirty()
}

// MarkOutputsDirty marks every ready output dirty.
func (b *OperatorBase) MarkOutputsDirty() {
	for _, o := range b.Outputs() {
		if o.Upstream() == nil && o.Ready() {
			o.SetDirty(Roi{})
		}
	}
}

// Refresh re-runs SetupOutputs if the required inputs are ready. Operators
// without required inputs call it at the end of their constructor.
func (b *OperatorBase) Refresh() {
	b.inputChanged()
}

// Cleanup disconnects the operator and its children and drops every
// subscription on its slots.
func (b *OperatorBase) Cleanup() {
	for _, c := range b.Children() {
		c.Base().Cleanup()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	for _, s := range append(b.Inputs(), b.Outputs()...) {
		s.detach()
		for _, d := range s.Downstream() {
			d.detach()
			d.changed()
		}
		s.closeNotifiers()
	}
	b.graph.unregister(b.name)
	b.log.Debug().Msg("operator cleaned up")
}

func (b *OperatorBase) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *OperatorBase) propagateDirty(s *Slot, roi Roi) {
	if b.impl == nil {
		return
	}
	imetrics.DirtyPropagated(b.name)
	b.impl.PropagateDirty(s, roi)
}

// inputChanged re-runs setup when all required inputs are ready, or makes
// the outputs unready otherwise.
func (b *OperatorBase) inputChanged() {
	if b.impl == nil || b.isClosed() {
		return
	}
	if !b.InputsReady() {
		b.setOutputsReady(false, nil)
		return
	}
	err := b.impl.SetupOutputs()
	imetrics.SetupOutputsRun(b.name)
	if err != nil {
		b.log.Error().Err(err).Msg("setupOutputs failed")
		b.setOutputsReady(false, err)
		return
	}
	b.setOutputsReady(true, nil)
}

func (b *OperatorBase) setOutputsReady(ready bool, err error) {
	b.mu.Lock()
	b.setupErr = err
	b.mu.Unlock()

	for _, o := range b.Outputs() {
		if o.Upstream() != nil {
			continue
		}
		o.mu.Lock()
		changed := o.ready != ready || (ready && o.changedSet)
		o.ready = ready
		o.changedSet = false
		o.mu.Unlock()
		if changed {
			o.changed()
		}
	}
}
