package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// opScale multiplies its Input by Factor.
type opScale struct {
	OperatorBase
	Input  *Slot
	Factor *Slot
	Output *Slot

	setups     int
	executions atomic.Int32
}

func newOpScale(g *Graph, name string) *opScale {
	op := &opScale{}
	op.Init(g, name, op)
	op.Input = op.AddInput("Input")
	op.Factor = op.AddInput("Factor", WithDefault(float32(2)))
	op.Output = op.AddOutput("Output")
	return op
}

func (o *opScale) SetupOutputs() error {
	o.setups++
	return o.Output.SetMeta(o.Input.Meta())
}

func (o *opScale) Execute(ctx context.Context, _ *Slot, roi Roi) (*ndarray.Array, error) {
	o.executions.Add(1)
	in, err := o.Input.Get(roi).Wait(ctx)
	if err != nil {
		return nil, err
	}
	f, _ := ValueAs[float32](o.Factor)
	out := in.Clone()
	for i := range out.Data {
		out.Data[i] *= f
	}
	return out, nil
}

func (o *opScale) PropagateDirty(slot *Slot, roi Roi) {
	if slot == o.Input {
		o.Output.SetDirty(roi)
		return
	}
	o.Output.SetDirty(Roi{})
}

// opGate blocks Execute until release is closed.
type opGate struct {
	OperatorBase
	Output     *Slot
	release    chan struct{}
	executions atomic.Int32
	wrongShape bool
}

func newOpGate(g *Graph) *opGate {
	op := &opGate{release: make(chan struct{})}
	op.Init(g, "Gate", op)
	op.Output = op.AddOutput("Output")
	op.Refresh()
	return op
}

func (o *opGate) SetupOutputs() error {
	return o.Output.SetMeta(Meta{Axes: "x", Shape: []int{8}, DType: Float32})
}

func (o *opGate) Execute(ctx context.Context, _ *Slot, roi Roi) (*ndarray.Array, error) {
	o.executions.Add(1)
	select {
	case <-o.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if o.wrongShape {
		return ndarray.MustNew("x", 1), nil
	}
	return ndarray.MustNew("x", roi.Shape()...), nil
}

func ramp(shape ...int) *ndarray.Array {
	a := ndarray.MustNew("xy", shape...)
	for i := range a.Data {
		a.Data[i] = float32(i)
	}
	return a
}

func TestSlot_ConnectAndCompute(t *testing.T) {
	g := Default()
	defer g.Close()
	a := newOpScale(g, "A")
	b := newOpScale(g, "B")

	assert.False(t, a.Output.Ready())
	require.NoError(t, a.Input.SetValue(ramp(4, 3)))
	assert.True(t, a.Output.Ready())
	assert.Equal(t, 1, a.setups)

	require.NoError(t, b.Input.Connect(a.Output))
	assert.True(t, b.Input.Connected())
	assert.Same(t, a.Output, b.Input.Upstream())
	assert.True(t, b.Output.Ready())
	assert.Equal(t, []int{4, 3}, b.Output.Meta().Shape)

	out, err := b.Output.Get(NewRoi([]int{1, 0}, []int{2, 3})).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, out.Shape)
	assert.Equal(t, []float32{12, 16, 20}, out.Data)

	full, err := b.Output.Get(Roi{}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(44), full.Data[11])
}

func TestSlot_ConnectErrors(t *testing.T) {
	g := Default()
	defer g.Close()
	a := newOpScale(g, "A")
	b := newOpScale(g, "B")
	require.NoError(t, b.Input.Connect(a.Output))

	assert.ErrorIs(t, a.Input.Connect(nil), ErrNilSlot)
	assert.ErrorIs(t, a.Input.Connect(a.Input), ErrSelfConnection)
	assert.ErrorIs(t, a.Input.Connect(b.Output), ErrCyclicConnection)
	assert.ErrorIs(t, a.Output.SetValue(1), ErrNotAnInput)
	assert.ErrorIs(t, a.Input.SetMeta(Meta{}), ErrNotAnOutput)

	// Connecting twice to the same upstream is a no-op.
	require.NoError(t, b.Input.Connect(a.Output))
	assert.Len(t, a.Output.Downstream(), 1)
}

func TestSlot_SetValueReplacesConnection(t *testing.T) {
	g := Default()
	defer g.Close()
	a := newOpScale(g, "A")
	b := newOpScale(g, "B")
	require.NoError(t, a.Input.SetValue(ramp(2, 2)))
	require.NoError(t, b.Input.Connect(a.Output))

	require.NoError(t, b.Input.SetValue(ramp(3, 3)))
	assert.False(t, b.Input.Connected())
	assert.Empty(t, a.Output.Downstream())
	assert.Equal(t, []int{3, 3}, b.Output.Meta().Shape)
}

func TestSlot_DirtyPropagation(t *testing.T) {
	g := Default()
	defer g.Close()
	a := newOpScale(g, "A")
	b := newOpScale(g, "B")
	require.NoError(t, a.Input.SetValue(ramp(4, 4)))
	require.NoError(t, b.Input.Connect(a.Output))

	var events []DirtyEvent
	sub := b.Output.NotifyDirty(func(e DirtyEvent) { events = append(events, e) })

	require.NoError(t, a.Factor.SetValue(float32(3)))
	require.Len(t, events, 1)
	assert.Same(t, b.Output, events[0].Slot)
	assert.True(t, events[0].Roi.IsZero())

	roi := NewRoi([]int{0, 0}, []int{2, 2})
	a.Input.SetDirty(roi)
	require.Len(t, events, 2)
	assert.True(t, events[1].Roi.Equal(roi))

	// Setting an equal value does not notify.
	require.NoError(t, a.Factor.SetValue(float32(3)))
	assert.Len(t, events, 2)

	assert.True(t, b.Output.UnregisterDirty(sub))
	assert.False(t, b.Output.UnregisterDirty(sub))
	require.NoError(t, a.Factor.SetValue(float32(4)))
	assert.Len(t, events, 2)
}

func TestSlot_MetaChangedAndReadiness(t *testing.T) {
	g := Default()
	defer g.Close()
	a := newOpScale(g, "A")
	b := newOpScale(g, "B")
	require.NoError(t, a.Input.SetValue(ramp(2, 2)))
	require.NoError(t, b.Input.Connect(a.Output))

	var seen []bool
	sub := b.Output.NotifyMetaChanged(func(s *Slot) { seen = append(seen, s.Ready()) })

	require.NoError(t, a.Input.SetValue(ramp(5, 2)))
	assert.Equal(t, []bool{true}, seen)
	assert.Equal(t, []int{5, 2}, b.Output.Meta().Shape)

	b.Input.Disconnect()
	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, b.Output.Ready())

	_, err := b.Output.Get(Roi{}).Wait(context.Background())
	assert.ErrorIs(t, err, ErrSlotNotReady)

	assert.True(t, b.Output.UnregisterMetaChanged(sub))
}

func TestSlot_OptionalInputAndValues(t *testing.T) {
	g := Default()
	defer g.Close()
	op := &opScale{}
	op.Init(g, "Opt", op)
	op.Input = op.AddInput("Input")
	op.Factor = op.AddInput("Factor", Optional())
	op.Output = op.AddOutput("Output")

	assert.True(t, op.Factor.IsOptional())
	assert.False(t, op.Factor.Ready())
	require.NoError(t, op.Input.SetValue(ramp(2, 2)))
	assert.True(t, op.Output.Ready())

	_, ok := ValueAs[float32](op.Factor)
	assert.False(t, ok)

	_, err := op.Factor.GetValue().WaitValue(context.Background())
	assert.ErrorIs(t, err, ErrSlotNotReady)

	require.NoError(t, op.Factor.SetValue(float32(5)))
	v, err := op.Factor.GetValue().WaitValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(5), v)
}

func TestRequest_SharedExecution(t *testing.T) {
	g := Default()
	defer g.Close()
	op := newOpGate(g)
	req := op.Output.Get(Roi{})

	var wg sync.WaitGroup
	results := make([]*ndarray.Array, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := req.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = a
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(op.release)
	wg.Wait()

	assert.Equal(t, int32(1), op.executions.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestRequest_SubmitAndCancel(t *testing.T) {
	g := New(Config{MaxWorkers: 2})
	defer g.Close()
	assert.Equal(t, 2, g.MaxWorkers())

	t.Run("submit", func(t *testing.T) {
		op := newOpGate(g)
		close(op.release)
		req := op.Output.Get(NewRoi([]int{2}, []int{6})).Submit()
		a, err := req.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{4}, a.Shape)
		<-req.Done()
	})

	t.Run("cancel", func(t *testing.T) {
		op := newOpGate(g)
		req := op.Output.Get(Roi{}).Submit()
		req.Cancel()
		_, err := req.Wait(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("waiter context", func(t *testing.T) {
		op := newOpGate(g)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := op.Output.Get(Roi{}).Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestRequest_Errors(t *testing.T) {
	g := Default()
	defer g.Close()
	op := newOpGate(g)
	close(op.release)

	_, err := op.Output.Get(NewRoi([]int{0}, []int{9})).Wait(context.Background())
	assert.ErrorIs(t, err, ErrInvalidRoi)

	op.wrongShape = true
	_, err = op.Output.Get(NewRoi([]int{0}, []int{4})).Wait(context.Background())
	assert.ErrorIs(t, err, ErrRoiMismatch)

	_, err = op.Output.GetValue().Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotArray)
}

func TestGraph_RegistryAndClose(t *testing.T) {
	g := New(Config{Name: "test"})
	a := newOpScale(g, "Scale")
	b := newOpScale(g, "Scale")
	assert.Equal(t, "Scale", a.Name())
	assert.Equal(t, "Scale#1", b.Name())
	assert.Len(t, g.Operators(), 2)

	found, err := g.Lookup("Scale#1")
	require.NoError(t, err)
	assert.Same(t, b, found)
	_, err = g.Lookup("missing")
	assert.ErrorIs(t, err, ErrOperatorNotFound)

	s, err := a.Slot("Factor")
	require.NoError(t, err)
	assert.Same(t, a.Factor, s)
	_, err = a.Slot("Nope")
	assert.ErrorIs(t, err, ErrSlotNotFound)

	require.NoError(t, a.Input.SetValue(ramp(2, 2)))
	require.NoError(t, b.Input.Connect(a.Output))
	calls := 0
	b.Output.NotifyDirty(func(DirtyEvent) { calls++ })

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.True(t, g.Closed())
	assert.Empty(t, g.Operators())
	assert.False(t, b.Input.Connected())

	a.Input.SetDirty(Roi{})
	assert.Zero(t, calls)
}

func TestOperatorBase_Children(t *testing.T) {
	g := Default()
	defer g.Close()
	parent := newOpScale(g, "Parent")
	child := &opScale{}
	child.InitChild(parent, "Inner", child)
	child.Input = child.AddInput("Input")
	child.Factor = child.AddInput("Factor", WithDefault(float32(10)))
	child.Output = child.AddOutput("Output")

	assert.Equal(t, "Parent/Inner", child.Name())
	assert.Same(t, &parent.OperatorBase, child.Parent())
	require.Len(t, parent.Children(), 1)

	// Inputs may read from inputs of the parent.
	require.NoError(t, child.Input.Connect(parent.Input))
	require.NoError(t, parent.Input.SetValue(ramp(1, 2)))
	a, err := child.Output.Get(Roi{}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 10}, a.Data)

	parent.Cleanup()
	assert.Empty(t, g.Operators())
}
