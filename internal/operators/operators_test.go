package operators

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// opCounter forwards Input and counts the elements it computed.
type opCounter struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot

	calls    atomic.Int32
	elements atomic.Int64
}

func newOpCounter(g *graph.Graph) *opCounter {
	op := &opCounter{}
	op.Init(g, "Counter", op)
	op.Input = op.AddInput("Input")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *opCounter) SetupOutputs() error { return o.Output.SetMeta(o.Input.Meta()) }

func (o *opCounter) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	o.calls.Add(1)
	o.elements.Add(int64(ndarray.Size(roi.Shape())))
	return o.Input.Get(roi).Wait(ctx)
}

func (o *opCounter) PropagateDirty(_ *graph.Slot, roi graph.Roi) { o.Output.SetDirty(roi) }

func ramp(shape ...int) *ndarray.Array {
	a := ndarray.MustNew("xy", shape...)
	for i := range a.Data {
		a.Data[i] = float32(i)
	}
	return a
}

type cacheFixture struct {
	g     *graph.Graph
	src   *opCounter
	cache *OpBlockedArrayCache
}

func newCacheFixture(t *testing.T, data *ndarray.Array, blockShape []int) cacheFixture {
	t.Helper()
	g := graph.Default()
	t.Cleanup(func() { g.Close() })
	src := newOpCounter(g)
	require.NoError(t, src.Input.SetValue(data))
	cache := NewOpBlockedArrayCache(graph.InGraph(g), "Cache", CacheConfig{})
	if blockShape != nil {
		require.NoError(t, cache.BlockShape.SetValue(blockShape))
	}
	require.NoError(t, cache.Input.Connect(src.Output))
	return cacheFixture{g: g, src: src, cache: cache}
}

func TestOpArrayPiper(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	p := NewOpArrayPiper(graph.InGraph(g), "Piper")
	require.NoError(t, p.Input.SetValue(ramp(3, 2)))

	out, err := p.Output.Get(graph.NewRoi([]int{1, 0}, []int{3, 1})).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, out.Data)

	var dirty []graph.Roi
	p.Output.NotifyDirty(func(e graph.DirtyEvent) { dirty = append(dirty, e.Roi) })
	roi := graph.NewRoi([]int{0, 0}, []int{1, 1})
	p.Input.SetDirty(roi)
	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].Equal(roi))
}

func TestBlockedCache_ServesFromCache(t *testing.T) {
	f := newCacheFixture(t, ramp(8, 8), []int{4, 4})
	ctx := context.Background()

	out, err := f.cache.Output.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, ramp(8, 8).Data, out.Data)
	assert.Equal(t, int32(4), f.src.calls.Load())
	assert.Equal(t, 4, f.cache.Stats().Blocks)
	assert.Equal(t, int64(64*4), f.cache.Stats().Bytes)

	part, err := f.cache.Output.Get(graph.NewRoi([]int{2, 3}, []int{6, 5})).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.src.calls.Load(), "all blocks cached")
	assert.Equal(t, []int{4, 2}, part.Shape)
	assert.Equal(t, float32(2*8+3), part.Data[0])
	assert.Equal(t, float32(5*8+4), part.Data[7])
}

func TestBlockedCache_DirtyDropsTouchedBlocks(t *testing.T) {
	f := newCacheFixture(t, ramp(8, 8), []int{4, 4})
	ctx := context.Background()
	_, err := f.cache.Output.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)

	var dirty []graph.Roi
	f.cache.Output.NotifyDirty(func(e graph.DirtyEvent) { dirty = append(dirty, e.Roi) })
	roi := graph.NewRoi([]int{0, 0}, []int{2, 2})
	f.src.Input.SetDirty(roi)

	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].Equal(roi))
	assert.Equal(t, 3, f.cache.Stats().Blocks)

	_, err = f.cache.Output.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(5), f.src.calls.Load(), "only the dirty block is recomputed")
}

func TestBlockedCache_Freeze(t *testing.T) {
	f := newCacheFixture(t, ramp(8, 8), []int{4, 4})
	ctx := context.Background()
	left := graph.NewRoi([]int{0, 0}, []int{4, 8})
	_, err := f.cache.Output.Get(left).Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), f.src.calls.Load())

	var dirty []graph.Roi
	f.cache.Output.NotifyDirty(func(e graph.DirtyEvent) { dirty = append(dirty, e.Roi) })
	require.NoError(t, f.cache.FreezeCache.SetValue(true))

	changed := ramp(8, 8)
	for i := range changed.Data {
		changed.Data[i] = -1
	}
	require.NoError(t, f.src.Input.SetValue(changed))
	assert.Empty(t, dirty, "dirtiness is deferred while frozen")
	assert.Equal(t, 1, f.cache.Stats().Pending)

	out, err := f.cache.Output.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.src.calls.Load(), "frozen cache computes nothing")
	assert.Equal(t, float32(1), out.Data[1], "stale cached data is served")
	assert.Equal(t, float32(0), out.Data[63], "missing blocks are zero")

	require.NoError(t, f.cache.FreezeCache.SetValue(false))
	require.Len(t, dirty, 1)
	assert.Equal(t, 0, f.cache.Stats().Pending)
	assert.Equal(t, 0, f.cache.Stats().Blocks)

	out, err = f.cache.Output.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(-1), out.Data[1])
	assert.Equal(t, float32(-1), out.Data[63])
}

func TestBlockedCache_ConcurrentRequestsFetchOnce(t *testing.T) {
	f := newCacheFixture(t, ramp(16, 16), []int{16, 16})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.cache.Output.Get(graph.Roi{}).Wait(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, float32(255), out.Data[255])
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, f.src.calls.Load(), int32(8))
	assert.Equal(t, 1, f.cache.Stats().Blocks)

	_, err := f.cache.Output.Get(graph.Roi{}).Wait(context.Background())
	require.NoError(t, err)
	calls := f.src.calls.Load()
	_, err = f.cache.Output.Get(graph.Roi{}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calls, f.src.calls.Load())
}

// opGate forwards Input once release is closed, or fails with the context
// error of its request.
type opGate struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot

	entered chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newOpGate(g *graph.Graph) *opGate {
	op := &opGate{entered: make(chan struct{}), release: make(chan struct{})}
	op.Init(g, "Gate", op)
	op.Input = op.AddInput("Input")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *opGate) SetupOutputs() error { return o.Output.SetMeta(o.Input.Meta()) }

func (o *opGate) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	o.calls.Add(1)
	o.once.Do(func() { close(o.entered) })
	select {
	case <-o.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return o.Input.Get(roi).Wait(ctx)
}

func TestBlockedCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	gate := newOpGate(g)
	require.NoError(t, gate.Input.SetValue(ramp(4, 4)))
	cache := NewOpBlockedArrayCache(graph.InGraph(g), "Cache", CacheConfig{})
	require.NoError(t, cache.Input.Connect(gate.Output))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.Output.Get(graph.Roi{}).Wait(ctxA)
		errA <- err
	}()
	<-gate.entered

	type result struct {
		out *ndarray.Array
		err error
	}
	resB := make(chan result, 1)
	go func() {
		out, err := cache.Output.Get(graph.Roi{}).Wait(context.Background())
		resB <- result{out, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(gate.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, float32(15), b.out.Data[15])
	assert.Equal(t, int32(1), gate.calls.Load())
	assert.Equal(t, 1, cache.Stats().Blocks)
}

func TestBlockedCache_BudgetEvictsLeastRecentlyUsed(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	src := newOpCounter(g)
	require.NoError(t, src.Input.SetValue(ramp(8, 8)))
	// Each 4x4 block is 64 bytes; keep two of them.
	cache := NewOpBlockedArrayCache(graph.InGraph(g), "Cache", CacheConfig{BudgetBytes: 128})
	require.NoError(t, cache.BlockShape.SetValue([]int{4, 4}))
	require.NoError(t, cache.Input.Connect(src.Output))
	ctx := context.Background()

	b00 := graph.NewRoi([]int{0, 0}, []int{4, 4})
	b01 := graph.NewRoi([]int{0, 4}, []int{4, 8})
	b10 := graph.NewRoi([]int{4, 0}, []int{8, 4})
	for _, r := range []graph.Roi{b00, b01, b00, b10} {
		_, err := cache.Output.Get(r).Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), src.calls.Load())
	assert.Equal(t, 2, cache.Stats().Blocks)

	_, err := cache.Output.Get(b00).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load(), "recently used block survived")
	_, err = cache.Output.Get(b01).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(4), src.calls.Load(), "least recently used block was evicted")
}

func TestBlockedCache_Setup(t *testing.T) {
	t.Run("default block shape", func(t *testing.T) {
		g := graph.Default()
		defer g.Close()
		cache := NewOpBlockedArrayCache(graph.InGraph(g), "Cache", CacheConfig{BlockSize: 4})
		a := ndarray.MustNew("txyc", 2, 10, 3, 2)
		require.NoError(t, cache.Input.SetValue(a))
		assert.Equal(t, []int{1, 4, 3, 2}, cache.blockShape)
		assert.True(t, cache.Output.Ready())
	})

	t.Run("rank mismatch", func(t *testing.T) {
		g := graph.Default()
		defer g.Close()
		cache := NewOpBlockedArrayCache(graph.InGraph(g), "Cache", CacheConfig{})
		require.NoError(t, cache.BlockShape.SetValue([]int{4}))
		require.NoError(t, cache.Input.SetValue(ramp(4, 4)))
		assert.False(t, cache.Output.Ready())
		assert.Error(t, cache.SetupError())
	})

	t.Run("value input", func(t *testing.T) {
		g := graph.Default()
		defer g.Close()
		cache := NewOpBlockedArrayCache(graph.InGraph(g), "Cache", CacheConfig{})
		require.NoError(t, cache.Input.SetValue(3))
		assert.ErrorIs(t, cache.SetupError(), graph.ErrNotArray)
	})

	t.Run("shape change clears", func(t *testing.T) {
		f := newCacheFixture(t, ramp(4, 4), nil)
		_, err := f.cache.Output.Get(graph.Roi{}).Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, f.cache.Stats().Blocks)
		require.NoError(t, f.src.Input.SetValue(ramp(6, 6)))
		assert.Equal(t, 0, f.cache.Stats().Blocks)
		assert.Equal(t, []int{6, 6}, f.cache.Output.Meta().Shape)
	})
}

func TestBlockedCache_AsChild(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	parent := NewOpArrayPiper(graph.InGraph(g), "Parent")
	cache := NewOpBlockedArrayCache(graph.Under(parent), "Cache", CacheConfig{})
	assert.Equal(t, "Parent/Cache", cache.Name())
	assert.Len(t, parent.Children(), 1)
}

func TestOpValueCache(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	src := newOpCounter(g)
	vc := NewOpValueCache(graph.InGraph(g), "ValueCache")
	require.NoError(t, src.Input.SetValue(ramp(2, 2)))
	require.NoError(t, vc.Input.Connect(src.Output))
	ctx := context.Background()

	v, err := vc.Output.GetValue().WaitValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 2, 3}, v.(*ndarray.Array).Data)
	assert.True(t, vc.Cached())

	_, err = vc.Output.GetValue().WaitValue(ctx)
	require.NoError(t, err)
	part, err := vc.Output.Get(graph.NewRoi([]int{1, 0}, []int{2, 2})).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, part.Data)
	assert.Equal(t, int32(1), src.calls.Load())

	src.Input.SetDirty(graph.Roi{})
	assert.False(t, vc.Cached())
	_, err = vc.Output.GetValue().WaitValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestOpValueCache_PlainValue(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	vc := NewOpValueCache(graph.InGraph(g), "ValueCache")
	require.NoError(t, vc.Input.SetValue("model"))

	v, err := vc.Output.GetValue().WaitValue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "model", v)

	_, err = vc.Output.Get(graph.Roi{}).Wait(context.Background())
	assert.ErrorIs(t, err, graph.ErrNotArray)
}
