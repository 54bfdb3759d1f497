package operators

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// OpValueCache computes the value of Input once and serves it until Input
// becomes dirty. Classifiers and other expensive values sit behind one.
type OpValueCache struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot

	group singleflight.Group

	mu    sync.Mutex
	value any
	valid bool
	epoch uint64
}

// NewOpValueCache creates a value cache in owner.
func NewOpValueCache(owner graph.Owner, name string) *OpValueCache {
	op := &OpValueCache{}
	op.InitIn(owner, name, op)
	op.Input = op.AddInput("Input")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *OpValueCache) SetupOutputs() error {
	o.reset()
	return o.Output.SetMeta(o.Input.Meta())
}

func (o *OpValueCache) ExecuteValue(ctx context.Context, _ *graph.Slot) (any, error) {
	o.mu.Lock()
	if o.valid {
		v := o.value
		o.mu.Unlock()
		imetrics.CacheHit(o.Name())
		return v, nil
	}
	epoch := o.epoch
	o.mu.Unlock()
	imetrics.CacheMiss(o.Name())

	v, err, _ := o.group.Do(strconv.FormatUint(epoch, 10), func() (any, error) {
		v, err := o.Input.GetValue().WaitValue(ctx)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		if o.epoch == epoch {
			o.value, o.valid = v, true
		}
		o.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (o *OpValueCache) Execute(ctx context.Context, slot *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	v, err := o.ExecuteValue(ctx, slot)
	if err != nil {
		return nil, err
	}
	a, ok := v.(*ndarray.Array)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T", graph.ErrNotArray, o.Input.FullName(), v)
	}
	return a.Sub(roi.Start, roi.Stop)
}

func (o *OpValueCache) PropagateDirty(_ *graph.Slot, roi graph.Roi) {
	o.reset()
	o.Output.SetDirty(roi)
}

// Cached reports whether a value is held.
func (o *OpValueCache) Cached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.valid
}

func (o *OpValueCache) reset() {
	o.mu.Lock()
	o.value, o.valid = nil, false
	o.epoch++
	o.mu.Unlock()
}
