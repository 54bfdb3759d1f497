// Package watershed is the seeded watershed segmentation applet. Seeds come
// from one channel of RawData, overlaid with brush strokes; the elevation
// map is one channel of Input. The superpixel result sits behind a block
// cache that stays frozen until the user asks for an update.
package watershed

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/imageproc"
	"github.com/FynnBe/ilastik/internal/operators"
)

var (
	ErrChannelOutOfRange = errors.New("channel out of range")
	ErrShapeMismatch     = errors.New("raw data does not match input")
	ErrBrushValue        = errors.New("brush value out of range")
	ErrChannelNotLast    = errors.New("channel axis must be last")
	ErrStrokeRank        = errors.New("stroke rank does not match seeds")
)

// OpWatershedSegmentation is the top-level operator of the applet.
type OpWatershedSegmentation struct {
	graph.OperatorBase
	RawData          *graph.Slot // optional seed image
	Input            *graph.Slot // elevation source, e.g. boundary probabilities
	ChannelSelection *graph.Slot // int, channel of RawData used as seeds
	BrushValue       *graph.Slot // int, label painted by PaintSeeds
	ElevationChannel *graph.Slot // int, channel of Input used as elevation
	SeedInput        *graph.Slot // optional painted strokes, one channel
	FreezeCache      *graph.Slot // bool

	Seeds       *graph.Slot
	Superpixels *graph.Slot

	watershed *opSeededWatershed
	cache     *operators.OpBlockedArrayCache
}

func NewOpWatershedSegmentation(owner graph.Owner, name string, cache operators.CacheConfig) *OpWatershedSegmentation {
	op := &OpWatershedSegmentation{}
	op.InitIn(owner, name, op)
	op.RawData = op.AddInput("RawData", graph.Optional())
	op.Input = op.AddInput("Input")
	op.ChannelSelection = op.AddInput("ChannelSelection", graph.WithDefault(0))
	op.BrushValue = op.AddInput("BrushValue", graph.WithDefault(1))
	op.ElevationChannel = op.AddInput("ElevationChannel", graph.WithDefault(0))
	op.SeedInput = op.AddInput("SeedInput", graph.Optional())
	op.FreezeCache = op.AddInput("FreezeCache", graph.WithDefault(true))
	op.Seeds = op.AddOutput("Seeds")
	op.Superpixels = op.AddOutput("Superpixels")

	under := graph.Under(op)
	op.watershed = newOpSeededWatershed(under)
	op.cache = operators.NewOpBlockedArrayCache(under, "SuperpixelCache", cache)
	for _, c := range []struct{ to, from *graph.Slot }{
		{op.watershed.Elevation, op.Input},
		{op.watershed.Channel, op.ElevationChannel},
		{op.watershed.Seeds, op.Seeds},
		{op.cache.Input, op.watershed.Output},
		{op.cache.FreezeCache, op.FreezeCache},
		{op.Superpixels, op.cache.Output},
	} {
		if err := c.to.Connect(c.from); err != nil {
			panic(fmt.Sprintf("watershed wiring: %v", err))
		}
	}
	return op
}

func (o *OpWatershedSegmentation) SetupOutputs() error {
	in := o.Input.Meta()
	if !in.IsArray() {
		return fmt.Errorf("%w: %s", graph.ErrNotArray, o.Input.FullName())
	}
	if err := channelLast(in); err != nil {
		return err
	}
	if err := checkChannel(in, o.ElevationChannel, "ElevationChannel"); err != nil {
		return err
	}
	seeds := graph.Meta{Axes: in.Axes, Shape: slices.Clone(spatial(in)), DType: graph.Uint32}
	if seeds.AxisIndex('c') < 0 {
		seeds.Axes += "c"
	}
	seeds.Shape = append(seeds.Shape, 1)

	if o.RawData.Ready() {
		raw := o.RawData.Meta()
		if err := channelLast(raw); err != nil {
			return err
		}
		if !slices.Equal(spatial(raw), spatial(in)) {
			return fmt.Errorf("%w: raw %v, input %v", ErrShapeMismatch, raw.Shape, in.Shape)
		}
		if err := checkChannel(raw, o.ChannelSelection, "ChannelSelection"); err != nil {
			return err
		}
		if raw.DRange != nil {
			seeds = seeds.WithDRange(raw.DRange[0], raw.DRange[1])
		}
	}
	return o.Seeds.SetMeta(seeds)
}

func channelLast(m graph.Meta) error {
	if ci := m.AxisIndex('c'); ci >= 0 && ci != len(m.Axes)-1 {
		return fmt.Errorf("%w: %q", ErrChannelNotLast, m.Axes)
	}
	return nil
}

func checkChannel(m graph.Meta, s *graph.Slot, name string) error {
	c, _ := graph.ValueAs[int](s)
	n := max(m.AxisLen('c'), 1)
	if c < 0 || c >= n {
		return fmt.Errorf("%w: %s %d of %d", ErrChannelOutOfRange, name, c, n)
	}
	return nil
}

// Execute computes Seeds: the selected RawData channel with every painted
// stroke on top.
func (o *OpWatershedSegmentation) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	meta := o.Seeds.Meta()
	out, err := ndarray.New(meta.Axes, roi.Shape()...)
	if err != nil {
		return nil, err
	}
	last := len(roi.Start) - 1
	if o.RawData.Ready() {
		ch, _ := graph.ValueAs[int](o.ChannelSelection)
		r := graph.NewRoi(roi.Start[:last], roi.Stop[:last])
		if o.RawData.Meta().AxisIndex('c') >= 0 {
			r.Start, r.Stop = append(r.Start, ch), append(r.Stop, ch+1)
		}
		raw, err := o.RawData.Get(r).Wait(ctx)
		if err != nil {
			return nil, err
		}
		copy(out.Data, raw.Data)
	}
	if o.SeedInput.Ready() {
		strokes, err := o.SeedInput.Get(roi).Wait(ctx)
		if err != nil {
			return nil, err
		}
		for i, v := range strokes.Data {
			if v > 0 {
				out.Data[i] = v
			}
		}
	}
	return out, nil
}

func (o *OpWatershedSegmentation) PropagateDirty(slot *graph.Slot, roi graph.Roi) {
	switch slot {
	case o.RawData, o.SeedInput:
		if roi.IsZero() || !o.Seeds.Meta().IsArray() {
			o.Seeds.SetDirty(graph.Roi{})
			return
		}
		last := len(o.Seeds.Meta().Shape) - 1
		r := graph.NewRoi(roi.Start, roi.Stop)
		r.Start, r.Stop = append(r.Start[:last], 0), append(r.Stop[:last], 1)
		o.Seeds.SetDirty(r)
	case o.ChannelSelection:
		o.Seeds.SetDirty(graph.Roi{})
	}
}

// PaintSeeds writes BrushValue wherever mask is non-zero, starting at
// start in Seeds coordinates. A brush value of 0 erases strokes.
func (o *OpWatershedSegmentation) PaintSeeds(start []int, mask *ndarray.Array) error {
	brush, _ := graph.ValueAs[int](o.BrushValue)
	if brush < 0 {
		return fmt.Errorf("%w: %d", ErrBrushValue, brush)
	}
	meta := o.Seeds.Meta()
	if !meta.IsArray() {
		return fmt.Errorf("%w: %s", graph.ErrSlotNotReady, o.Seeds.FullName())
	}
	if mask == nil || len(start) != len(meta.Shape) || len(mask.Shape) != len(meta.Shape) {
		var ms []int
		if mask != nil {
			ms = mask.Shape
		}
		return fmt.Errorf("%w: start %v, mask %v, seeds %v", ErrStrokeRank, start, ms, meta.Shape)
	}
	strokes, ok := graph.ValueAs[*ndarray.Array](o.SeedInput)
	fresh := !ok || strokes == nil || o.SeedInput.Connected()
	if fresh {
		var err error
		if strokes, err = ndarray.New(meta.Axes, meta.Shape...); err != nil {
			return err
		}
	}
	stop := make([]int, len(start))
	for i := range start {
		stop[i] = start[i] + mask.Shape[i]
	}
	region, err := strokes.Sub(start, stop)
	if err != nil {
		return err
	}
	for i, m := range mask.Data {
		if m != 0 {
			region.Data[i] = float32(brush)
		}
	}
	if err := strokes.Paste(start, region); err != nil {
		return err
	}
	if fresh {
		return o.SeedInput.SetValue(strokes)
	}
	o.SeedInput.SetDirty(graph.NewRoi(start, stop))
	return nil
}

// UpdateWatershed unfreezes the superpixel cache, waits for the result and
// freezes the cache again.
func (o *OpWatershedSegmentation) UpdateWatershed(ctx context.Context) error {
	if err := o.FreezeCache.SetValue(false); err != nil {
		return err
	}
	_, err := o.Superpixels.Get(graph.Roi{}).Wait(ctx)
	if ferr := o.FreezeCache.SetValue(true); err == nil {
		err = ferr
	}
	return err
}

// Cache exposes the superpixel cache.
func (o *OpWatershedSegmentation) Cache() *operators.OpBlockedArrayCache { return o.cache }

// Runs is the number of full watershed computations so far.
func (o *OpWatershedSegmentation) Runs() int { return o.watershed.runs() }

// opSeededWatershed floods the whole elevation channel at once and serves
// regions of the result until an input becomes dirty.
type opSeededWatershed struct {
	graph.OperatorBase
	Elevation *graph.Slot
	Channel   *graph.Slot
	Seeds     *graph.Slot
	Output    *graph.Slot

	mu     sync.Mutex
	result *ndarray.Array
	count  int
}

func newOpSeededWatershed(owner graph.Owner) *opSeededWatershed {
	op := &opSeededWatershed{}
	op.InitIn(owner, "SeededWatershed", op)
	op.Elevation = op.AddInput("Elevation")
	op.Channel = op.AddInput("Channel")
	op.Seeds = op.AddInput("Seeds")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *opSeededWatershed) SetupOutputs() error {
	o.reset()
	m := o.Seeds.Meta()
	m.DRange = nil
	return o.Output.SetMeta(m)
}

func (o *opSeededWatershed) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result == nil {
		res, err := o.compute(ctx)
		if err != nil {
			return nil, err
		}
		o.result = res
		o.count++
		o.Logger().Debug().Ints("shape", res.Shape).Msg("watershed computed")
	}
	return o.result.Sub(roi.Start, roi.Stop)
}

func (o *opSeededWatershed) compute(ctx context.Context) (*ndarray.Array, error) {
	em := o.Elevation.Meta()
	ch, _ := graph.ValueAs[int](o.Channel)
	r := graph.FullRoi(em.Shape)
	if ci := em.AxisIndex('c'); ci >= 0 {
		r.Start[ci], r.Stop[ci] = ch, ch+1
	}
	elevation, err := o.Elevation.Get(r).Wait(ctx)
	if err != nil {
		return nil, err
	}
	seeds, err := o.Seeds.Get(graph.Roi{}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	return imageproc.Watershed(elevation.WithChannelAxis(), seeds)
}

func (o *opSeededWatershed) PropagateDirty(*graph.Slot, graph.Roi) {
	o.reset()
	o.Output.SetDirty(graph.Roi{})
}

func (o *opSeededWatershed) reset() {
	o.mu.Lock()
	o.result = nil
	o.mu.Unlock()
}

func (o *opSeededWatershed) runs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// spatial drops the channel axis, which SetupOutputs keeps last.
func spatial(m graph.Meta) []int {
	if m.AxisIndex('c') == len(m.Shape)-1 {
		return m.Shape[:len(m.Shape)-1]
	}
	return m.Shape
}
