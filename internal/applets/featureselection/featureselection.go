// Package featureselection is the applet that turns a raw image into a
// stack of filter responses. The selection matrix has one row per feature
// and one column per scale; every selected cell adds one output channel per
// input channel.
package featureselection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/imageproc"
	"github.com/FynnBe/ilastik/internal/operators"
)

// Name is the default applet title.
const Name = "Feature Selection"

var (
	ErrMatrixShape    = errors.New("selection matrix does not match features and scales")
	ErrNoneSelected   = errors.New("no feature selected")
	ErrChannelNotLast = errors.New("channel axis must be last")
	ErrScaleTooSmall  = errors.New("scale too small for feature")
	ErrInvalidScale   = errors.New("scales must be positive")
)

// selection is one selected (feature, scale) cell.
type selection struct {
	feature imageproc.Feature
	sigma   float64
}

func (s selection) String() string { return fmt.Sprintf("%s (σ=%g)", s.feature, s.sigma) }

// OpFeatureSelection computes the selected features lazily. OutputImage
// computes every request; CachedOutputImage serves it through a block
// cache.
type OpFeatureSelection struct {
	graph.OperatorBase
	InputImage      *graph.Slot
	Scales          *graph.Slot // []float64
	SelectionMatrix *graph.Slot // [][]bool, rows follow imageproc.Features

	OutputImage       *graph.Slot
	CachedOutputImage *graph.Slot
	FeatureNames      *graph.Slot // []string, one per selected cell

	cache *operators.OpBlockedArrayCache

	mu         sync.Mutex
	selections []selection
	halo       int
	inChannels int
}

func NewOpFeatureSelection(owner graph.Owner, name string, cache operators.CacheConfig) *OpFeatureSelection {
	op := &OpFeatureSelection{}
	op.InitIn(owner, name, op)
	op.InputImage = op.AddInput("InputImage")
	op.Scales = op.AddInput("Scales", graph.WithDefault(append([]float64(nil), imageproc.DefaultScales...)))
	op.SelectionMatrix = op.AddInput("SelectionMatrix")
	op.OutputImage = op.AddOutput("OutputImage")
	op.CachedOutputImage = op.AddOutput("CachedOutputImage")
	op.FeatureNames = op.AddOutput("FeatureNames")

	op.cache = operators.NewOpBlockedArrayCache(graph.Under(op), "FeatureCache", cache)
	for _, c := range []struct{ to, from *graph.Slot }{
		{op.cache.Input, op.OutputImage},
		{op.CachedOutputImage, op.cache.Output},
	} {
		if err := c.to.Connect(c.from); err != nil {
			panic(fmt.Sprintf("feature selection wiring: %v", err))
		}
	}
	return op
}

func (o *OpFeatureSelection) SetupOutputs() error {
	in := o.InputImage.Meta()
	if !in.IsArray() {
		return fmt.Errorf("%w: %s", graph.ErrNotArray, o.InputImage.FullName())
	}
	ci := in.AxisIndex('c')
	if ci >= 0 && ci != len(in.Axes)-1 {
		return fmt.Errorf("%w: %q", ErrChannelNotLast, in.Axes)
	}
	scales, _ := graph.ValueAs[[]float64](o.Scales)
	matrix, _ := graph.ValueAs[[][]bool](o.SelectionMatrix)
	sels, err := selectionsOf(scales, matrix)
	if err != nil {
		return err
	}

	nIn := 1
	out := graph.Meta{Axes: in.Axes, Shape: append([]int(nil), in.Shape...), DType: graph.Float32}
	if ci >= 0 {
		nIn = in.Shape[ci]
	} else {
		out.Axes += "c"
		out.Shape = append(out.Shape, 1)
	}
	out.Shape[len(out.Shape)-1] = nIn * len(sels)

	halo := 0
	names := make([]string, len(sels))
	for i, s := range sels {
		halo = max(halo, s.feature.Halo(s.sigma))
		names[i] = s.String()
	}

	o.mu.Lock()
	o.selections = sels
	o.halo = halo
	o.inChannels = nIn
	o.mu.Unlock()

	if err := o.OutputImage.SetMeta(out); err != nil {
		return err
	}
	return o.FeatureNames.SetOutputValue(names)
}

// selectionsOf lists the selected cells in row-major order.
func selectionsOf(scales []float64, matrix [][]bool) ([]selection, error) {
	for _, s := range scales {
		if s <= 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scales)
		}
	}
	if len(matrix) != len(imageproc.Features) {
		return nil, fmt.Errorf("%w: %d rows for %d features", ErrMatrixShape, len(matrix), len(imageproc.Features))
	}
	var sels []selection
	for i, row := range matrix {
		if len(row) != len(scales) {
			return nil, fmt.Errorf("%w: row %d has %d columns for %d scales", ErrMatrixShape, i, len(row), len(scales))
		}
		f := imageproc.Features[i]
		for j, on := range row {
			if !on {
				continue
			}
			if scales[j] < f.MinSigma() {
				return nil, fmt.Errorf("%w: %s at %g", ErrScaleTooSmall, f, scales[j])
			}
			sels = append(sels, selection{feature: f, sigma: scales[j]})
		}
	}
	if len(sels) == 0 {
		return nil, ErrNoneSelected
	}
	return sels, nil
}

func (o *OpFeatureSelection) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	o.mu.Lock()
	sels, halo, nIn := o.selections, o.halo, o.inChannels
	o.mu.Unlock()

	in := o.InputImage.Meta()
	outMeta := o.OutputImage.Meta()
	last := len(outMeta.Shape) - 1

	// Input region: the requested box on the non-channel axes grown by the
	// halo along x, y and z, with every input channel.
	start := make([]int, len(in.Shape))
	stop := make([]int, len(in.Shape))
	haloVec := make([]int, len(in.Shape))
	for i, r := range in.Axes {
		switch r {
		case 'c':
			start[i], stop[i] = 0, in.Shape[i]
		default:
			start[i], stop[i] = roi.Start[i], roi.Stop[i]
			if r != 't' {
				haloVec[i] = halo
			}
		}
	}
	expanded := graph.NewRoi(start, stop).Expand(haloVec, in.Shape)
	src, err := o.InputImage.Get(expanded).Wait(ctx)
	if err != nil {
		return nil, err
	}
	src = src.WithChannelAxis()

	out, err := ndarray.New(outMeta.Axes, roi.Shape()...)
	if err != nil {
		return nil, err
	}
	cropStart := make([]int, len(outMeta.Shape))
	cropStop := make([]int, len(outMeta.Shape))
	for i := 0; i < last; i++ {
		cropStart[i] = roi.Start[i] - expanded.Start[i]
		cropStop[i] = roi.Stop[i] - expanded.Start[i]
	}
	cropStop[last] = 1

	var eg errgroup.Group
	eg.SetLimit(o.Graph().MaxWorkers())
	for oc := roi.Start[last]; oc < roi.Stop[last]; oc++ {
		sel, k := sels[oc/nIn], oc%nIn
		eg.Go(func() error {
			ch, err := src.Channel(k)
			if err != nil {
				return err
			}
			resp, err := sel.feature.Compute(ch, sel.sigma)
			if err != nil {
				return err
			}
			crop, err := resp.Sub(cropStart, cropStop)
			if err != nil {
				return err
			}
			at := make([]int, len(outMeta.Shape))
			at[last] = oc - roi.Start[last]
			return out.Paste(at, crop)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OpFeatureSelection) PropagateDirty(slot *graph.Slot, roi graph.Roi) {
	out := o.OutputImage.Meta()
	if slot != o.InputImage || roi.IsZero() || !out.IsArray() {
		o.OutputImage.SetDirty(graph.Roi{})
		return
	}
	o.mu.Lock()
	halo := o.halo
	o.mu.Unlock()

	start := make([]int, len(out.Shape))
	stop := make([]int, len(out.Shape))
	haloVec := make([]int, len(out.Shape))
	last := len(out.Shape) - 1
	for i := 0; i < last; i++ {
		start[i], stop[i] = roi.Start[i], roi.Stop[i]
		if out.Axes[i] != 't' {
			haloVec[i] = halo
		}
	}
	stop[last] = out.Shape[last]
	o.OutputImage.SetDirty(graph.NewRoi(start, stop).Expand(haloVec, out.Shape))
}

// Cache exposes the block cache behind CachedOutputImage.
func (o *OpFeatureSelection) Cache() *operators.OpBlockedArrayCache { return o.cache }

// SelectionMatrix builds a matrix for scales with the given features
// selected at every scale they support.
func SelectionMatrix(scales []float64, features ...imageproc.Feature) [][]bool {
	m := make([][]bool, len(imageproc.Features))
	for i, f := range imageproc.Features {
		m[i] = make([]bool, len(scales))
		for _, want := range features {
			if want != f {
				continue
			}
			for j, s := range scales {
				m[i][j] = s >= f.MinSigma()
			}
		}
	}
	return m
}

// DefaultSelection is the matrix used when a workflow does not configure
// one: every feature at sigma 1.0 and 3.5 of DefaultScales.
func DefaultSelection() [][]bool {
	m := make([][]bool, len(imageproc.Features))
	for i := range m {
		m[i] = make([]bool, len(imageproc.DefaultScales))
		for j, s := range imageproc.DefaultScales {
			m[i][j] = s == 1.0 || s == 3.5
		}
	}
	return m
}

// Applet wraps OpFeatureSelection. It has no drawer.
type Applet struct {
	applets.Base
	op *OpFeatureSelection
}

// New creates the applet in env.Graph.
func New(env applets.Env, name string) *Applet {
	if name == "" {
		name = Name
	}
	log := env.Log("ilastik.applets.featureSelection")
	op := NewOpFeatureSelection(graph.InGraph(env.Graph), "OpFeatureSelection", env.Cache)
	ser := applets.NewSlotSerializer(name, log,
		applets.Value[[]float64](op.Scales),
		applets.Value[[][]bool](op.SelectionMatrix),
	)
	return &Applet{Base: applets.NewBase(name, op, ser), op: op}
}

// Operator returns the typed top-level operator.
func (a *Applet) Operator() *OpFeatureSelection { return a.op }
