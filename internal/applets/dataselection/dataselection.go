// Package dataselection is the applet that provides the raw images of a
// project. Datasets come from image files or from arrays held in memory;
// one dataset (the active lane) feeds the rest of the workflow.
package dataselection

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/imageio"
)

// Name is the default applet title.
const Name = "Input Data"

var (
	ErrNoDatasets       = errors.New("no dataset added")
	ErrLaneOutOfRange   = errors.New("active lane out of range")
	ErrDatasetNoSource  = errors.New("dataset has neither a path nor an array")
	ErrDuplicateDataset = errors.New("dataset nickname already used")
)

// DatasetInfo describes one input image.
type DatasetInfo struct {
	Nickname string         `msgpack:"nickname"`
	Path     string         `msgpack:"path,omitempty"`
	Array    *ndarray.Array `msgpack:"array,omitempty"`
}

// DisplayName is the nickname, or the file name without extension.
func (d DatasetInfo) DisplayName() string {
	if d.Nickname != "" {
		return d.Nickname
	}
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OpDataSelection serves the active dataset.
type OpDataSelection struct {
	graph.OperatorBase
	Datasets   *graph.Slot // []DatasetInfo
	ActiveLane *graph.Slot // int

	Image         *graph.Slot
	ImageName     *graph.Slot
	AllImageNames *graph.Slot

	log zerolog.Logger

	mu     sync.Mutex
	loaded map[string]imageio.Image
	active *ndarray.Array
}

func NewOpDataSelection(owner graph.Owner, name string, log zerolog.Logger) *OpDataSelection {
	op := &OpDataSelection{log: log, loaded: map[string]imageio.Image{}}
	op.InitIn(owner, name, op)
	op.Datasets = op.AddInput("Datasets")
	op.ActiveLane = op.AddInput("ActiveLane", graph.WithDefault(0))
	op.Image = op.AddOutput("Image")
	op.ImageName = op.AddOutput("ImageName")
	op.AllImageNames = op.AddOutput("AllImageNames")
	op.Refresh()
	return op
}

func (o *OpDataSelection) SetupOutputs() error {
	datasets, _ := graph.ValueAs[[]DatasetInfo](o.Datasets)
	lane, _ := graph.ValueAs[int](o.ActiveLane)
	if len(datasets) == 0 {
		return ErrNoDatasets
	}
	if lane < 0 || lane >= len(datasets) {
		return fmt.Errorf("%w: %d of %d", ErrLaneOutOfRange, lane, len(datasets))
	}

	a, meta, err := o.resolve(datasets[lane])
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.active = a
	o.mu.Unlock()

	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = d.DisplayName()
	}
	if err := o.Image.SetMeta(meta); err != nil {
		return err
	}
	if err := o.ImageName.SetOutputValue(names[lane]); err != nil {
		return err
	}
	return o.AllImageNames.SetOutputValue(names)
}

// resolve returns the pixels and meta of d, decoding files once. Arrays
// get their value range as data range.
func (o *OpDataSelection) resolve(d DatasetInfo) (*ndarray.Array, graph.Meta, error) {
	if d.Array != nil {
		lo, hi := d.Array.MinMax()
		m := graph.Meta{Axes: d.Array.Axes, Shape: append([]int(nil), d.Array.Shape...), DType: graph.Float32}
		return d.Array, m.WithDRange(float64(lo), float64(hi)), nil
	}
	if d.Path == "" {
		return nil, graph.Meta{}, fmt.Errorf("%w: %q", ErrDatasetNoSource, d.Nickname)
	}
	o.mu.Lock()
	img, ok := o.loaded[d.Path]
	o.mu.Unlock()
	if ok {
		return img.Array, img.Meta(), nil
	}
	img, err := imageio.Load(d.Path)
	if err != nil {
		return nil, graph.Meta{}, err
	}
	o.log.Info().Str("path", d.Path).Str("format", img.Format).Ints("shape", img.Array.Shape).Msg("dataset loaded")
	o.mu.Lock()
	o.loaded[d.Path] = img
	o.mu.Unlock()
	return img.Array, img.Meta(), nil
}

func (o *OpDataSelection) Execute(_ context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	o.mu.Lock()
	a := o.active
	o.mu.Unlock()
	if a == nil {
		return nil, graph.ErrSlotNotReady
	}
	return a.Sub(roi.Start, roi.Stop)
}

// AddFile appends a dataset read from path.
func (o *OpDataSelection) AddFile(path, nickname string) error {
	return o.add(DatasetInfo{Nickname: nickname, Path: path})
}

// AddArray appends an in-memory dataset.
func (o *OpDataSelection) AddArray(a *ndarray.Array, nickname string) error {
	return o.add(DatasetInfo{Nickname: nickname, Array: a})
}

func (o *OpDataSelection) add(d DatasetInfo) error {
	if d.Path == "" && d.Array == nil {
		return ErrDatasetNoSource
	}
	cur, _ := graph.ValueAs[[]DatasetInfo](o.Datasets)
	for _, c := range cur {
		if c.DisplayName() == d.DisplayName() {
			return fmt.Errorf("%w: %q", ErrDuplicateDataset, d.DisplayName())
		}
	}
	next := append(append([]DatasetInfo(nil), cur...), d)
	return o.Datasets.SetValue(next)
}

// SelectLane makes dataset i the active one.
func (o *OpDataSelection) SelectLane(i int) error {
	n := len(o.DatasetList())
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d of %d", ErrLaneOutOfRange, i, n)
	}
	return o.ActiveLane.SetValue(i)
}

// DatasetList returns the configured datasets.
func (o *OpDataSelection) DatasetList() []DatasetInfo {
	d, _ := graph.ValueAs[[]DatasetInfo](o.Datasets)
	return d
}

// Applet wraps OpDataSelection. It has no drawer.
type Applet struct {
	applets.Base
	op *OpDataSelection
}

// New creates the applet in env.Graph.
func New(env applets.Env, name string) *Applet {
	if name == "" {
		name = Name
	}
	log := env.Log("ilastik.applets.dataSelection")
	op := NewOpDataSelection(graph.InGraph(env.Graph), "OpDataSelection", log)
	ser := applets.NewSlotSerializer(name, log,
		applets.Value[[]DatasetInfo](op.Datasets),
		applets.Value[int](op.ActiveLane),
	)
	return &Applet{Base: applets.NewBase(name, op, ser), op: op}
}

// Operator returns the typed top-level operator.
func (a *Applet) Operator() *OpDataSelection { return a.op }
