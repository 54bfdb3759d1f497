// Package pixelclassification is the applet that learns a per-pixel
// classifier from brush labels and predicts class probabilities for the
// whole image.
//
// Internally it chains a trainer, a value cache holding the model, a
// predictor, a block cache over the predictions (frozen by
// FreezePredictions) and an argmax segmentation.
package pixelclassification

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/operators"
)

// Name is the default applet title.
const Name = "Training"

var (
	ErrLabelShape    = errors.New("label image does not match the input image")
	ErrNoClassifier  = errors.New("no classifier available")
	ErrTooFewLabels  = errors.New("at least two label names are required")
	ErrLabelOutRange = errors.New("label value out of range")
)

// DefaultLabelNames are the two classes a fresh project starts with.
var DefaultLabelNames = []string{"Label 1", "Label 2"}

// OpPixelClassification is the top-level operator of the applet.
type OpPixelClassification struct {
	graph.OperatorBase
	InputImages         *graph.Slot
	FeatureImages       *graph.Slot
	CachedFeatureImages *graph.Slot
	LabelInput          *graph.Slot // optional label array, one channel
	FreezePredictions   *graph.Slot // bool
	LabelNames          *graph.Slot // []string

	LabelImages                   *graph.Slot
	Classifier                    *graph.Slot
	PredictionProbabilities       *graph.Slot
	CachedPredictionProbabilities *graph.Slot
	SimpleSegmentation            *graph.Slot
	NumClasses                    *graph.Slot

	labels      *operators.OpArrayPiper
	train       *opTrainClassifier
	modelCache  *operators.OpValueCache
	predict     *opPredict
	predictions *operators.OpBlockedArrayCache
	segment     *opSegmentation
}

func NewOpPixelClassification(owner graph.Owner, name string, cache operators.CacheConfig) *OpPixelClassification {
	op := &OpPixelClassification{}
	op.InitIn(owner, name, op)
	op.InputImages = op.AddInput("InputImages")
	op.FeatureImages = op.AddInput("FeatureImages")
	op.CachedFeatureImages = op.AddInput("CachedFeatureImages")
	op.LabelInput = op.AddInput("LabelInput", graph.Optional())
	op.FreezePredictions = op.AddInput("FreezePredictions", graph.WithDefault(false))
	op.LabelNames = op.AddInput("LabelNames", graph.WithDefault(slices.Clone(DefaultLabelNames)))

	op.LabelImages = op.AddOutput("LabelImages")
	op.Classifier = op.AddOutput("Classifier")
	op.PredictionProbabilities = op.AddOutput("PredictionProbabilities")
	op.CachedPredictionProbabilities = op.AddOutput("CachedPredictionProbabilities")
	op.SimpleSegmentation = op.AddOutput("SimpleSegmentation")
	op.NumClasses = op.AddOutput("NumClasses")

	under := graph.Under(op)
	op.labels = operators.NewOpArrayPiper(under, "Labels")
	op.train = newOpTrainClassifier(under)
	op.modelCache = operators.NewOpValueCache(under, "ClassifierCache")
	op.predict = newOpPredict(under)
	op.predictions = operators.NewOpBlockedArrayCache(under, "PredictionCache", cache)
	op.segment = newOpSegmentation(under)

	for _, c := range []struct{ to, from *graph.Slot }{
		{op.labels.Input, op.LabelInput},
		{op.LabelImages, op.labels.Output},
		{op.train.Features, op.CachedFeatureImages},
		{op.train.Labels, op.LabelInput},
		{op.modelCache.Input, op.train.Classifier},
		{op.Classifier, op.modelCache.Output},
		{op.predict.Features, op.CachedFeatureImages},
		{op.predict.Classifier, op.modelCache.Output},
		{op.predict.NumClasses, op.NumClasses},
		{op.PredictionProbabilities, op.predict.Output},
		{op.predictions.Input, op.predict.Output},
		{op.predictions.FreezeCache, op.FreezePredictions},
		{op.CachedPredictionProbabilities, op.predictions.Output},
		{op.segment.Input, op.predictions.Output},
		{op.SimpleSegmentation, op.segment.Output},
	} {
		if err := c.to.Connect(c.from); err != nil {
			panic(fmt.Sprintf("pixel classification wiring: %v", err))
		}
	}
	return op
}

func (o *OpPixelClassification) SetupOutputs() error {
	names, _ := graph.ValueAs[[]string](o.LabelNames)
	if len(names) < 2 {
		return fmt.Errorf("%w: %v", ErrTooFewLabels, names)
	}
	img, feat := o.InputImages.Meta(), o.FeatureImages.Meta()
	if !slices.Equal(spatial(img), spatial(feat)) {
		return fmt.Errorf("%w: input %v, features %v", ErrLabelShape, img.Shape, feat.Shape)
	}
	if o.LabelInput.Ready() {
		if l := o.LabelInput.Meta(); !slices.Equal(spatial(img), spatial(l)) {
			return fmt.Errorf("%w: input %v, labels %v", ErrLabelShape, img.Shape, l.Shape)
		}
	}
	return o.NumClasses.SetOutputValue(len(names))
}

func (o *OpPixelClassification) Execute(context.Context, *graph.Slot, graph.Roi) (*ndarray.Array, error) {
	return nil, graph.ErrNotImplemented
}

// PropagateDirty only handles LabelNames; the data inputs reach the
// children through their connections.
func (o *OpPixelClassification) PropagateDirty(slot *graph.Slot, _ graph.Roi) {
	if slot == o.LabelNames {
		o.NumClasses.SetDirty(graph.Roi{})
	}
}

// labelMeta is the meta of a label image for the current input image.
func (o *OpPixelClassification) labelMeta() (graph.Meta, error) {
	img := o.InputImages.Meta()
	if !img.IsArray() {
		return graph.Meta{}, fmt.Errorf("%w: %s", graph.ErrSlotNotReady, o.InputImages.FullName())
	}
	m := graph.Meta{Axes: img.Axes, Shape: slices.Clone(spatial(img)), DType: graph.Uint8}
	if m.AxisIndex('c') < 0 {
		m.Axes += "c"
	}
	m.Shape = append(m.Shape, 1)
	return m, nil
}

// PaintLabels writes patch into the label image at start, creating an empty
// label image first if none is set. Only the painted region becomes dirty.
func (o *OpPixelClassification) PaintLabels(start []int, patch *ndarray.Array) error {
	n, _ := graph.ValueAs[int](o.NumClasses)
	lo, hi := patch.MinMax()
	if lo < 0 || (n > 0 && int(hi) > n) {
		return fmt.Errorf("%w: [%v, %v] for %d classes", ErrLabelOutRange, lo, hi, n)
	}
	labels, ok := graph.ValueAs[*ndarray.Array](o.LabelInput)
	if !ok || labels == nil || o.LabelInput.Connected() {
		m, err := o.labelMeta()
		if err != nil {
			return err
		}
		if labels, err = ndarray.New(m.Axes, m.Shape...); err != nil {
			return err
		}
		if err := labels.Paste(start, patch); err != nil {
			return err
		}
		return o.LabelInput.SetValue(labels)
	}
	if err := labels.Paste(start, patch); err != nil {
		return err
	}
	stop := make([]int, len(start))
	for i := range start {
		stop[i] = start[i] + patch.Shape[i]
	}
	o.LabelInput.SetDirty(graph.NewRoi(start, stop))
	return nil
}

// ClearLabels removes every label.
func (o *OpPixelClassification) ClearLabels() error {
	m, err := o.labelMeta()
	if err != nil {
		return err
	}
	labels, err := ndarray.New(m.Axes, m.Shape...)
	if err != nil {
		return err
	}
	return o.LabelInput.SetValue(labels)
}

// PredictionCache exposes the block cache behind the cached predictions.
func (o *OpPixelClassification) PredictionCache() *operators.OpBlockedArrayCache { return o.predictions }

// ClassifierCached reports whether a trained model is held.
func (o *OpPixelClassification) ClassifierCached() bool { return o.modelCache.Cached() }

// Applet wraps OpPixelClassification with a drawer.
type Applet struct {
	applets.Base
	op *OpPixelClassification
}

// New creates the applet in env.Graph.
func New(env applets.Env, name string) *Applet {
	if name == "" {
		name = Name
	}
	log := env.Log("ilastik.applets.pixelClassification")
	op := NewOpPixelClassification(graph.InGraph(env.Graph), "OpPixelClassification", env.Cache)
	ser := applets.NewSlotSerializer(name, log,
		applets.Value[[]string](op.LabelNames),
		applets.Value[*ndarray.Array](op.LabelInput),
	)
	a := &Applet{Base: applets.NewBase(name, op, ser), op: op}
	a.SetDrawer(NewDrawer(op, log))
	return a
}

// Operator returns the typed top-level operator.
func (a *Applet) Operator() *OpPixelClassification { return a.op }
