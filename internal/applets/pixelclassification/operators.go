package pixelclassification

import (
	"context"
	"fmt"
	"slices"

	"github.com/FynnBe/ilastik/internal/classifier"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// opTrainClassifier trains a model from the labelled pixels. Only the
// bounding box of the labels is read from Features.
type opTrainClassifier struct {
	graph.OperatorBase
	Features   *graph.Slot
	Labels     *graph.Slot
	Classifier *graph.Slot
}

func newOpTrainClassifier(owner graph.Owner) *opTrainClassifier {
	op := &opTrainClassifier{}
	op.InitIn(owner, "TrainClassifier", op)
	op.Features = op.AddInput("Features")
	op.Labels = op.AddInput("Labels")
	op.Classifier = op.AddOutput("Classifier")
	return op
}

func (o *opTrainClassifier) SetupOutputs() error {
	f, l := o.Features.Meta(), o.Labels.Meta()
	if !f.IsArray() || !l.IsArray() {
		return graph.ErrNotArray
	}
	if !slices.Equal(spatial(f), spatial(l)) {
		return fmt.Errorf("%w: features %v, labels %v", ErrLabelShape, f.Shape, l.Shape)
	}
	return nil
}

func (o *opTrainClassifier) ExecuteValue(ctx context.Context, _ *graph.Slot) (any, error) {
	labels, err := o.Labels.Get(graph.Roi{}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	box, ok := labelledBox(labels)
	if !ok {
		return nil, classifier.ErrNoSamples
	}
	labels, err = labels.Sub(box.Start, box.Stop)
	if err != nil {
		return nil, err
	}
	fm := o.Features.Meta()
	fbox := graph.NewRoi(box.Start, box.Stop)
	fbox.Stop[len(fbox.Stop)-1] = fm.Shape[len(fm.Shape)-1]
	features, err := o.Features.Get(fbox).Wait(ctx)
	if err != nil {
		return nil, err
	}
	xs, ys, err := classifier.Samples(features, labels)
	if err != nil {
		return nil, err
	}
	model, err := classifier.Train(xs, ys)
	if err != nil {
		return nil, err
	}
	o.Logger().Info().Int("samples", len(xs)).Ints("classes", model.Classes).Msg("classifier trained")
	return model, nil
}

func (o *opTrainClassifier) Execute(context.Context, *graph.Slot, graph.Roi) (*ndarray.Array, error) {
	return nil, graph.ErrNotImplemented
}

func (o *opTrainClassifier) PropagateDirty(*graph.Slot, graph.Roi) {
	o.Classifier.SetDirty(graph.Roi{})
}

// labelledBox is the bounding box of the pixels > 0, channel axis included.
func labelledBox(labels *ndarray.Array) (graph.Roi, bool) {
	nd := len(labels.Shape)
	start := slices.Clone(labels.Shape)
	stop := make([]int, nd)
	found := false
	ndarray.ForEach(labels.Shape, func(c []int) {
		if labels.At(c...) <= 0 {
			return
		}
		found = true
		for i, v := range c {
			start[i] = min(start[i], v)
			stop[i] = max(stop[i], v+1)
		}
	})
	return graph.NewRoi(start, stop), found
}

// opPredict evaluates the classifier on the features. Channel k holds the
// probability of label k+1; labels the model never saw get zero.
type opPredict struct {
	graph.OperatorBase
	Features   *graph.Slot
	Classifier *graph.Slot
	NumClasses *graph.Slot
	Output     *graph.Slot
}

func newOpPredict(owner graph.Owner) *opPredict {
	op := &opPredict{}
	op.InitIn(owner, "Predict", op)
	op.Features = op.AddInput("Features")
	op.Classifier = op.AddInput("Classifier")
	op.NumClasses = op.AddInput("NumClasses")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *opPredict) SetupOutputs() error {
	f := o.Features.Meta()
	if !f.IsArray() {
		return graph.ErrNotArray
	}
	n, _ := graph.ValueAs[int](o.NumClasses)
	m := graph.Meta{Axes: f.Axes, Shape: slices.Clone(f.Shape), DType: graph.Float32}
	m.Shape[len(m.Shape)-1] = n
	return o.Output.SetMeta(m.WithDRange(0, 1))
}

func (o *opPredict) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	v, err := o.Classifier.GetValue().WaitValue(ctx)
	if err != nil {
		return nil, err
	}
	model, ok := v.(*classifier.Model)
	if !ok {
		return nil, fmt.Errorf("%w: classifier is %T", ErrNoClassifier, v)
	}
	last := len(roi.Start) - 1
	froi := graph.NewRoi(roi.Start, roi.Stop)
	froi.Start[last], froi.Stop[last] = 0, o.Features.Meta().Shape[last]
	features, err := o.Features.Get(froi).Wait(ctx)
	if err != nil {
		return nil, err
	}
	probs, err := model.PredictArray(features)
	if err != nil {
		return nil, err
	}

	out, err := ndarray.New(features.Axes, roi.Shape()...)
	if err != nil {
		return nil, err
	}
	nOut, nModel := out.Shape[last], len(model.Classes)
	for px := 0; px < len(out.Data)/max(nOut, 1); px++ {
		for k, class := range model.Classes {
			ch := class - 1 - roi.Start[last]
			if ch >= 0 && ch < nOut {
				out.Data[px*nOut+ch] = probs.Data[px*nModel+k]
			}
		}
	}
	return out, nil
}

func (o *opPredict) PropagateDirty(slot *graph.Slot, roi graph.Roi) {
	out := o.Output.Meta()
	if slot != o.Features || roi.IsZero() || !out.IsArray() {
		o.Output.SetDirty(graph.Roi{})
		return
	}
	r := graph.NewRoi(roi.Start, roi.Stop)
	r.Start[len(r.Start)-1], r.Stop[len(r.Stop)-1] = 0, out.Shape[len(out.Shape)-1]
	o.Output.SetDirty(r)
}

// opSegmentation labels every pixel with the most probable class, 1-based.
// Pixels without any probability stay 0.
type opSegmentation struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot
}

func newOpSegmentation(owner graph.Owner) *opSegmentation {
	op := &opSegmentation{}
	op.InitIn(owner, "Segmentation", op)
	op.Input = op.AddInput("Input")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *opSegmentation) SetupOutputs() error {
	in := o.Input.Meta()
	if !in.IsArray() {
		return graph.ErrNotArray
	}
	m := graph.Meta{Axes: in.Axes, Shape: slices.Clone(in.Shape), DType: graph.Uint8}
	n := m.Shape[len(m.Shape)-1]
	m.Shape[len(m.Shape)-1] = 1
	return o.Output.SetMeta(m.WithDRange(0, float64(n)))
}

func (o *opSegmentation) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	last := len(roi.Start) - 1
	r := graph.NewRoi(roi.Start, roi.Stop)
	r.Start[last], r.Stop[last] = 0, o.Input.Meta().Shape[last]
	probs, err := o.Input.Get(r).Wait(ctx)
	if err != nil {
		return nil, err
	}
	out, err := ndarray.New(probs.Axes, roi.Shape()...)
	if err != nil {
		return nil, err
	}
	n := probs.Shape[last]
	for px := range out.Data {
		best, bestP := 0, float32(0)
		for k, p := range probs.Data[px*n : (px+1)*n] {
			if p > bestP {
				best, bestP = k+1, p
			}
		}
		out.Data[px] = float32(best)
	}
	return out, nil
}

func (o *opSegmentation) PropagateDirty(_ *graph.Slot, roi graph.Roi) {
	if roi.IsZero() {
		o.Output.SetDirty(roi)
		return
	}
	r := graph.NewRoi(roi.Start, roi.Stop)
	r.Start[len(r.Start)-1], r.Stop[len(r.Stop)-1] = 0, 1
	o.Output.SetDirty(r)
}

// spatial drops the trailing channel axis of m.
func spatial(m graph.Meta) []int {
	if m.AxisIndex('c') == len(m.Shape)-1 {
		return m.Shape[:len(m.Shape)-1]
	}
	return m.Shape
}
