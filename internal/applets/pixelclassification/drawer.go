package pixelclassification

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/viewmodel"
)

// Drawer is the training panel. Its live update box is the inverse of
// FreezePredictions.
type Drawer struct {
	applets.BaseDrawer
	LiveUpdate *viewmodel.CheckBox

	op       *OpPixelClassification
	log      zerolog.Logger
	binder   *viewmodel.Binder
	cleanups viewmodel.Cleanups
}

func NewDrawer(op *OpPixelClassification, log zerolog.Logger) *Drawer {
	d := &Drawer{
		LiveUpdate: viewmodel.NewCheckBox("Live Update"),
		op:         op,
		log:        log,
		binder:     viewmodel.NewBinder("pixelClassification.drawer"),
	}
	d.binder.OnViewChanged(func(string) {
		if err := op.FreezePredictions.SetValue(!d.LiveUpdate.Checked()); err != nil {
			d.log.Error().Err(err).Msg("cannot update FreezePredictions")
		}
	})
	d.binder.OnModelChanged(func(string) {
		frozen, _ := graph.ValueAs[bool](op.FreezePredictions)
		d.LiveUpdate.SetChecked(!frozen)
	})
	sub := d.LiveUpdate.OnToggled(func(bool) { d.binder.ViewChanged(d.LiveUpdate.Name()) })
	d.cleanups.Add(func() { d.LiveUpdate.Unsubscribe(sub) })
	d.cleanups.Add(d.binder.WatchSlot(op.FreezePredictions))
	d.binder.ModelChanged(op.FreezePredictions.FullName())
	return d
}

// SetupLayers lists the labels, one layer per class prediction, the
// segmentation and the raw input, top to bottom.
func (d *Drawer) SetupLayers() []*viewmodel.Layer {
	var layers []*viewmodel.Layer
	op := d.op
	if op.LabelImages.Ready() {
		layers = append(layers, viewmodel.NewLayer("Labels", viewmodel.ColorTable, op.LabelImages))
	}
	if op.CachedPredictionProbabilities.Ready() {
		names, _ := graph.ValueAs[[]string](op.LabelNames)
		for k, name := range names {
			l := viewmodel.NewLayer(fmt.Sprintf("Prediction for %s", name), viewmodel.Alpha, op.CachedPredictionProbabilities)
			l.SetChannel(k)
			l.SetOpacity(0.25)
			layers = append(layers, l)
		}
	}
	if op.SimpleSegmentation.Ready() {
		l := viewmodel.NewLayer("Segmentation", viewmodel.ColorTable, op.SimpleSegmentation)
		l.SetVisible(false)
		layers = append(layers, l)
	}
	if op.InputImages.Ready() {
		layers = append(layers, viewmodel.NewLayer("Raw Input", viewmodel.Grayscale, op.InputImages))
	}
	return layers
}

func (d *Drawer) StopAndCleanUp() {
	d.cleanups.Run()
	d.binder.Close()
}
