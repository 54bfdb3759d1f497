package watershed

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/viewmodel"
)

// SeedsLayerName is the display name of the RawData layer; its channel is
// the seed channel.
const SeedsLayerName = "Seeds"

// Drawer is the watershed panel: a seed channel box and a brush value box
// kept in sync with ChannelSelection and BrushValue.
//
// View edits reach the operator through ConfigureOperatorFromGUI and slot
// changes reach the boxes through ConfigureGUIFromOperator. Both run under
// one binder guard, so an update caused by the other direction is dropped.
type Drawer struct {
	applets.BaseDrawer
	ChannelBox    *viewmodel.SpinBox
	BrushValueBox *viewmodel.SpinBox

	op       *OpWatershedSegmentation
	log      zerolog.Logger
	binder   *viewmodel.Binder
	cleanups viewmodel.Cleanups

	mu          sync.Mutex
	seeds       *viewmodel.Layer
	superpixels *viewmodel.Layer
	layerSubs   viewmodel.Cleanups
}

func NewDrawer(op *OpWatershedSegmentation, log zerolog.Logger) *Drawer {
	d := &Drawer{
		ChannelBox:    viewmodel.NewSpinBox(SeedsLayerName + " Channel"),
		BrushValueBox: viewmodel.NewSpinBox("Brush value"),
		op:            op,
		log:           log,
		binder:        viewmodel.NewBinder("watershed.drawer"),
	}
	d.binder.OnModelChanged(func(string) { d.configureGUI() })
	d.binder.OnViewChanged(d.configureOperator)

	d.setChannelBoxRange()
	metaSub := op.RawData.NotifyMetaChanged(func(*graph.Slot) { d.setChannelBoxRange() })
	d.cleanups.Add(func() { op.RawData.UnregisterMetaChanged(metaSub) })
	d.configureUpdateHandlers(d.ChannelBox, op.ChannelSelection)

	chSub := d.ChannelBox.OnValueChanged(d.onChannelChanged)
	d.cleanups.Add(func() { d.ChannelBox.Unsubscribe(chSub) })

	d.setBrushValueBoxRange()
	brushSub := op.RawData.NotifyMetaChanged(func(*graph.Slot) { d.setBrushValueBoxRange() })
	d.cleanups.Add(func() { op.RawData.UnregisterMetaChanged(brushSub) })
	d.configureUpdateHandlers(d.BrushValueBox, op.BrushValue)

	d.ConfigureGUIFromOperator()
	return d
}

// configureUpdateHandlers routes box edits to the operator and dirtiness of
// slot back to the boxes.
func (d *Drawer) configureUpdateHandlers(box *viewmodel.SpinBox, slot *graph.Slot) {
	boxSub := box.OnValueChanged(func(int) { d.binder.ViewChanged(box.Name()) })
	dirtySub := slot.NotifyDirty(func(graph.DirtyEvent) { d.ConfigureGUIFromOperator() })
	d.cleanups.Add(func() {
		box.Unsubscribe(boxSub)
		slot.UnregisterDirty(dirtySub)
	})
}

// setChannelBoxRange keeps the previous range while RawData is not ready.
// A new range may have clamped the box, so the boxes are reloaded from the
// operator afterwards.
func (d *Drawer) setChannelBoxRange() {
	if !d.op.RawData.Ready() {
		d.log.Warn().Msg("RawData not ready (maybe not existing)")
		return
	}
	d.ChannelBox.SetRange(0, max(d.op.RawData.Meta().AxisLen('c'), 1)-1)
	d.ConfigureGUIFromOperator()
}

func (d *Drawer) setBrushValueBoxRange() {
	if !d.op.RawData.Ready() {
		d.log.Warn().Msg("RawData not ready (maybe not existing)")
		return
	}
	if r := d.op.RawData.Meta().DRange; r != nil {
		d.BrushValueBox.SetRange(int(r[0]), int(r[1]))
		d.ConfigureGUIFromOperator()
	}
}

// ConfigureGUIFromOperator copies the operator settings into the boxes and
// the seeds layer. It reports false when dropped because an update is
// already running.
func (d *Drawer) ConfigureGUIFromOperator() bool {
	return d.binder.ModelChanged(d.op.Name())
}

// ConfigureOperatorFromGUI writes both box values into the operator. It
// reports false when dropped.
func (d *Drawer) ConfigureOperatorFromGUI() bool {
	return d.binder.ViewChanged("")
}

func (d *Drawer) configureGUI() {
	ch, _ := graph.ValueAs[int](d.op.ChannelSelection)
	d.ChannelBox.SetValue(ch)
	if l := d.seedsLayer(); l != nil {
		l.SetChannel(ch)
	}
	brush, _ := graph.ValueAs[int](d.op.BrushValue)
	d.BrushValueBox.SetValue(brush)
}

// configureOperator writes the box named source into its slot, or every
// box when source is empty.
func (d *Drawer) configureOperator(source string) {
	for _, b := range []struct {
		box  *viewmodel.SpinBox
		slot *graph.Slot
	}{
		{d.ChannelBox, d.op.ChannelSelection},
		{d.BrushValueBox, d.op.BrushValue},
	} {
		if source != "" && source != b.box.Name() {
			continue
		}
		if err := b.slot.SetValue(b.box.Value()); err != nil {
			d.log.Error().Err(err).Str("slot", b.slot.Name()).Msg("cannot configure operator")
		}
	}
}

// onChannelChanged makes the seeds layer show the selected channel.
func (d *Drawer) onChannelChanged(int) {
	if l := d.seedsLayer(); l != nil {
		l.SetChannel(d.ChannelBox.Value())
	}
}

func (d *Drawer) seedsLayer() *viewmodel.Layer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seeds
}

// SetupLayers returns Superpixels, Input and Seeds for whichever slots are
// ready. The Seeds layer shows RawData; changing its channel moves the
// channel box.
func (d *Drawer) SetupLayers() []*viewmodel.Layer {
	d.layerSubs.Run()
	var layers []*viewmodel.Layer
	op := d.op

	var superpixels, seeds *viewmodel.Layer
	if op.Superpixels.Ready() {
		superpixels = viewmodel.NewLayer("Superpixels", viewmodel.ColorTable, op.Superpixels)
		superpixels.SetOpacity(0.5)
		layers = append(layers, superpixels)
	}
	if op.Input.Ready() {
		l := viewmodel.NewLayer("Input", viewmodel.Grayscale, op.Input)
		l.SetVisible(false)
		layers = append(layers, l)
	}
	if op.RawData.Ready() {
		seeds = viewmodel.NewLayer(SeedsLayerName, viewmodel.Grayscale, op.RawData)
		seeds.SetChannel(d.ChannelBox.Value())
		sub := seeds.OnChannelChanged(func(c int) { d.ChannelBox.SetValue(c) })
		d.layerSubs.Add(func() { seeds.Unsubscribe(sub) })
		layers = append(layers, seeds)
	}

	d.mu.Lock()
	d.seeds, d.superpixels = seeds, superpixels
	d.mu.Unlock()
	return layers
}

// UpdateWatershed shows the superpixel layer and recomputes the
// superpixels with the cache briefly unfrozen.
func (d *Drawer) UpdateWatershed(ctx context.Context) error {
	d.mu.Lock()
	if d.superpixels != nil {
		d.superpixels.SetVisible(true)
	}
	d.mu.Unlock()
	if err := d.op.UpdateWatershed(ctx); err != nil {
		d.log.Error().Err(err).Msg("watershed update failed")
		return err
	}
	return nil
}

func (d *Drawer) StopAndCleanUp() {
	d.layerSubs.Run()
	d.cleanups.Run()
	d.binder.Close()
	d.mu.Lock()
	d.seeds, d.superpixels = nil, nil
	d.mu.Unlock()
}
