package watershed

import (
	"context"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// Name is the default applet title.
const Name = "Watershed Segmentation"

// Applet wraps OpWatershedSegmentation with its drawer.
type Applet struct {
	applets.Base
	op     *OpWatershedSegmentation
	drawer *Drawer
}

// New creates the applet in env.Graph.
func New(env applets.Env, name string) *Applet {
	if name == "" {
		name = Name
	}
	log := env.Log("ilastik.applets.watershedSegmentation")
	op := NewOpWatershedSegmentation(graph.InGraph(env.Graph), "OpWatershedSegmentation", env.Cache)
	ser := applets.NewSlotSerializer(name, log,
		applets.Value[int](op.ChannelSelection),
		applets.Value[int](op.BrushValue),
		applets.Value[int](op.ElevationChannel),
		applets.Value[*ndarray.Array](op.SeedInput),
	)
	a := &Applet{Base: applets.NewBase(name, op, ser), op: op, drawer: NewDrawer(op, log)}
	a.SetDrawer(a.drawer)
	return a
}

// Operator returns the typed top-level operator.
func (a *Applet) Operator() *OpWatershedSegmentation { return a.op }

// WatershedDrawer returns the typed drawer.
func (a *Applet) WatershedDrawer() *Drawer { return a.drawer }

// Update recomputes the superpixels through the drawer, as the update
// button does.
func (a *Applet) Update(ctx context.Context) error { return a.drawer.UpdateWatershed(ctx) }
