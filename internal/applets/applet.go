// Package applets defines what an applet is: one top-level operator, an
// optional drawer view model and the list of slots persisted in project
// files. The concrete applets live in the sub packages.
package applets

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/operators"
	"github.com/FynnBe/ilastik/internal/viewmodel"
)

var (
	ErrUnknownSlot = errors.New("unknown slot")
	ErrDecode      = errors.New("cannot decode slot value")
)

// Applet is a self-contained feature module hosted by the shell.
type Applet interface {
	// Name is the applet title and its key in project files.
	Name() string
	// TopLevelOperator is the operator other applets connect to.
	TopLevelOperator() graph.Operator
	// Drawer is the view model shown in the side panel, nil for applets
	// without one.
	Drawer() Drawer
	// Serializer lists the persisted slots, nil when nothing is persisted.
	Serializer() *SlotSerializer
}

// Drawer is the per-applet panel the shell shows one at a time.
type Drawer interface {
	Show()
	Hide()
	Visible() bool
	// SetupLayers returns the display layers of the applet.
	SetupLayers() []*viewmodel.Layer
	// StopAndCleanUp drops every subscription the drawer made.
	StopAndCleanUp()
}

// Base implements Applet for embedding.
type Base struct {
	name       string
	op         graph.Operator
	drawer     Drawer
	serializer *SlotSerializer
}

// NewBase bundles the parts of an applet.
func NewBase(name string, op graph.Operator, serializer *SlotSerializer) Base {
	return Base{name: name, op: op, serializer: serializer}
}

func (b *Base) Name() string                     { return b.name }
func (b *Base) TopLevelOperator() graph.Operator { return b.op }
func (b *Base) Drawer() Drawer                   { return b.drawer }
func (b *Base) Serializer() *SlotSerializer      { return b.serializer }

// SetDrawer attaches a drawer.
func (b *Base) SetDrawer(d Drawer) { b.drawer = d }

// BaseDrawer carries the visibility bookkeeping shared by drawers.
type BaseDrawer struct {
	visible bool
}

func (d *BaseDrawer) Show()         { d.visible = true }
func (d *BaseDrawer) Hide()         { d.visible = false }
func (d *BaseDrawer) Visible() bool { return d.visible }

// Env is what applet constructors get from the workflow that builds them.
type Env struct {
	Graph *graph.Graph
	// Logger returns the named logger for a component. Nil means silent.
	Logger func(name string) zerolog.Logger
	Cache  operators.CacheConfig
}

// Log returns the named logger, or a no-op logger.
func (e Env) Log(name string) zerolog.Logger {
	if e.Logger == nil {
		return zerolog.Nop()
	}
	return e.Logger(name)
}
