package lazyflow

import (
	"context"
	"fmt"

	"github.com/FynnBe/ilastik/internal/adapters/repository/memory"
	"github.com/FynnBe/ilastik/internal/applets/dataselection"
	coregraph "github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/internal/workflow"
)

// Re-export core types for convenience
type (
	Graph        = coregraph.Graph
	Operator     = coregraph.Operator
	OperatorBase = coregraph.OperatorBase
	Slot         = coregraph.Slot
	Roi          = coregraph.Roi
	Meta         = coregraph.Meta
	Array        = ndarray.Array
	Workflow     = workflow.Workflow
	Options      = workflow.Options
)

// Runtime builds workflows and keeps their snapshots in a project store.
// The default runtime uses the in-memory store and is suitable for local
// usage and tests.
type Runtime struct {
	opts  workflow.Options
	store project.Store
}

// NewRuntime constructs a runtime with an in-memory store.
func NewRuntime() *Runtime {
	return NewRuntimeWith(workflow.Options{}, memory.Default())
}

// NewRuntimeWith uses the given build options and store.
func NewRuntimeWith(opts workflow.Options, store project.Store) *Runtime {
	return &Runtime{opts: opts, store: store}
}

// Store returns the project store.
func (rt *Runtime) Store() project.Store { return rt.store }

// Build creates the workflow ref, a builtin name or an .hcl path.
func (rt *Runtime) Build(ref string) (*Workflow, error) {
	spec, err := workflow.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return workflow.Build(spec, rt.opts)
}

// Save stores a snapshot of w and returns its ID.
func (rt *Runtime) Save(ctx context.Context, w *Workflow, name string) (string, error) {
	return w.Shell.SaveSnapshot(ctx, rt.store, name)
}

// Load builds the workflow of a stored project and restores it.
func (rt *Runtime) Load(ctx context.Context, id string) (*Workflow, error) {
	p, err := rt.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	w, err := rt.Build(p.Workflow)
	if err != nil {
		return nil, err
	}
	if err := w.Shell.Restore(p); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// RunSimple builds ref, feeds each array to the data selection applet of
// the same name and returns the export slot.
func (rt *Runtime) RunSimple(ctx context.Context, ref string, inputs map[string]*Array) (*Array, error) {
	w, err := rt.Build(ref)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	for name, a := range inputs {
		ap, err := w.Applet(name)
		if err != nil {
			return nil, err
		}
		ds, ok := ap.(*dataselection.Applet)
		if !ok {
			return nil, fmt.Errorf("applet %q does not take input images", name)
		}
		if err := ds.Operator().AddArray(a, name); err != nil {
			return nil, err
		}
	}
	return w.Export(ctx, "")
}
