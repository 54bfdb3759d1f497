// Package projectmetadata is the applet holding the descriptive fields of a
// project: its name, the person labelling and a free text description.
package projectmetadata

import (
	"context"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// Name is the default applet title.
const Name = "Project Metadata"

// OpProjectMetadata only carries values; it has no outputs.
type OpProjectMetadata struct {
	graph.OperatorBase
	ProjectName *graph.Slot
	Labeler     *graph.Slot
	Description *graph.Slot
}

func NewOpProjectMetadata(owner graph.Owner, name string) *OpProjectMetadata {
	op := &OpProjectMetadata{}
	op.InitIn(owner, name, op)
	op.ProjectName = op.AddInput("ProjectName", graph.WithDefault(""))
	op.Labeler = op.AddInput("Labeler", graph.WithDefault(""))
	op.Description = op.AddInput("Description", graph.WithDefault(""))
	op.Refresh()
	return op
}

func (o *OpProjectMetadata) SetupOutputs() error { return nil }

func (o *OpProjectMetadata) Execute(context.Context, *graph.Slot, graph.Roi) (*ndarray.Array, error) {
	return nil, graph.ErrNotImplemented
}

// Info is a snapshot of the metadata fields.
type Info struct {
	ProjectName string
	Labeler     string
	Description string
}

// Info reads the current values.
func (o *OpProjectMetadata) Info() Info {
	var i Info
	i.ProjectName, _ = graph.ValueAs[string](o.ProjectName)
	i.Labeler, _ = graph.ValueAs[string](o.Labeler)
	i.Description, _ = graph.ValueAs[string](o.Description)
	return i
}

// Set writes every field of i.
func (o *OpProjectMetadata) Set(i Info) error {
	if err := o.ProjectName.SetValue(i.ProjectName); err != nil {
		return err
	}
	if err := o.Labeler.SetValue(i.Labeler); err != nil {
		return err
	}
	return o.Description.SetValue(i.Description)
}

// Applet wraps OpProjectMetadata. It has no drawer.
type Applet struct {
	applets.Base
	op *OpProjectMetadata
}

// New creates the applet in env.Graph.
func New(env applets.Env, name string) *Applet {
	if name == "" {
		name = Name
	}
	op := NewOpProjectMetadata(graph.InGraph(env.Graph), "OpProjectMetadata")
	ser := applets.NewSlotSerializer(name, env.Log("ilastik.applets.projectMetadata"),
		applets.Value[string](op.ProjectName),
		applets.Value[string](op.Labeler),
		applets.Value[string](op.Description),
	)
	return &Applet{Base: applets.NewBase(name, op, ser), op: op}
}

// Operator returns the typed top-level operator.
func (a *Applet) Operator() *OpProjectMetadata { return a.op }
