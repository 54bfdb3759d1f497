package operators

import (
	"context"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

// OpArrayPiper forwards Input to Output unchanged.
type OpArrayPiper struct {
	graph.OperatorBase
	Input  *graph.Slot
	Output *graph.Slot
}

// NewOpArrayPiper creates a piper in owner.
func NewOpArrayPiper(owner graph.Owner, name string) *OpArrayPiper {
	op := &OpArrayPiper{}
	op.InitIn(owner, name, op)
	op.Input = op.AddInput("Input")
	op.Output = op.AddOutput("Output")
	return op
}

func (o *OpArrayPiper) SetupOutputs() error {
	return o.Output.SetMeta(o.Input.Meta())
}

func (o *OpArrayPiper) Execute(ctx context.Context, _ *graph.Slot, roi graph.Roi) (*ndarray.Array, error) {
	return o.Input.Get(roi).Wait(ctx)
}

func (o *OpArrayPiper) PropagateDirty(_ *graph.Slot, roi graph.Roi) {
	o.Output.SetDirty(roi)
}
