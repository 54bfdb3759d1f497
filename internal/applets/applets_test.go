package applets

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/internal/viewmodel"
)

type opSettings struct {
	graph.OperatorBase
	Threshold *graph.Slot
	Names     *graph.Slot
	Upstream  *graph.Slot
}

func newOpSettings(g *graph.Graph) *opSettings {
	op := &opSettings{}
	op.Init(g, "Settings", op)
	op.Threshold = op.AddInput("Threshold", graph.WithDefault(0.5))
	op.Names = op.AddInput("Names", graph.Optional())
	op.Upstream = op.AddInput("Upstream", graph.Optional())
	op.Refresh()
	return op
}

func (o *opSettings) SetupOutputs() error { return nil }

func (o *opSettings) Execute(context.Context, *graph.Slot, graph.Roi) (*ndarray.Array, error) {
	return nil, graph.ErrNotImplemented
}

type testDrawer struct {
	BaseDrawer
	cleaned bool
}

func (d *testDrawer) SetupLayers() []*viewmodel.Layer { return nil }
func (d *testDrawer) StopAndCleanUp()                 { d.cleaned = true }

func TestSlotSerializer_RoundTrip(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	src := newOpSettings(g)
	require.NoError(t, src.Threshold.SetValue(0.8))
	require.NoError(t, src.Names.SetValue([]string{"a", "b"}))

	ser := NewSlotSerializer("Settings", zerolog.Nop(),
		Value[float64](src.Threshold), Value[[]string](src.Names))
	assert.Equal(t, []string{"Threshold", "Names"}, ser.Slots())

	p := project.New("demo", "test")
	require.NoError(t, ser.Serialize(p))
	_, ok := p.Slot("Settings", "Threshold")
	assert.True(t, ok)

	dst := newOpSettings(g)
	restore := NewSlotSerializer("Settings", zerolog.Nop(),
		Value[float64](dst.Threshold), Value[[]string](dst.Names))
	require.NoError(t, restore.Deserialize(p))

	th, _ := graph.ValueAs[float64](dst.Threshold)
	assert.Equal(t, 0.8, th)
	names, _ := graph.ValueAs[[]string](dst.Names)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestSlotSerializer_SkipsEmptyAndConnected(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	a := newOpSettings(g)
	b := newOpSettings(g)
	require.NoError(t, b.Upstream.Connect(a.Threshold))

	ser := NewSlotSerializer("Settings", zerolog.Nop(),
		Value[[]string](b.Names), Value[float64](b.Upstream))
	p := project.New("demo", "test")
	require.NoError(t, ser.Serialize(p))
	assert.Empty(t, p.AppletNames())
}

func TestSlotSerializer_DecodeError(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOpSettings(g)

	p := project.New("demo", "test")
	p.SetSlot("Settings", "Threshold", []byte{0xc1})
	ser := NewSlotSerializer("Settings", zerolog.Nop(), Value[float64](op.Threshold))
	assert.ErrorIs(t, ser.Deserialize(p), ErrDecode)
}

func TestBase(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOpSettings(g)

	b := NewBase("Settings", op, nil)
	assert.Equal(t, "Settings", b.Name())
	assert.Same(t, op, b.TopLevelOperator())
	assert.Nil(t, b.Drawer())
	assert.Nil(t, b.Serializer())

	d := &testDrawer{}
	b.SetDrawer(d)
	require.NotNil(t, b.Drawer())
	b.Drawer().Show()
	assert.True(t, d.Visible())
	b.Drawer().Hide()
	assert.False(t, d.Visible())
}

func TestEnv_Log(t *testing.T) {
	var got string
	env := Env{Logger: func(name string) zerolog.Logger {
		got = name
		return zerolog.Nop()
	}}
	env.Log("ilastik.applets.x")
	assert.Equal(t, "ilastik.applets.x", got)
	assert.NotPanics(t, func() { Env{}.Log("x").Info().Msg("dropped") })
}
