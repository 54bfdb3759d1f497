package watershed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/internal/operators"
)

// ridge is flat with a wall at x == 3.
func ridge() *ndarray.Array {
	a := ndarray.MustNew("yxc", 6, 6, 1)
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			v := float32(1)
			if x == 3 {
				v = 9
			}
			a.Set(v, y, x, 0)
		}
	}
	return a
}

// twoSeeds has an empty channel 0 and seeds 1 and 2 on either side of the
// ridge in channel 1.
func twoSeeds() (*ndarray.Array, graph.Meta) {
	a := ndarray.MustNew("yxc", 6, 6, 2)
	a.Set(1, 0, 0, 1)
	a.Set(2, 5, 5, 1)
	m := graph.Meta{Axes: "yxc", Shape: []int{6, 6, 2}, DType: graph.Uint8}.WithDRange(0, 255)
	return a, m
}

func mask(h, w int) *ndarray.Array {
	m := ndarray.MustNew("yxc", h, w, 1)
	for i := range m.Data {
		m.Data[i] = 1
	}
	return m
}

func newOp(t *testing.T, g *graph.Graph) *OpWatershedSegmentation {
	t.Helper()
	op := NewOpWatershedSegmentation(graph.InGraph(g), "Watershed", operators.CacheConfig{BlockSize: 3})
	require.NoError(t, op.Input.SetValue(ridge()))
	return op
}

func withRawData(t *testing.T, op *OpWatershedSegmentation) {
	t.Helper()
	raw, m := twoSeeds()
	require.NoError(t, op.RawData.SetValueWithMeta(raw, m))
}

func TestOpWatershedSegmentation_SeedsMeta(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOp(t, g)

	require.True(t, op.Seeds.Ready())
	m := op.Seeds.Meta()
	assert.Equal(t, "yxc", m.Axes)
	assert.Equal(t, []int{6, 6, 1}, m.Shape)
	assert.Equal(t, graph.Uint32, m.DType)
	assert.Nil(t, m.DRange)

	withRawData(t, op)
	require.NotNil(t, op.Seeds.Meta().DRange)
	assert.Equal(t, [2]float64{0, 255}, *op.Seeds.Meta().DRange)
}

func TestOpWatershedSegmentation_FrozenUntilUpdate(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	ctx := context.Background()
	op := newOp(t, g)
	withRawData(t, op)
	require.NoError(t, op.ChannelSelection.SetValue(1))

	sp, err := op.Superpixels.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(0), sp.At(0, 0, 0))
	assert.Equal(t, 0, op.Runs())

	require.NoError(t, op.UpdateWatershed(ctx))
	assert.Equal(t, 1, op.Runs())
	assert.True(t, op.Cache().Stats().Frozen)

	sp, err = op.Superpixels.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	for y := 0; y < 6; y++ {
		for _, x := range []int{0, 1, 2} {
			assert.Equal(t, float32(1), sp.At(y, x, 0), "y=%d x=%d", y, x)
		}
		for _, x := range []int{4, 5} {
			assert.Equal(t, float32(2), sp.At(y, x, 0), "y=%d x=%d", y, x)
		}
	}
	assert.Equal(t, 1, op.Runs(), "served from cache")
}

func TestOpWatershedSegmentation_PaintSeeds(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	ctx := context.Background()
	op := newOp(t, g)
	require.NoError(t, op.BrushValue.SetValue(3))

	require.NoError(t, op.PaintSeeds([]int{0, 0, 0}, mask(2, 2)))
	seeds, err := op.Seeds.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(3), seeds.At(1, 1, 0))
	assert.Equal(t, float32(0), seeds.At(2, 2, 0))

	require.NoError(t, op.UpdateWatershed(ctx))
	sp, err := op.Superpixels.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	for _, v := range sp.Data {
		require.Equal(t, float32(3), v)
	}

	// further strokes stay pending while the cache is frozen
	require.NoError(t, op.BrushValue.SetValue(4))
	require.NoError(t, op.PaintSeeds([]int{4, 4, 0}, mask(2, 2)))
	seeds, err = op.Seeds.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(4), seeds.At(5, 5, 0))
	assert.Equal(t, float32(3), seeds.At(0, 0, 0))
	assert.Positive(t, op.Cache().Stats().Pending)

	sp, err = op.Superpixels.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(3), sp.At(5, 5, 0))

	require.NoError(t, op.UpdateWatershed(ctx))
	assert.Equal(t, 2, op.Runs())
	sp, err = op.Superpixels.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(4), sp.At(5, 5, 0))
	assert.Equal(t, float32(3), sp.At(0, 0, 0))
}

func TestOpWatershedSegmentation_Errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, op *OpWatershedSegmentation)
		want  error
	}{
		{
			name: "elevation channel",
			setup: func(t *testing.T, op *OpWatershedSegmentation) {
				require.NoError(t, op.ElevationChannel.SetValue(1))
			},
			want: ErrChannelOutOfRange,
		},
		{
			name: "seed channel",
			setup: func(t *testing.T, op *OpWatershedSegmentation) {
				withRawData(t, op)
				require.NoError(t, op.ChannelSelection.SetValue(2))
			},
			want: ErrChannelOutOfRange,
		},
		{
			name: "raw shape",
			setup: func(t *testing.T, op *OpWatershedSegmentation) {
				require.NoError(t, op.RawData.SetValue(ndarray.MustNew("yxc", 5, 6, 1)))
			},
			want: ErrShapeMismatch,
		},
		{
			name: "input channel first",
			setup: func(t *testing.T, op *OpWatershedSegmentation) {
				require.NoError(t, op.Input.SetValue(ndarray.MustNew("cyx", 1, 6, 6)))
			},
			want: ErrChannelNotLast,
		},
		{
			name: "raw channel first",
			setup: func(t *testing.T, op *OpWatershedSegmentation) {
				require.NoError(t, op.RawData.SetValue(ndarray.MustNew("cyx", 2, 6, 6)))
			},
			want: ErrChannelNotLast,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.Default()
			defer g.Close()
			op := newOp(t, g)
			tt.setup(t, op)
			assert.ErrorIs(t, op.SetupError(), tt.want)
			assert.False(t, op.Seeds.Ready())
		})
	}

	t.Run("negative brush", func(t *testing.T) {
		g := graph.Default()
		defer g.Close()
		op := newOp(t, g)
		require.NoError(t, op.BrushValue.SetValue(-1))
		assert.ErrorIs(t, op.PaintSeeds([]int{0, 0, 0}, mask(1, 1)), ErrBrushValue)
	})

	strokes := []struct {
		name  string
		start []int
		mask  *ndarray.Array
	}{
		{"mask without channel", []int{0, 0, 0}, ndarray.MustNew("yx", 2, 2)},
		{"short start", []int{0, 0}, mask(2, 2)},
		{"nil mask", []int{0, 0, 0}, nil},
	}
	for _, tt := range strokes {
		t.Run(tt.name, func(t *testing.T) {
			g := graph.Default()
			defer g.Close()
			op := newOp(t, g)
			assert.ErrorIs(t, op.PaintSeeds(tt.start, tt.mask), ErrStrokeRank)
			assert.False(t, op.SeedInput.Ready())
		})
	}
}

func TestDrawer_RangesFollowRawData(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOp(t, g)
	d := NewDrawer(op, zerolog.Nop())
	defer d.StopAndCleanUp()

	lo, hi := d.ChannelBox.Range()
	assert.Equal(t, [2]int{0, 99}, [2]int{lo, hi}, "kept while RawData is missing")

	withRawData(t, op)
	lo, hi = d.ChannelBox.Range()
	assert.Equal(t, [2]int{0, 1}, [2]int{lo, hi})
	lo, hi = d.BrushValueBox.Range()
	assert.Equal(t, [2]int{0, 255}, [2]int{lo, hi})
}

func TestDrawer_ChannelSurvivesLateRawData(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOp(t, g)
	d := NewDrawer(op, zerolog.Nop())
	defer d.StopAndCleanUp()

	require.NoError(t, op.ChannelSelection.SetValue(1))
	assert.Equal(t, 1, d.ChannelBox.Value())

	withRawData(t, op)
	assert.Equal(t, 1, d.ChannelBox.Value())

	d.BrushValueBox.SetValue(3)
	ch, _ := graph.ValueAs[int](op.ChannelSelection)
	assert.Equal(t, 1, ch)
	brush, _ := graph.ValueAs[int](op.BrushValue)
	assert.Equal(t, 3, brush)
}

func TestDrawer_RangeClampReachesOperator(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOp(t, g)
	d := NewDrawer(op, zerolog.Nop())
	defer d.StopAndCleanUp()
	require.NoError(t, op.ChannelSelection.SetValue(5))

	withRawData(t, op)
	assert.Equal(t, 1, d.ChannelBox.Value())
	ch, _ := graph.ValueAs[int](op.ChannelSelection)
	assert.Equal(t, 1, ch)
	require.NoError(t, op.SetupError())
}

func TestDrawer_StopAndCleanUp(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOp(t, g)
	withRawData(t, op)
	d := NewDrawer(op, zerolog.Nop())
	layers := d.SetupLayers()
	require.Len(t, layers, 3)
	seeds := layers[2]

	d.StopAndCleanUp()

	require.NoError(t, op.BrushValue.SetValue(9))
	assert.Equal(t, 1, d.BrushValueBox.Value())

	seeds.SetChannel(1)
	assert.Equal(t, 0, d.ChannelBox.Value())

	d.ChannelBox.SetValue(1)
	ch, _ := graph.ValueAs[int](op.ChannelSelection)
	assert.Equal(t, 0, ch)

	raw := ndarray.MustNew("yxc", 6, 6, 3)
	m := graph.Meta{Axes: "yxc", Shape: []int{6, 6, 3}, DType: graph.Uint8}.WithDRange(0, 15)
	require.NoError(t, op.RawData.SetValueWithMeta(raw, m))
	lo, hi := d.ChannelBox.Range()
	assert.Equal(t, [2]int{0, 1}, [2]int{lo, hi})
	lo, hi = d.BrushValueBox.Range()
	assert.Equal(t, [2]int{0, 255}, [2]int{lo, hi})
}

func TestDrawer_TwoWayBinding(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := newOp(t, g)
	withRawData(t, op)
	d := NewDrawer(op, zerolog.Nop())
	defer d.StopAndCleanUp()
	assert.Equal(t, 1, d.BrushValueBox.Value())

	d.ChannelBox.SetValue(1)
	ch, _ := graph.ValueAs[int](op.ChannelSelection)
	assert.Equal(t, 1, ch)
	assert.Positive(t, d.binder.Dropped(), "the echo back to the view is suppressed")

	require.NoError(t, op.BrushValue.SetValue(7))
	assert.Equal(t, 7, d.BrushValueBox.Value())
	assert.Equal(t, 1, d.ChannelBox.Value())

	assert.True(t, d.ConfigureGUIFromOperator())
	assert.True(t, d.ConfigureOperatorFromGUI())
}

func TestDrawer_SetupLayers(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	ctx := context.Background()
	op := newOp(t, g)
	withRawData(t, op)
	d := NewDrawer(op, zerolog.Nop())
	defer d.StopAndCleanUp()
	d.ChannelBox.SetValue(1)

	layers := d.SetupLayers()
	require.Len(t, layers, 3)
	var names []string
	for _, l := range layers {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"Superpixels", "Input", SeedsLayerName}, names)
	assert.Equal(t, 0.5, layers[0].Opacity())
	assert.False(t, layers[1].Visible())

	seeds := layers[2]
	assert.Same(t, op.RawData, seeds.Source)
	assert.Equal(t, 1, seeds.Channel())

	seeds.SetChannel(0)
	assert.Equal(t, 0, d.ChannelBox.Value())
	ch, _ := graph.ValueAs[int](op.ChannelSelection)
	assert.Equal(t, 0, ch)

	d.ChannelBox.SetValue(1)
	assert.Equal(t, 1, seeds.Channel())

	layers[0].SetVisible(false)
	require.NoError(t, d.UpdateWatershed(ctx))
	assert.True(t, layers[0].Visible())
	assert.Equal(t, 1, op.Runs())
}

func TestDrawer_SetupLayersWithoutRawData(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	d := NewDrawer(newOp(t, g), zerolog.Nop())
	defer d.StopAndCleanUp()

	layers := d.SetupLayers()
	require.Len(t, layers, 2)
	assert.Equal(t, "Superpixels", layers[0].Name)
	assert.Equal(t, "Input", layers[1].Name)
}

func TestApplet_Serializer(t *testing.T) {
	ctx := context.Background()
	g := graph.Default()
	defer g.Close()
	a := New(applets.Env{Graph: g}, "")
	assert.Equal(t, Name, a.Name())
	require.NotNil(t, a.Drawer())
	op := a.Operator()
	require.NoError(t, op.Input.SetValue(ridge()))
	require.NoError(t, op.BrushValue.SetValue(5))
	require.NoError(t, op.PaintSeeds([]int{0, 0, 0}, mask(1, 1)))

	p := project.New("demo", "watershed")
	require.NoError(t, a.Serializer().Serialize(p))

	g2 := graph.Default()
	defer g2.Close()
	b := New(applets.Env{Graph: g2}, "")
	require.NoError(t, b.Operator().Input.SetValue(ridge()))
	require.NoError(t, b.Serializer().Deserialize(p))

	brush, _ := graph.ValueAs[int](b.Operator().BrushValue)
	assert.Equal(t, 5, brush)
	seeds, err := b.Operator().Seeds.Get(graph.Roi{}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, float32(5), seeds.At(0, 0, 0))
	assert.Equal(t, 5, b.WatershedDrawer().BrushValueBox.Value())
}
