package dataselection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/internal/imageio"
)

func ramp(n int) *ndarray.Array {
	a := ndarray.MustNew("yxc", n, n, 1)
	for i := range a.Data {
		a.Data[i] = float32(i)
	}
	return a
}

func TestOpDataSelection_NotReadyWithoutDatasets(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := NewOpDataSelection(graph.InGraph(g), "Data", g.Logger().With().Logger())

	assert.False(t, op.Image.Ready())
	assert.False(t, op.AllImageNames.Ready())
	assert.NoError(t, op.SetupError())

	require.NoError(t, op.Datasets.SetValue([]DatasetInfo{}))
	assert.ErrorIs(t, op.SetupError(), ErrNoDatasets)
}

func TestOpDataSelection_Array(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	a := New(applets.Env{Graph: g}, "")
	op := a.Operator()

	require.NoError(t, op.AddArray(ramp(4), "cells"))
	require.True(t, op.Image.Ready())

	m := op.Image.Meta()
	assert.Equal(t, "yxc", m.Axes)
	assert.Equal(t, []int{4, 4, 1}, m.Shape)
	require.NotNil(t, m.DRange)
	assert.Equal(t, [2]float64{0, 15}, *m.DRange)

	name, _ := graph.ValueAs[string](op.ImageName)
	assert.Equal(t, "cells", name)

	sub, err := op.Image.Get(graph.NewRoi([]int{1, 1, 0}, []int{3, 2, 1})).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1}, sub.Shape)
	assert.Equal(t, []float32{5, 9}, sub.Data)
}

func TestOpDataSelection_FileAndLanes(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	op := New(applets.Env{Graph: g}, "").Operator()

	path := filepath.Join(t.TempDir(), "nuclei.png")
	img := ndarray.MustNew("yxc", 2, 3, 1)
	img.Data[5] = 200
	require.NoError(t, imageio.SavePNG(path, img))

	require.NoError(t, op.AddArray(ramp(2), "first"))
	require.NoError(t, op.AddFile(path, ""))

	names, _ := graph.ValueAs[[]string](op.AllImageNames)
	assert.Equal(t, []string{"first", "nuclei"}, names)

	var dirty int
	op.Image.NotifyDirty(func(graph.DirtyEvent) { dirty++ })
	require.NoError(t, op.SelectLane(1))
	assert.Equal(t, 1, dirty)

	name, _ := graph.ValueAs[string](op.ImageName)
	assert.Equal(t, "nuclei", name)
	assert.Equal(t, graph.Uint8, op.Image.Meta().DType)

	full, err := op.Image.Get(graph.Roi{}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float32(200), full.At(1, 2, 0))

	assert.ErrorIs(t, op.SelectLane(2), ErrLaneOutOfRange)
	assert.ErrorIs(t, op.AddArray(ramp(2), "nuclei"), ErrDuplicateDataset)
	assert.ErrorIs(t, op.AddFile("", ""), ErrDatasetNoSource)
}

func TestApplet_Serializer(t *testing.T) {
	g := graph.Default()
	defer g.Close()
	src := New(applets.Env{Graph: g}, "")
	require.NoError(t, src.Operator().AddArray(ramp(3), "a"))
	require.NoError(t, src.Operator().AddArray(ramp(2), "b"))
	require.NoError(t, src.Operator().SelectLane(1))

	p := project.New("demo", "pixel_classification")
	require.NoError(t, src.Serializer().Serialize(p))

	dst := New(applets.Env{Graph: g}, "")
	require.NoError(t, dst.Serializer().Deserialize(p))
	op := dst.Operator()
	require.True(t, op.Image.Ready())
	assert.Equal(t, []int{2, 2, 1}, op.Image.Meta().Shape)
	assert.Len(t, op.DatasetList(), 2)
}
