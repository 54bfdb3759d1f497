package lazyflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/applets/projectmetadata"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
)

func TestRuntime_RunSimple(t *testing.T) {
	rt := NewRuntime()
	elevation := ndarray.MustNew("yxc", 4, 4, 1)
	seeds := ndarray.MustNew("yxc", 4, 4, 1)
	seeds.Set(7, 0, 0, 0)

	out, err := rt.RunSimple(context.Background(), "watershed", map[string]*Array{
		"Input Data": elevation,
		"Seed Data":  seeds,
	})
	require.NoError(t, err)
	require.NotNil(t, out)
	lo, hi := out.MinMax()
	assert.Equal(t, float32(7), lo)
	assert.Equal(t, float32(7), hi)
}

func TestRuntime_RunSimpleErrors(t *testing.T) {
	rt := NewRuntime()
	ctx := context.Background()
	_, err := rt.RunSimple(ctx, "nope", nil)
	assert.Error(t, err)
	_, err = rt.RunSimple(ctx, "watershed", map[string]*Array{"Nope": ndarray.MustNew("yx", 1, 1)})
	assert.Error(t, err)
	_, err = rt.RunSimple(ctx, "watershed", map[string]*Array{"Project Metadata": ndarray.MustNew("yx", 1, 1)})
	assert.ErrorContains(t, err, "does not take input images")
}

func TestRuntime_SaveLoad(t *testing.T) {
	rt := NewRuntime()
	ctx := context.Background()

	w, err := rt.Build("pixel_classification")
	require.NoError(t, err)
	a, err := w.Applet(projectmetadata.Name)
	require.NoError(t, err)
	require.NoError(t, a.(*projectmetadata.Applet).Operator().ProjectName.SetValue("cells"))
	id, err := rt.Save(ctx, w, "first")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	restored, err := rt.Load(ctx, id)
	require.NoError(t, err)
	defer restored.Close()
	s, err := restored.Slot(projectmetadata.Name + ".ProjectName")
	require.NoError(t, err)
	name, _ := graph.ValueAs[string](s)
	assert.Equal(t, "cells", name)
	assert.Equal(t, 3, restored.Shell.SelectedAppletDrawer())
}
