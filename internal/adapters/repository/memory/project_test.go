package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

func newProject(name, workflow string, at time.Time, tags ...string) *project.Project {
	p := project.New(name, workflow)
	p.Timestamp = at
	p.Metadata.Tags = tags
	p.SetSlot("Training", "LabelNames", []byte{0x92, 0xa1, 'a', 0xa1, 'b'})
	return p
}

func TestStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := Default()

	p := newProject("demo", "pixel_classification", time.Now())
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Load(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	data, ok := got.Slot("Training", "LabelNames")
	require.True(t, ok)
	assert.Equal(t, []byte{0x92, 0xa1, 'a', 0xa1, 'b'}, data)

	// replacing keeps one entry
	p.Name = "renamed"
	require.NoError(t, s.Save(ctx, p))
	assert.Equal(t, 1, s.Stats().Count)

	require.NoError(t, s.Delete(ctx, p.ID))
	_, err = s.Load(ctx, p.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	assert.ErrorIs(t, s.Delete(ctx, p.ID), project.ErrProjectNotFound)
	assert.Zero(t, s.Stats().Bytes)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := Default()

	assert.ErrorIs(t, s.Save(ctx, nil), project.ErrInvalidProjectID)
	assert.ErrorIs(t, s.Save(ctx, &project.Project{ID: "x", Applets: map[string]map[string][]byte{}}), project.ErrInvalidWorkflow)
	_, err := s.Load(ctx, "")
	assert.ErrorIs(t, err, project.ErrInvalidProjectID)
	_, err = s.List(ctx, project.Filter{Limit: -1})
	assert.ErrorIs(t, err, project.ErrInvalidLimit)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := Default()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := newProject("a", "pixel_classification", base, "cells")
	b := newProject("b", "pixel_classification", base.Add(time.Hour))
	c := newProject("c", "watershed", base.Add(2*time.Hour), "cells")
	for _, p := range []*project.Project{a, b, c} {
		require.NoError(t, s.Save(ctx, p))
	}

	tests := []struct {
		name   string
		filter project.Filter
		want   []string
	}{
		{"all newest first", project.Filter{}, []string{"c", "b", "a"}},
		{"by workflow", project.Filter{Workflow: "pixel_classification"}, []string{"b", "a"}},
		{"by tag", project.Filter{Tags: []string{"cells"}}, []string{"c", "a"}},
		{"paged", project.Filter{Limit: 1, Offset: 1}, []string{"b"}},
		{"since", project.Filter{Since: ptr(base.Add(30 * time.Minute))}, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			var names []string
			for _, p := range got {
				names = append(names, p.Name)
				assert.Nil(t, p.Applets, "summaries carry no applet data")
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := New(Config{TTL: time.Minute})
	now := time.Now()
	s.now = func() time.Time { return now }

	p := newProject("demo", "watershed", now)
	require.NoError(t, s.Save(ctx, p))
	_, err := s.Load(ctx, p.ID)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Load(ctx, p.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	assert.Equal(t, 0, s.Stats().Count)
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	ser, err := serialization.New(serialization.Options{})
	require.NoError(t, err)

	first := newProject("first", "watershed", time.Now())
	data, err := ser.Marshal(first)
	require.NoError(t, err)

	s := New(Config{Serializer: ser, MaxMemory: int64(len(data)) + 10})
	tick := time.Now()
	s.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	require.NoError(t, s.Save(ctx, first))
	second := newProject("second", "watershed", time.Now())
	second.ID = first.ID[:len(first.ID)-1] + "x"
	require.NoError(t, s.Save(ctx, second))

	assert.Equal(t, 1, s.Stats().Count)
	_, err = s.Load(ctx, first.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	_, err = s.Load(ctx, second.ID)
	assert.NoError(t, err)
}
