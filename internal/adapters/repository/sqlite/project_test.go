package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "projects.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := project.New("a", "pixel_classification")
	a.Timestamp = base
	a.Metadata.Tags = []string{"cells"}
	a.SetSlot("Training", "LabelNames", []byte{0x90})
	b := project.New("b", "watershed")
	b.Timestamp = base.Add(time.Minute)
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, b))

	loaded, err := s.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.Name)
	assert.True(t, loaded.Timestamp.Equal(base))
	data, ok := loaded.Slot("Training", "LabelNames")
	require.True(t, ok)
	assert.Equal(t, []byte{0x90}, data)

	all, err := s.List(ctx, project.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name)
	assert.Nil(t, all[0].Applets)

	tagged, err := s.List(ctx, project.Filter{Tags: []string{"cells"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, a.ID, tagged[0].ID)

	paged, err := s.List(ctx, project.Filter{Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "a", paged[0].Name)

	a.Name = "a2"
	require.NoError(t, s.Save(ctx, a))
	byName, err := s.List(ctx, project.Filter{Name: "a2"})
	require.NoError(t, err)
	assert.Len(t, byName, 1)

	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Load(ctx, a.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a.ID), project.ErrProjectNotFound)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := &Store{serializer: serialization.Default(), tableName: "projects"}

	assert.ErrorIs(t, s.Save(ctx, nil), project.ErrInvalidProjectID)
	_, err := s.Load(ctx, "")
	assert.ErrorIs(t, err, project.ErrInvalidProjectID)
	assert.ErrorIs(t, s.Delete(ctx, ""), project.ErrInvalidProjectID)
	_, err = s.List(ctx, project.Filter{Offset: -1})
	assert.ErrorIs(t, err, project.ErrInvalidOffset)
}

func TestWithTableName(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(db, nil).WithTableName("snapshots")
	assert.Equal(t, "snapshots", s.tableName)
	s.WithTableName("x; DROP TABLE y")
	assert.Equal(t, "snapshots", s.tableName)
	require.NoError(t, s.CreateTables(context.Background()))
}
