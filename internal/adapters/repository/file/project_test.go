package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FynnBe/ilastik/internal/core/project"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "projects")
	s, err := Open(dir, nil)
	require.NoError(t, err)

	old := project.New("old", "watershed")
	old.Timestamp = time.Now().Add(-time.Hour)
	recent := project.New("recent", "watershed")
	recent.SetSlot("Input Data", "ActiveLane", []byte{0x00})
	require.NoError(t, s.Save(ctx, old))
	require.NoError(t, s.Save(ctx, recent))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"+Ext), []byte("nope"), 0o644))

	loaded, err := s.Load(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, recent.Name, loaded.Name)
	_, ok := loaded.Slot("Input Data", "ActiveLane")
	assert.True(t, ok)

	list, err := s.List(ctx, project.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "recent", list[0].Name)
	assert.Nil(t, list[0].Applets)

	require.NoError(t, s.Delete(ctx, old.ID))
	_, err = s.Load(ctx, old.ID)
	assert.ErrorIs(t, err, project.ErrProjectNotFound)
	assert.ErrorIs(t, s.Delete(ctx, old.ID), project.ErrProjectNotFound)
}

func TestStore_RejectsPathIDs(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.Load(context.Background(), "../escape")
	assert.ErrorIs(t, err, project.ErrInvalidProjectID)
}
