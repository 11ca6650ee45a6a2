package state

import (
	"context"
	"path/filepath"
	"testing"

	"go-live-preview/internal/contracts"
	"go-live-preview/internal/preview"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadStates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "state.db"))

	line := 12.25
	in := []preview.State{
		{Resource: "file:///docs/b.md", Slot: 3},
		{
			Resource:  "file:///docs/a.md",
			Line:      &line,
			ImageInfo: []contracts.ImageInfo{{ID: "image-1", Width: 640, Height: 480}},
			Slot:      2,
		},
	}
	require.NoError(t, s.SaveStates(ctx, in))

	out, err := s.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, preview.Slot(2), out[0].Slot)
	assert.Equal(t, "file:///docs/a.md", out[0].Resource)
	require.NotNil(t, out[0].Line)
	assert.Equal(t, 12.25, *out[0].Line)
	assert.Equal(t, []contracts.ImageInfo{{ID: "image-1", Width: 640, Height: 480}}, out[0].ImageInfo)

	assert.Equal(t, preview.Slot(3), out[1].Slot)
	assert.Nil(t, out[1].Line)
	assert.Empty(t, out[1].ImageInfo)
}

func TestSaveReplacesPreviousStates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "state.db"))

	require.NoError(t, s.SaveStates(ctx, []preview.State{
		{Resource: "file:///a.md", Slot: 1},
		{Resource: "file:///b.md", Slot: 2},
	}))
	require.NoError(t, s.SaveStates(ctx, []preview.State{
		{Resource: "file:///c.md", Slot: 2},
	}))

	out, err := s.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "file:///c.md", out[0].Resource)

	require.NoError(t, s.SaveStates(ctx, nil))
	out, err = s.LoadStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStatesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveStates(ctx, []preview.State{{Resource: "file:///a.md", Slot: 4}}))
	require.NoError(t, first.Close())

	second := openStore(t, path)
	out, err := second.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, preview.Slot(4), out[0].Slot)
}

func TestUnreadableImageInfoIsDropped(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "state.db"))

	_, err := s.db.Exec(`INSERT INTO sessions (slot, resource, image_info, saved_at) VALUES (1, 'file:///a.md', 'not json', 0)`)
	require.NoError(t, err)

	out, err := s.LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].ImageInfo)
}
