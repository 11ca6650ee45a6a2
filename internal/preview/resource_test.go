package preview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResource(t *testing.T) {
	r, err := ParseResource("file:///docs/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "/docs/notes/a.md", r.Path())
	assert.Equal(t, "file:///docs/notes/a.md", r.String())
	assert.Equal(t, "a.md", r.Base())
	assert.Equal(t, "/docs/notes", r.Dir())

	plain, err := ParseResource("/docs/notes/../notes/a.md")
	require.NoError(t, err)
	assert.True(t, plain.Equal(r))

	_, err = ParseResource("  ")
	assert.Error(t, err)
}

func TestResourceStringEscapes(t *testing.T) {
	r := ResourceFromPath("/docs/my notes/a b.md")
	assert.Equal(t, "file:///docs/my%20notes/a%20b.md", r.String())

	back, err := ParseResource(r.String())
	require.NoError(t, err)
	assert.True(t, back.Equal(r))
}

func TestZeroResource(t *testing.T) {
	var r Resource
	assert.True(t, r.IsZero())
	assert.Empty(t, r.String())
	assert.Empty(t, r.Base())
	assert.True(t, ResourceFromPath("").IsZero())
}
