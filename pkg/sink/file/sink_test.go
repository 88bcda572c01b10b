package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "cards")
	s, err := New(Config{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPut(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	location, err := s.Put(context.Background(), "ada.png", strings.NewReader("pixels"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "ada.png"), location)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestPutCollisionSuffix(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	first, err := s.Put(context.Background(), "ada.png", strings.NewReader("one"))
	require.NoError(t, err)
	second, err := s.Put(context.Background(), "ada.png", strings.NewReader("two"))
	require.NoError(t, err)
	third, err := s.Put(context.Background(), "ada.png", strings.NewReader("three"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(s.Dir(), "ada.png"), first)
	assert.Equal(t, filepath.Join(s.Dir(), "ada_2.png"), second)
	assert.Equal(t, filepath.Join(s.Dir(), "ada_3.png"), third)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestPutCancelledContext(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Put(ctx, "ada.png", strings.NewReader("pixels"))
	assert.ErrorIs(t, err, context.Canceled)
}
