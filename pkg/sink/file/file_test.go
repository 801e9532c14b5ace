package file

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/meshport/pkg/sink"
)

func TestNew_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{BaseDir: " "})
	require.Error(t, err)
}

func TestSink_Put(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "models/chair_1.glb", bytes.NewReader([]byte("glb")), 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "models", "chair_1.glb"), loc)
	assert.Equal(t, loc, s.Location("models/chair_1.glb"))

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("glb"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "models"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSink_PutOverwrites(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "a.glb", bytes.NewReader([]byte("one")), 3)
	require.NoError(t, err)
	loc, err := s.Put(context.Background(), "a.glb", bytes.NewReader([]byte("two")), 3)
	require.NoError(t, err)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestSink_PutStaysUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "../../escape.glb", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.glb"), loc)
}

func TestSink_PutInvalidKey(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, key := range []string{"", "/", "  "} {
		_, err := s.Put(context.Background(), key, bytes.NewReader(nil), 0)
		assert.True(t, errors.Is(err, sink.ErrInvalidKey), "key %q", key)
	}
}

func TestSink_PutCanceled(t *testing.T) {
	s, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "a.glb", bytes.NewReader([]byte("x")), 1)
	assert.ErrorIs(t, err, context.Canceled)
}
