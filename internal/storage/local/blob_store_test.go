package local_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-menu-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ExistingDir", func(t *testing.T) {
		store, err := local.New(local.Config{Dir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "exports", "daily")
		_, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("DirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)

	t.Run("WritesCSV", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "2024-03-01/items.csv", "text/csv", strings.NewReader("id\ni1\n"))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(dir, "2024-03-01/items.csv"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(filepath.Join(dir, "2024-03-01/items.csv"))
		require.NoError(t, err)
		assert.Equal(t, "id\ni1\n", string(data))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), " ", "text/csv", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.csv", "text/csv", strings.NewReader("x"))
		assert.Error(t, err)
	})

	t.Run("FailedReadLeavesNoFile", func(t *testing.T) {
		r := io.MultiReader(strings.NewReader("partial"), failingReader{})
		_, err := store.PutObject(context.Background(), "broken.csv", "text/csv", r)
		require.Error(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "broken.csv"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("copy aborted")
}
