package local_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-image-sourcer/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{})
	require.Error(t, err)

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDirectory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "images")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NoError(t, store.EnsureDir())
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries, "temp file must be removed")
	})

	t.Run("RejectsFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		store, err := local.New(local.Config{BaseDir: file})
		require.NoError(t, err)
		require.ErrorContains(t, store.EnsureDir(), "not a directory")
	})
}

func TestCreateNeverOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	path, err := store.Create(ctx, "Widget.jpg", []byte("first"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Widget.jpg"), path)
	require.True(t, store.Exists("Widget.jpg"))
	require.False(t, store.Exists("Other.jpg"))

	_, err = store.Create(ctx, "Widget.jpg", []byte("second"))
	require.ErrorIs(t, err, fs.ErrExist)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(got))
}

func TestCreateRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Create(context.Background(), "../escape.jpg", []byte("x"))
	require.ErrorContains(t, err, "path traversal")
	_, err = store.Create(context.Background(), " ", []byte("x"))
	require.Error(t, err)
	require.False(t, store.Exists("../escape.jpg"))
	require.Equal(t, filepath.Join(store.Dir(), "a.png"), store.Path("a.png"))
}
