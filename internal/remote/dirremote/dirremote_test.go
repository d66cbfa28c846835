package dirremote

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/remote/remotetest"
	"github.com/openmined/treesync/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return s
}

func TestStore_Contract(t *testing.T) {
	remotetest.RunContract(t, func(t *testing.T) remote.Remote { return newStore(t) })
}

func TestStore_PutIntegrity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a/b.txt", bytes.NewReader([]byte("data")), "0000")
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.NoFileExists(t, filepath.Join(s.Root(), "a", "b.txt"))

	// no temp file is left behind
	entries, err := os.ReadDir(filepath.Join(s.Root(), "a"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	obj, err := s.Put(ctx, "a/b.txt", bytes.NewReader([]byte("data")), utils.BytesHash([]byte("data")))
	require.NoError(t, err)
	assert.Equal(t, "b.txt", obj.Name)
}

func TestStore_InvalidKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "dir/", "../escape.txt"} {
		_, err := s.Put(ctx, key, bytes.NewReader(nil), "")
		assert.ErrorIs(t, err, remote.ErrInvalidPath, key)
	}
}

func TestStore_BackslashKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, `dir/a\b.txt`, bytes.NewReader([]byte("x")), "")
	if filepath.Separator != '/' {
		assert.ErrorIs(t, err, remote.ErrInvalidPath)
		return
	}
	require.NoError(t, err)

	listing, err := s.List(ctx, "dir")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, `a\b.txt`, listing.Files[0].Name)
	assert.Equal(t, `dir/a\b.txt`, listing.Files[0].Path)
}

func TestStore_ListSkipsTempFiles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "x.txt"+tempMarker+"123"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "y.txt"), []byte("y"), 0o644))

	listing, err := s.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "y.txt", listing.Files[0].Name)
	assert.Equal(t, "y.txt", listing.Files[0].Path)
}

func TestStore_DeletePrunesEmptyDirs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "a/b/c.txt", bytes.NewReader([]byte("c")), "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "a/keep.txt", bytes.NewReader([]byte("k")), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "a/b/c.txt"))
	assert.NoDirExists(t, filepath.Join(s.Root(), "a", "b"))
	assert.DirExists(t, filepath.Join(s.Root(), "a"))
	assert.DirExists(t, s.Root())
}

func TestStore_StatMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Stat(context.Background(), "nothing.txt")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}
