package remotetest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunContract checks the behaviour every remote.Remote backend must share.
// newRemote must return an empty remote.
func RunContract(t *testing.T, newRemote func(t *testing.T) remote.Remote) {
	t.Helper()
	ctx := context.Background()

	writeLocal := func(t *testing.T, name, content string) string {
		t.Helper()
		p := filepath.Join(t.TempDir(), name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	t.Run("missing dir lists empty", func(t *testing.T) {
		r := newRemote(t)
		listing, err := r.List(ctx, "nope/nothing")
		require.NoError(t, err)
		assert.Empty(t, listing.Files)
		assert.Empty(t, listing.Dirs)
	})

	t.Run("create then list", func(t *testing.T) {
		r := newRemote(t)
		local := writeLocal(t, "a.txt", "alpha")

		obj, err := r.Create(ctx, local, "root/dir/a.txt")
		require.NoError(t, err)
		assert.Equal(t, "root/dir/a.txt", obj.Path)
		assert.Equal(t, utils.BytesHash([]byte("alpha")), obj.Hash)
		assert.Equal(t, int64(5), obj.Size)

		listing, err := r.List(ctx, "root")
		require.NoError(t, err)
		assert.Empty(t, listing.Files)
		assert.Equal(t, []string{"dir"}, listing.Dirs)

		listing, err = r.List(ctx, "root/dir")
		require.NoError(t, err)
		require.Len(t, listing.Files, 1)
		assert.Equal(t, "a.txt", listing.Files[0].Name)
		assert.Equal(t, "root/dir/a.txt", listing.Files[0].Path)
		assert.Equal(t, utils.BytesHash([]byte("alpha")), listing.Files[0].Hash)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		r := newRemote(t)
		local := writeLocal(t, "b.txt", "beta")
		_, err := r.Create(ctx, local, "root/b.txt")
		require.NoError(t, err)

		require.NoError(t, r.Delete(ctx, "root/b.txt"))
		assert.ErrorIs(t, r.Delete(ctx, "root/b.txt"), remote.ErrNotFound)

		listing, err := r.List(ctx, "root")
		require.NoError(t, err)
		assert.Empty(t, listing.Files)
	})

	t.Run("replace only on hash change", func(t *testing.T) {
		r := newRemote(t)
		local := writeLocal(t, "c.txt", "gamma")
		_, err := r.Create(ctx, local, "root/c.txt")
		require.NoError(t, err)

		changed, err := r.ReplaceIfChanged(ctx, local, "root/c.txt")
		require.NoError(t, err)
		assert.False(t, changed)

		require.NoError(t, os.WriteFile(local, []byte("gamma v2"), 0o644))
		changed, err = r.ReplaceIfChanged(ctx, local, "root/c.txt")
		require.NoError(t, err)
		assert.True(t, changed)

		listing, err := r.List(ctx, "root")
		require.NoError(t, err)
		require.Len(t, listing.Files, 1)
		assert.Equal(t, utils.BytesHash([]byte("gamma v2")), listing.Files[0].Hash)
	})

	t.Run("replace of missing remote uploads", func(t *testing.T) {
		r := newRemote(t)
		local := writeLocal(t, "d.txt", "delta")

		changed, err := r.ReplaceIfChanged(ctx, local, "root/d.txt")
		require.NoError(t, err)
		assert.True(t, changed)
	})

	t.Run("create of missing local file fails", func(t *testing.T) {
		r := newRemote(t)
		_, err := r.Create(ctx, filepath.Join(t.TempDir(), "missing"), "root/e.txt")
		assert.Error(t, err)
	})
}
