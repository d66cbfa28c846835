package compare

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/treesync/internal/ignore"
	"github.com/openmined/treesync/internal/localfs"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/remote/remotetest"
	"github.com/openmined/treesync/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteRoot = "backup"

func buildTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func mirror(files map[string]string) *remotetest.Memory {
	m := remotetest.NewMemory()
	for rel, content := range files {
		m.Put(remote.Join(remoteRoot, rel), []byte(content))
	}
	return m
}

func collect(t *testing.T, c *Comparator, ctx context.Context) ([]*DirectoryClassification, []error) {
	t.Helper()
	var dirs []*DirectoryClassification
	var errs []error
	for dc, err := range c.Compare(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		dirs = append(dirs, dc)
	}
	return dirs, errs
}

func relPaths(entries []*FileEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.RelPath)
	}
	return out
}

func allBuckets(dirs []*DirectoryClassification) (local, remoteOnly, both []string) {
	for _, dc := range dirs {
		local = append(local, relPaths(dc.LocalOnly)...)
		remoteOnly = append(remoteOnly, relPaths(dc.RemoteOnly)...)
		both = append(both, relPaths(dc.BothPlaces)...)
	}
	return
}

func dirNames(dirs []*DirectoryClassification) []string {
	out := make([]string, 0, len(dirs))
	for _, dc := range dirs {
		out = append(out, dc.Dir)
	}
	return out
}

var sampleTree = map[string]string{
	"a.txt":         "a",
	"b/c.txt":       "c",
	"b/d/e.txt":     "e",
	"b/d/f.txt":     "f",
	"z/y.txt":       "y",
	"b/aa/deep.txt": "deep",
}

func TestCompare_EmptyRemote(t *testing.T) {
	root := buildTree(t, sampleTree)
	c, err := New(root, remoteRoot, remotetest.NewMemory())
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)

	local, remoteOnly, both := allBuckets(dirs)
	assert.ElementsMatch(t, []string{"a.txt", "b/c.txt", "b/d/e.txt", "b/d/f.txt", "z/y.txt", "b/aa/deep.txt"}, local)
	assert.Empty(t, remoteOnly)
	assert.Empty(t, both)

	// depth first, lexical, every directory once
	assert.Equal(t, []string{"", "b", "b/aa", "b/d", "z"}, dirNames(dirs))
}

func TestCompare_IdenticalMirror(t *testing.T) {
	root := buildTree(t, sampleTree)
	c, err := New(root, remoteRoot, mirror(sampleTree))
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)

	local, remoteOnly, both := allBuckets(dirs)
	assert.Empty(t, local)
	assert.Empty(t, remoteOnly)
	assert.Len(t, both, len(sampleTree))

	for _, dc := range dirs {
		for _, e := range dc.BothPlaces {
			assert.True(t, e.HashesMatch(), e.RelPath)
			assert.Equal(t, SideBoth, e.Side())
			assert.Equal(t, remote.Join(remoteRoot, e.RelPath), e.RemotePath)
		}
	}
}

func TestCompare_Buckets(t *testing.T) {
	root := buildTree(t, map[string]string{
		"new.txt":     "new",
		"same.txt":    "same",
		"changed.txt": "local",
	})
	m := mirror(map[string]string{
		"same.txt":    "same",
		"changed.txt": "remote",
		"gone.txt":    "gone",
	})

	c, err := New(root, remoteRoot, m)
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)
	require.Len(t, dirs, 1)

	dc := dirs[0]
	assert.Equal(t, []string{"new.txt"}, relPaths(dc.LocalOnly))
	assert.Equal(t, []string{"gone.txt"}, relPaths(dc.RemoteOnly))
	assert.Equal(t, []string{"changed.txt", "same.txt"}, relPaths(dc.BothPlaces))
	assert.Equal(t, 4, dc.Total())
	assert.False(t, dc.BothPlaces[0].HashesMatch())
	assert.True(t, dc.BothPlaces[1].HashesMatch())

	assert.Equal(t, utils.BytesHash([]byte("new")), dc.LocalOnly[0].LocalHash)
	assert.Equal(t, "backup/new.txt", dc.RemotePathFor(dc.LocalOnly[0]))
	assert.Empty(t, dc.RemoteOnly[0].LocalPath)
}

func TestCompare_RemoteOnlySubtreeIsVisited(t *testing.T) {
	root := buildTree(t, map[string]string{"keep.txt": "k"})
	m := mirror(map[string]string{
		"keep.txt":          "k",
		"old/one.txt":       "1",
		"old/inner/two.txt": "2",
	})

	c, err := New(root, remoteRoot, m)
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)
	assert.Equal(t, []string{"", "old", "old/inner"}, dirNames(dirs))

	_, remoteOnly, _ := allBuckets(dirs)
	assert.Equal(t, []string{"old/one.txt", "old/inner/two.txt"}, remoteOnly)
	assert.Empty(t, dirs[1].LocalDir)
	assert.Equal(t, "backup/old", dirs[1].RemoteDir)
}

func TestCompare_LocalOnlyDirIsNotListedRemotely(t *testing.T) {
	root := buildTree(t, map[string]string{"fresh/a.txt": "a"})
	m := remotetest.NewMemory()

	c, err := New(root, remoteRoot, m)
	require.NoError(t, err)

	_, errs := collect(t, c, context.Background())
	require.Empty(t, errs)

	calls := m.Calls(remotetest.OpList)
	require.Len(t, calls, 1)
	assert.Equal(t, remoteRoot, calls[0].Path)
}

func TestCompare_Exclusions(t *testing.T) {
	files := map[string]string{
		"a/data.txt":    "a",
		"b/data.txt":    "b",
		"a/debug.log":   "log",
		"cache/x.bin":   "x",
		"keep/note.txt": "n",
	}
	root := buildTree(t, files)
	m := mirror(map[string]string{
		"a/debug.log":     "other",
		"b/data.txt":      "b",
		"cache/y.bin":     "y",
		"remote/old.log":  "old",
		"remote/keep.txt": "keep",
	})

	set, err := ignore.New("/a/data.txt", "*.log", "cache/")
	require.NoError(t, err)

	c, err := New(root, remoteRoot, m, WithExclusions(set))
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)

	local, remoteOnly, both := allBuckets(dirs)
	assert.ElementsMatch(t, []string{"keep/note.txt"}, local)
	assert.ElementsMatch(t, []string{"remote/keep.txt"}, remoteOnly)
	assert.ElementsMatch(t, []string{"b/data.txt"}, both)
	assert.NotContains(t, dirNames(dirs), "cache")
}

func TestCompare_SymlinkedDirIsLeaf(t *testing.T) {
	root := buildTree(t, map[string]string{"real/a.txt": "a"})
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

	c, err := New(root, remoteRoot, remotetest.NewMemory())
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)
	assert.Equal(t, []string{"", "real"}, dirNames(dirs))

	require.Len(t, dirs[0].LocalOnly, 1)
	link := dirs[0].LocalOnly[0]
	assert.Equal(t, "link", link.Name)
	assert.True(t, link.IsSymlink)
}

func TestCompare_FileAndDirWithSameName(t *testing.T) {
	root := buildTree(t, map[string]string{"x": "file"})
	m := mirror(map[string]string{"x/inside.txt": "i"})

	c, err := New(root, remoteRoot, m)
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Empty(t, errs)
	assert.Equal(t, []string{"", "x"}, dirNames(dirs))
	assert.Equal(t, []string{"x"}, relPaths(dirs[0].LocalOnly))
	assert.Equal(t, []string{"x/inside.txt"}, relPaths(dirs[1].RemoteOnly))
}

type failingLister struct {
	localfs.Lister
	failDir string
}

func (l *failingLister) List(ctx context.Context, dir string) ([]*localfs.Entry, error) {
	if dir == l.failDir {
		return nil, os.ErrPermission
	}
	return l.Lister.List(ctx, dir)
}

func TestCompare_LocalListingErrorSkipsSubtree(t *testing.T) {
	root := buildTree(t, map[string]string{
		"a/one.txt":     "1",
		"a/sub/two.txt": "2",
		"b/three.txt":   "3",
	})
	lister := &failingLister{Lister: localfs.NewDirLister(), failDir: filepath.Join(root, "a")}

	c, err := New(root, remoteRoot, remotetest.NewMemory(), WithLocalLister(lister))
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Len(t, errs, 1)

	var lerr *DirectoryListingError
	require.ErrorAs(t, errs[0], &lerr)
	assert.Equal(t, SideLocal, lerr.Side)
	assert.Equal(t, filepath.Join(root, "a"), lerr.Path)
	assert.ErrorIs(t, lerr, os.ErrPermission)

	assert.Equal(t, []string{"", "b"}, dirNames(dirs))
}

func TestCompare_RemoteListingErrorContinues(t *testing.T) {
	root := buildTree(t, map[string]string{"a/one.txt": "1", "b/two.txt": "2"})
	m := mirror(map[string]string{"a/one.txt": "1", "b/two.txt": "2"})
	boom := errors.New("boom")
	m.FailOn(remotetest.OpList, "backup/a", boom)

	c, err := New(root, remoteRoot, m)
	require.NoError(t, err)

	dirs, errs := collect(t, c, context.Background())
	require.Len(t, errs, 1)

	var lerr *DirectoryListingError
	require.ErrorAs(t, errs[0], &lerr)
	assert.Equal(t, SideRemote, lerr.Side)
	assert.Equal(t, "backup/a", lerr.Path)
	assert.ErrorIs(t, errs[0], boom)

	assert.Equal(t, []string{"", "b"}, dirNames(dirs))
}

func TestCompare_Cancelled(t *testing.T) {
	root := buildTree(t, sampleTree)
	c, err := New(root, remoteRoot, remotetest.NewMemory())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dirs, errs := collect(t, c, ctx)
	assert.Empty(t, dirs)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestCompare_StopEarly(t *testing.T) {
	root := buildTree(t, sampleTree)
	m := remotetest.NewMemory()
	c, err := New(root, remoteRoot, m)
	require.NoError(t, err)

	seen := 0
	for range c.Compare(context.Background()) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
	assert.Len(t, m.Calls(remotetest.OpList), 1)
}

func TestCompare_Rescan(t *testing.T) {
	root := buildTree(t, map[string]string{"a.txt": "a"})
	c, err := New(root, remoteRoot, remotetest.NewMemory())
	require.NoError(t, err)

	seq := c.Compare(context.Background())
	first := 0
	for range seq {
		first++
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "later"), 0o755))
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestNew_SetupErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name string
		root string
	}{
		{"missing", filepath.Join(dir, "missing")},
		{"not a dir", file},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.root, remoteRoot, remotetest.NewMemory())
			var serr *SetupError
			assert.ErrorAs(t, err, &serr)
		})
	}

	_, err := New(dir, remoteRoot, nil)
	var serr *SetupError
	assert.ErrorAs(t, err, &serr)
}

func TestFileEntry_SideAndValidate(t *testing.T) {
	l := &localfs.Entry{Name: "a.txt", Path: "/tmp/a.txt", Size: 3, Hash: "h"}
	o := &remote.Object{Name: "a.txt", Path: "backup/a.txt", Size: 3, Hash: "h"}

	assert.Equal(t, SideLocal, NewLocalEntry("a.txt", l).Side())
	assert.Equal(t, SideRemote, NewRemoteEntry("a.txt", o).Side())
	assert.Equal(t, SideBoth, NewBothEntry("a.txt", l, o).Side())
	assert.NoError(t, NewBothEntry("a.txt", l, o).Validate())

	empty := &FileEntry{Name: "a.txt", RelPath: "a.txt"}
	assert.ErrorIs(t, empty.Validate(), ErrNoSide)

	bad := NewLocalEntry("..", &localfs.Entry{Name: "..", Path: "/tmp/.."})
	assert.Error(t, bad.Validate())

	nul := NewLocalEntry("a\x00b", &localfs.Entry{Name: "a\x00b", Path: "/tmp/a\x00b"})
	assert.Error(t, nul.Validate())

	backslash := NewLocalEntry(`a\b.txt`, &localfs.Entry{Name: `a\b.txt`, Path: `/tmp/a\b.txt`})
	assert.NoError(t, backslash.Validate())
}
