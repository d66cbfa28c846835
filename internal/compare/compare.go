// Package compare walks a local tree and a remote namespace side by side and
// classifies the files of every directory into local-only, remote-only and
// present-on-both buckets.
package compare

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/treesync/internal/ignore"
	"github.com/openmined/treesync/internal/localfs"
	"github.com/openmined/treesync/internal/remote"
)

// Comparator produces the per-directory classification of a sync pair.
type Comparator struct {
	localRoot  string
	remoteRoot string
	remote     remote.Lister
	local      localfs.Lister
	exclusions *ignore.ExclusionSet
}

type Option func(*Comparator)

// WithExclusions suppresses matching files and subtrees on both sides.
func WithExclusions(set *ignore.ExclusionSet) Option {
	return func(c *Comparator) {
		c.exclusions = set
	}
}

// WithLocalLister replaces the default local directory lister.
func WithLocalLister(l localfs.Lister) Option {
	return func(c *Comparator) {
		c.local = l
	}
}

// New validates the local root and returns a Comparator for the pair.
func New(localRoot, remoteRoot string, lister remote.Lister, opts ...Option) (*Comparator, error) {
	if lister == nil {
		return nil, &SetupError{Path: remoteRoot, Err: errors.New("remote lister is required")}
	}

	abs, err := filepath.Abs(localRoot)
	if err != nil {
		return nil, &SetupError{Path: localRoot, Err: err}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &SetupError{Path: abs, Err: err}
	}
	if !info.IsDir() {
		return nil, &SetupError{Path: abs, Err: errors.New("not a directory")}
	}

	c := &Comparator{
		localRoot:  abs,
		remoteRoot: remote.CleanRoot(remoteRoot),
		remote:     lister,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.local == nil {
		c.local = localfs.NewDirLister()
	}
	return c, nil
}

func (c *Comparator) LocalRoot() string  { return c.localRoot }
func (c *Comparator) RemoteRoot() string { return c.remoteRoot }

// Compare returns the lazy, depth first sequence of directory classifications.
// Children are visited in lexical order. A listing failure yields a
// *DirectoryListingError for that directory and its subtree is skipped. When ctx
// is cancelled the sequence yields ctx.Err() once and ends.
// Every range over the returned sequence scans the trees again.
func (c *Comparator) Compare(ctx context.Context) iter.Seq2[*DirectoryClassification, error] {
	return func(yield func(*DirectoryClassification, error) bool) {
		c.walk(ctx, "", SideBoth, yield)
	}
}

// walk visits rel and its subtree. It returns false once the sequence must stop.
func (c *Comparator) walk(ctx context.Context, rel string, sides Side, yield func(*DirectoryClassification, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(nil, err)
		return false
	}

	dc := &DirectoryClassification{
		Dir:       rel,
		RemoteDir: remote.Join(c.remoteRoot, rel),
	}

	var localEntries []*localfs.Entry
	if sides&SideLocal != 0 {
		dc.LocalDir = filepath.Join(c.localRoot, filepath.FromSlash(rel))
		entries, err := c.local.List(ctx, dc.LocalDir)
		if err != nil {
			return c.yieldListingError(ctx, dc.LocalDir, SideLocal, err, yield)
		}
		localEntries = entries
	}

	listing := &remote.Listing{}
	if sides&SideRemote != 0 {
		l, err := c.remote.List(ctx, dc.RemoteDir)
		if err != nil {
			return c.yieldListingError(ctx, dc.RemoteDir, SideRemote, err, yield)
		}
		if l != nil {
			listing = l
		}
	}

	subdirs := c.classify(dc, localEntries, listing)
	slog.Debug("compare", "dir", rel, "localOnly", len(dc.LocalOnly), "remoteOnly", len(dc.RemoteOnly), "both", len(dc.BothPlaces))

	if !yield(dc, nil) {
		return false
	}

	for _, sub := range subdirs {
		if !c.walk(ctx, joinRel(rel, sub.name), sub.sides, yield) {
			return false
		}
	}
	return true
}

func (c *Comparator) yieldListingError(ctx context.Context, path string, side Side, err error, yield func(*DirectoryClassification, error) bool) bool {
	if ctxErr := ctx.Err(); ctxErr != nil {
		yield(nil, ctxErr)
		return false
	}
	slog.Warn("compare list failed", "side", side, "path", path, "error", err)
	return yield(nil, &DirectoryListingError{Path: path, Side: side, Err: err})
}

type subdir struct {
	name  string
	sides Side
}

// classify fills the buckets of dc and returns the subdirectories to descend into.
func (c *Comparator) classify(dc *DirectoryClassification, localEntries []*localfs.Entry, listing *remote.Listing) []subdir {
	localFiles := make(map[string]*localfs.Entry)
	localDirs := mapset.NewThreadUnsafeSet[string]()
	for _, e := range localEntries {
		if c.excluded(joinRel(dc.Dir, e.Name), e.IsDir) {
			continue
		}
		if e.IsDir {
			localDirs.Add(e.Name)
		} else {
			// symlinks, including symlinked directories, are leaves
			localFiles[e.Name] = e
		}
	}

	remoteFiles := make(map[string]*remote.Object)
	remoteDirs := mapset.NewThreadUnsafeSet[string]()
	for _, o := range listing.Files {
		if o == nil || o.Name == "" || c.excluded(joinRel(dc.Dir, o.Name), false) {
			continue
		}
		remoteFiles[o.Name] = o
	}
	for _, name := range listing.Dirs {
		if name == "" || c.excluded(joinRel(dc.Dir, name), true) {
			continue
		}
		remoteDirs.Add(name)
	}

	localNames := mapset.NewThreadUnsafeSetFromMapKeys(localFiles)
	remoteNames := mapset.NewThreadUnsafeSetFromMapKeys(remoteFiles)

	for _, name := range sorted(localNames.Difference(remoteNames)) {
		dc.LocalOnly = append(dc.LocalOnly, NewLocalEntry(joinRel(dc.Dir, name), localFiles[name]))
	}
	for _, name := range sorted(remoteNames.Difference(localNames)) {
		dc.RemoteOnly = append(dc.RemoteOnly, NewRemoteEntry(joinRel(dc.Dir, name), remoteFiles[name]))
	}
	for _, name := range sorted(localNames.Intersect(remoteNames)) {
		dc.BothPlaces = append(dc.BothPlaces, NewBothEntry(joinRel(dc.Dir, name), localFiles[name], remoteFiles[name]))
	}

	names := sorted(localDirs.Union(remoteDirs))
	subdirs := make([]subdir, 0, len(names))
	for _, name := range names {
		var sides Side
		if localDirs.Contains(name) {
			sides |= SideLocal
		}
		if remoteDirs.Contains(name) {
			sides |= SideRemote
		}
		subdirs = append(subdirs, subdir{name: name, sides: sides})
	}
	return subdirs
}

func (c *Comparator) excluded(rel string, isDir bool) bool {
	return c.exclusions.Match(rel, isDir)
}

func sorted(s mapset.Set[string]) []string {
	out := s.ToSlice()
	sort.Strings(out)
	return out
}
