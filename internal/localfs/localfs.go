// Package localfs lists one level of a local directory with content hashes.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/openmined/treesync/internal/utils"
	"golang.org/x/sync/errgroup"
)

const defaultHashConcurrency = 4

// Entry is one item of a local directory.
type Entry struct {
	Name      string
	Path      string
	IsDir     bool
	IsSymlink bool
	Size      int64
	ModTime   time.Time
	// Hash is the MD5 hex digest, empty for directories, symlinks and unreadable files
	Hash string
}

// Hasher computes the content hash of a file.
type Hasher interface {
	Hash(path string) (string, error)
}

// HasherFunc adapts a function to Hasher.
type HasherFunc func(path string) (string, error)

func (f HasherFunc) Hash(path string) (string, error) { return f(path) }

// Lister lists a local directory.
type Lister interface {
	List(ctx context.Context, dir string) ([]*Entry, error)
}

// DirLister is the os backed Lister.
type DirLister struct {
	hasher      Hasher
	concurrency int
}

type Option func(*DirLister)

// WithHasher replaces the default MD5 file hasher, typically with a hash cache.
func WithHasher(h Hasher) Option {
	return func(l *DirLister) {
		l.hasher = h
	}
}

// WithHashConcurrency bounds the number of files hashed at once.
func WithHashConcurrency(n int) Option {
	return func(l *DirLister) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

func NewDirLister(opts ...Option) *DirLister {
	l := &DirLister{
		hasher:      HasherFunc(utils.FileHash),
		concurrency: defaultHashConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List returns the entries of dir sorted by name. Symlinks are reported but never
// followed. Sockets, devices and pipes are skipped. Files that vanish while the
// directory is being read are dropped.
func (l *DirLister) List(ctx context.Context, dir string) ([]*Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	entries := make([]*Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("file vanished during listing", "path", filepath.Join(dir, de.Name()))
			continue
		} else if err != nil {
			return nil, fmt.Errorf("stat %s: %w", de.Name(), err)
		}

		mode := info.Mode()
		entry := &Entry{
			Name:      de.Name(),
			Path:      filepath.Join(dir, de.Name()),
			IsDir:     mode.IsDir(),
			IsSymlink: mode&fs.ModeSymlink != 0,
			Size:      info.Size(),
			ModTime:   info.ModTime(),
		}
		if !entry.IsDir && !entry.IsSymlink && !mode.IsRegular() {
			slog.Debug("skipping irregular file", "path", entry.Path, "mode", mode.String())
			continue
		}
		entries = append(entries, entry)
	}

	if err := l.hashEntries(ctx, entries); err != nil {
		return nil, err
	}

	// drop entries that disappeared before they could be hashed
	kept := entries[:0]
	for _, e := range entries {
		if e != nil {
			kept = append(kept, e)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })
	return kept, nil
}

func (l *DirLister) hashEntries(ctx context.Context, entries []*Entry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for i, e := range entries {
		if e.IsDir || e.IsSymlink {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, err := l.hasher.Hash(e.Path)
			switch {
			case err == nil:
				e.Hash = hash
			case errors.Is(err, fs.ErrNotExist):
				slog.Debug("file vanished before hashing", "path", e.Path)
				entries[i] = nil
			default:
				// the file stays in the listing; the remote operation on it will fail and be recorded
				slog.Warn("failed to hash file", "path", e.Path, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

var _ Lister = (*DirLister)(nil)
