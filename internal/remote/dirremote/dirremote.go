// Package dirremote uses a directory on disk as the remote namespace, for mounted
// drives and as the storage engine of the blob server.
package dirremote

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
)

// tempMarker is part of every temp file name; such files are never listed.
const tempMarker = ".treesync.tmp."

var ErrIntegrity = errors.New("integrity check failed")

// Store is a remote backed by a local directory.
type Store struct {
	root string
	// hashes files on the sending side of Create and ReplaceIfChanged
	localHasher remote.Hasher
	// hashes the stored objects
	objectHasher remote.Hasher
}

type Option func(*Store)

// WithHasher sets the hasher used for the local files being synced.
func WithHasher(h remote.Hasher) Option {
	return func(s *Store) {
		if h != nil {
			s.localHasher = h
		}
	}
}

// WithObjectHasher sets the hasher used for the files inside the store.
func WithObjectHasher(h remote.Hasher) Option {
	return func(s *Store) {
		if h != nil {
			s.objectHasher = h
		}
	}
}

// New creates root when needed and returns a Store on it.
func New(root string, opts ...Option) (*Store, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	s := &Store{
		root:         root,
		localHasher:  remote.DefaultHasher,
		objectHasher: remote.DefaultHasher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

// validKey also rejects keys a backslash separated filesystem would split.
func validKey(key string) bool {
	if filepath.Separator != '/' && strings.ContainsRune(key, '\\') {
		return false
	}
	return remote.ValidKey(key)
}

func (s *Store) abs(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(remote.Clean(key)))
}

func (s *Store) List(ctx context.Context, dir string) (*remote.Listing, error) {
	dir = remote.Clean(dir)
	entries, err := os.ReadDir(s.abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return &remote.Listing{}, nil
	} else if err != nil {
		return nil, remote.NewError("list", dir, err)
	}

	listing := &remote.Listing{}
	for _, de := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if strings.Contains(name, tempMarker) {
			continue
		}
		switch {
		case de.IsDir():
			listing.Dirs = append(listing.Dirs, name)
		case de.Type().IsRegular():
			obj, err := s.stat(remote.Join(dir, name))
			if errors.Is(err, remote.ErrNotFound) {
				continue
			} else if err != nil {
				return nil, remote.NewError("list", dir, err)
			}
			listing.Files = append(listing.Files, obj)
		default:
			slog.Debug("dirremote skipping irregular file", "path", remote.Join(dir, name))
		}
	}

	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Name < listing.Files[j].Name })
	sort.Strings(listing.Dirs)
	return listing, nil
}

// Stat returns the object stored at key.
func (s *Store) Stat(_ context.Context, key string) (*remote.Object, error) {
	if !validKey(key) {
		return nil, remote.NewError("stat", key, remote.ErrInvalidPath)
	}
	obj, err := s.stat(remote.Clean(key))
	if err != nil {
		return nil, remote.NewError("stat", key, err)
	}
	return obj, nil
}

func (s *Store) stat(key string) (*remote.Object, error) {
	p := s.abs(key)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, remote.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, remote.ErrNotFound
	}

	hash, err := s.objectHasher(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, remote.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return &remote.Object{
		Path:         key,
		Name:         remote.Base(key),
		Hash:         hash,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Put writes r to key through a temp file in the target directory. When
// expectedMD5 is set the content must hash to it or nothing is written.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, expectedMD5 string) (*remote.Object, error) {
	if !validKey(key) {
		return nil, remote.NewError("put", key, remote.ErrInvalidPath)
	}
	key = remote.Clean(key)
	if err := s.writeAtomic(ctx, s.abs(key), r, expectedMD5); err != nil {
		return nil, remote.NewError("put", key, err)
	}
	obj, err := s.stat(key)
	if err != nil {
		return nil, remote.NewError("put", key, err)
	}
	return obj, nil
}

func (s *Store) writeAtomic(ctx context.Context, path string, r io.Reader, expectedMD5 string) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("ensure parent: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	hasher := md5.New()
	if _, err := io.Copy(io.MultiWriter(tempFile, hasher), r); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if expectedMD5 != "" {
		if computed := fmt.Sprintf("%x", hasher.Sum(nil)); !strings.EqualFold(expectedMD5, computed) {
			return fmt.Errorf("%w: expected %q got %q", ErrIntegrity, expectedMD5, computed)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

func (s *Store) Create(ctx context.Context, localPath, remotePath string) (*remote.Object, error) {
	hash, err := s.localHasher(localPath)
	if err != nil {
		return nil, remote.NewError("create", remotePath, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, remote.NewError("create", remotePath, err)
	}
	defer f.Close()

	return s.Put(ctx, remotePath, f, hash)
}

// Delete removes key and the directories it leaves empty.
func (s *Store) Delete(_ context.Context, remotePath string) error {
	if !validKey(remotePath) {
		return remote.NewError("delete", remotePath, remote.ErrInvalidPath)
	}
	key := remote.Clean(remotePath)
	p := s.abs(key)

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return remote.ErrNotFound
	} else if err != nil {
		return remote.NewError("delete", key, err)
	}
	if info.IsDir() {
		return remote.NewError("delete", key, fmt.Errorf("is a directory"))
	}

	if err := os.Remove(p); errors.Is(err, fs.ErrNotExist) {
		return remote.ErrNotFound
	} else if err != nil {
		return remote.NewError("delete", key, err)
	}

	s.pruneEmptyParents(filepath.Dir(p))
	return nil
}

func (s *Store) pruneEmptyParents(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			// not empty or not removable
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Store) ReplaceIfChanged(ctx context.Context, localPath, remotePath string) (bool, error) {
	localHash, err := s.localHasher(localPath)
	if err != nil {
		return false, remote.NewError("replace", remotePath, err)
	}

	existing, err := s.Stat(ctx, remotePath)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return false, err
	}
	if existing != nil && strings.EqualFold(existing.Hash, localHash) {
		return false, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, remote.NewError("replace", remotePath, err)
	}
	defer f.Close()

	if _, err := s.Put(ctx, remotePath, f, localHash); err != nil {
		return false, err
	}
	return true, nil
}

var _ remote.Remote = (*Store)(nil)
