// Package remote defines the capabilities treesync needs from a remote storage
// service and the logical path conventions shared by all backends.
package remote

import (
	"context"
	"time"

	"github.com/openmined/treesync/internal/utils"
)

// Object describes one file in the remote namespace.
type Object struct {
	// Path is the full logical path, slash separated, without a leading slash
	Path string
	// Name is the last element of Path
	Name string
	// Hash is the MD5 hex digest of the content, empty when the backend cannot tell
	Hash         string
	Size         int64
	LastModified time.Time
}

// Listing is the content of one remote directory level.
type Listing struct {
	Files []*Object
	// Dirs holds the names (not paths) of the immediate subdirectories
	Dirs []string
}

// Lister lists a single remote directory. A directory that does not exist lists as empty.
type Lister interface {
	List(ctx context.Context, dir string) (*Listing, error)
}

// Remote is the set of remote mutations driven by the synchronizer.
type Remote interface {
	Lister

	// Create uploads the full content of localPath to remotePath.
	Create(ctx context.Context, localPath, remotePath string) (*Object, error)

	// Delete removes remotePath. It returns ErrNotFound if there is nothing to delete.
	Delete(ctx context.Context, remotePath string) error

	// ReplaceIfChanged uploads localPath only when its hash differs from the remote one.
	// The boolean reports whether bytes were transferred.
	ReplaceIfChanged(ctx context.Context, localPath, remotePath string) (bool, error)
}

// Hasher computes the content hash of a local file.
type Hasher func(path string) (string, error)

// DefaultHasher hashes the file on every call.
var DefaultHasher Hasher = utils.FileHash
