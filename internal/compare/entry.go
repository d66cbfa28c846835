package compare

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/openmined/treesync/internal/localfs"
	"github.com/openmined/treesync/internal/remote"
)

var ErrNoSide = errors.New("file entry has neither a local nor a remote side")

// Side tells on which end of the sync a file or directory exists.
type Side uint8

const (
	SideLocal Side = 1 << iota
	SideRemote

	SideBoth = SideLocal | SideRemote
)

func (s Side) String() string {
	switch s {
	case SideLocal:
		return "local"
	case SideRemote:
		return "remote"
	case SideBoth:
		return "both"
	default:
		return "none"
	}
}

// FileEntry is one file seen by the comparator.
type FileEntry struct {
	Name string
	// RelPath is relative to both sync roots, slash separated
	RelPath string
	// LocalPath is absolute, empty when the file only exists remotely
	LocalPath string
	// RemotePath is the logical remote path, empty when the file only exists locally
	RemotePath string
	// Size of the local file when present, otherwise of the remote object
	Size       int64
	IsSymlink  bool
	ModTime    time.Time
	LocalHash  string
	RemoteHash string
}

func NewLocalEntry(relPath string, e *localfs.Entry) *FileEntry {
	return &FileEntry{
		Name:      e.Name,
		RelPath:   relPath,
		LocalPath: e.Path,
		Size:      e.Size,
		IsSymlink: e.IsSymlink,
		ModTime:   e.ModTime,
		LocalHash: e.Hash,
	}
}

func NewRemoteEntry(relPath string, o *remote.Object) *FileEntry {
	return &FileEntry{
		Name:       o.Name,
		RelPath:    relPath,
		RemotePath: o.Path,
		Size:       o.Size,
		ModTime:    o.LastModified,
		RemoteHash: o.Hash,
	}
}

func NewBothEntry(relPath string, l *localfs.Entry, o *remote.Object) *FileEntry {
	e := NewLocalEntry(relPath, l)
	e.RemotePath = o.Path
	e.RemoteHash = o.Hash
	return e
}

// Side reports which ends hold the file.
func (e *FileEntry) Side() Side {
	var s Side
	if e.LocalPath != "" {
		s |= SideLocal
	}
	if e.RemotePath != "" {
		s |= SideRemote
	}
	return s
}

// HashesMatch reports whether both sides are known to hold the same content.
func (e *FileEntry) HashesMatch() bool {
	return e.LocalHash != "" && strings.EqualFold(e.LocalHash, e.RemoteHash)
}

// Validate rejects an entry with no side or with a name that cannot be synced.
func (e *FileEntry) Validate() error {
	if e.Side() == 0 {
		return fmt.Errorf("%q: %w", e.RelPath, ErrNoSide)
	}
	if e.Name == "" || e.Name == "." || e.Name == ".." || strings.ContainsAny(e.Name, "/\x00") {
		return fmt.Errorf("%q: invalid file name %q", e.RelPath, e.Name)
	}
	return nil
}

func (e *FileEntry) String() string {
	return fmt.Sprintf("%s (%s)", e.RelPath, e.Side())
}

// DirectoryClassification holds the three buckets of one directory level.
type DirectoryClassification struct {
	// Dir is relative to the sync roots, "" for the roots themselves
	Dir string
	// LocalDir is empty when the directory only exists remotely
	LocalDir string
	// RemoteDir is the logical remote directory, set even when nothing exists there yet
	RemoteDir string

	LocalOnly  []*FileEntry
	RemoteOnly []*FileEntry
	BothPlaces []*FileEntry
}

// Total is the number of files across all buckets.
func (d *DirectoryClassification) Total() int {
	return len(d.LocalOnly) + len(d.RemoteOnly) + len(d.BothPlaces)
}

func (d *DirectoryClassification) IsEmpty() bool {
	return d.Total() == 0
}

// RemotePathFor returns the remote path a file of this directory maps to.
func (d *DirectoryClassification) RemotePathFor(e *FileEntry) string {
	if e.RemotePath != "" {
		return e.RemotePath
	}
	return remote.Join(d.RemoteDir, e.Name)
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}
