// Package remotetest provides an in-memory remote.Remote that records every call
// and can be told to fail specific operations.
package remotetest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
)

// Op names a remote operation.
type Op string

const (
	OpList    Op = "list"
	OpCreate  Op = "create"
	OpDelete  Op = "delete"
	OpReplace Op = "replace"
)

// Call is one recorded invocation.
type Call struct {
	Op   Op
	Path string
}

type fault struct {
	err   error
	panic bool
}

// Memory is a goroutine safe in-memory remote.
type Memory struct {
	mu       sync.Mutex
	objects  map[string]*remote.Object
	content  map[string][]byte
	calls    []Call
	faults   map[Call]fault
	replaced int
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]*remote.Object),
		content: make(map[string][]byte),
		faults:  make(map[Call]fault),
		now:     time.Now,
	}
}

// Put seeds a remote file without recording a call.
func (m *Memory) Put(remotePath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(remote.Clean(remotePath), data)
}

// FailOn makes every call of op on path return err. An empty path matches any path.
func (m *Memory) FailOn(op Op, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[Call{Op: op, Path: remote.Clean(path)}] = fault{err: err}
}

// PanicOn makes op on path panic, to exercise panic isolation in callers.
func (m *Memory) PanicOn(op Op, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[Call{Op: op, Path: remote.Clean(path)}] = fault{panic: true}
}

// Calls returns the recorded calls of op, or all calls when op is empty.
func (m *Memory) Calls(op Op) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// MutationCount is the number of create, delete and replace calls.
func (m *Memory) MutationCount() int {
	return len(m.Calls(OpCreate)) + len(m.Calls(OpDelete)) + len(m.Calls(OpReplace))
}

// Replaced is the number of replace calls that transferred content.
func (m *Memory) Replaced() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaced
}

// ResetCalls clears the call log, keeping objects and faults.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.replaced = 0
}

// Paths returns every stored file path in sorted order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Content returns the stored bytes of remotePath.
func (m *Memory) Content(remotePath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.content[remote.Clean(remotePath)]
	return data, ok
}

func (m *Memory) List(_ context.Context, dir string) (*remote.Listing, error) {
	dir = remote.Clean(dir)
	if err := m.record(OpList, dir); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := dir
	if prefix != "" {
		prefix += "/"
	}

	listing := &remote.Listing{}
	dirs := make(map[string]struct{})
	for p, obj := range m.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if name, _, nested := strings.Cut(rest, "/"); nested {
			dirs[name] = struct{}{}
			continue
		}
		cp := *obj
		listing.Files = append(listing.Files, &cp)
	}
	for d := range dirs {
		listing.Dirs = append(listing.Dirs, d)
	}
	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Name < listing.Files[j].Name })
	sort.Strings(listing.Dirs)

	return listing, nil
}

func (m *Memory) Create(_ context.Context, localPath, remotePath string) (*remote.Object, error) {
	remotePath = remote.Clean(remotePath)
	if err := m.record(OpCreate, remotePath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, remote.NewError(string(OpCreate), remotePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	obj := m.store(remotePath, data)
	cp := *obj
	return &cp, nil
}

func (m *Memory) Delete(_ context.Context, remotePath string) error {
	remotePath = remote.Clean(remotePath)
	if err := m.record(OpDelete, remotePath); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[remotePath]; !ok {
		return remote.ErrNotFound
	}
	delete(m.objects, remotePath)
	delete(m.content, remotePath)
	return nil
}

func (m *Memory) ReplaceIfChanged(_ context.Context, localPath, remotePath string) (bool, error) {
	remotePath = remote.Clean(remotePath)
	if err := m.record(OpReplace, remotePath); err != nil {
		return false, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return false, remote.NewError(string(OpReplace), remotePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[remotePath]; ok && existing.Hash == utils.BytesHash(data) {
		return false, nil
	}
	m.store(remotePath, data)
	m.replaced++
	return true, nil
}

func (m *Memory) record(op Op, path string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Path: path})
	f, ok := m.faults[Call{Op: op, Path: path}]
	if !ok {
		f, ok = m.faults[Call{Op: op}]
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if f.panic {
		panic(fmt.Sprintf("remotetest: injected panic on %s %s", op, path))
	}
	return remote.NewError(string(op), path, f.err)
}

func (m *Memory) store(remotePath string, data []byte) *remote.Object {
	obj := &remote.Object{
		Path:         remotePath,
		Name:         remote.Base(remotePath),
		Hash:         utils.BytesHash(data),
		Size:         int64(len(data)),
		LastModified: m.now(),
	}
	m.objects[remotePath] = obj
	m.content[remotePath] = append([]byte(nil), data...)
	return obj
}

var _ remote.Remote = (*Memory)(nil)
