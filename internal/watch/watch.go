// Package watch turns filesystem events under a directory into debounced change
// batches, so a caller can re-run a full sync once the tree settles.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounceTimeout = 500 * time.Millisecond
	eventBufferSize        = 256
	batchBufferSize        = 4
)

const watchedEvents = notify.Create | notify.Write | notify.Remove | notify.Rename

// FilterCallback returns true if the event for path should be dropped.
type FilterCallback func(path string) bool

// Batch is the set of paths that changed during one quiet period.
type Batch struct {
	Paths []string
	At    time.Time
}

type Watcher struct {
	watchDir  string
	rawEvents chan notify.EventInfo
	batches   chan Batch
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	debounceMu      sync.Mutex
	pending         mapset.Set[string]
	timer           *time.Timer
	closed          bool
	debounceTimeout time.Duration

	filter   FilterCallback
	filterMu sync.RWMutex
}

func New(watchDir string) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		done:            make(chan struct{}),
		pending:         mapset.NewThreadUnsafeSet[string](),
		debounceTimeout: DefaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets how long the tree must stay quiet before a batch is emitted.
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// FilterPaths sets a callback that drops raw events before debouncing.
func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.filterMu.Lock()
	defer w.filterMu.Unlock()
	w.filter = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.watchDir, "debounce", w.debounceTimeout)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.batches = make(chan Batch, batchBufferSize)

	if err := notify.Watch(filepath.Join(w.watchDir, "..."), w.rawEvents, watchedEvents); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	return nil
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		slog.Debug("watcher stopping")
		close(w.done)
		if w.rawEvents != nil {
			notify.Stop(w.rawEvents)
		}
		w.wg.Wait()
		slog.Debug("watcher stopped")
	})
}

// Batches is closed once the watcher stops.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

func (w *Watcher) isFiltered(path string) bool {
	w.filterMu.RLock()
	defer w.filterMu.RUnlock()
	return w.filter != nil && w.filter(path)
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		w.debounceMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.pending.Clear()
		w.closed = true
		close(w.batches)
		w.debounceMu.Unlock()

		w.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			if w.isFiltered(event.Path()) {
				continue
			}
			w.debounce(event.Path())
		}
	}
}

// debounce restarts the quiet period timer on every event.
func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	w.pending.Add(path)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceTimeout, w.flush)
}

func (w *Watcher) flush() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.closed || w.pending.Cardinality() == 0 {
		return
	}
	paths := w.pending.ToSlice()
	w.pending.Clear()
	w.timer = nil

	sort.Strings(paths)
	select {
	case w.batches <- Batch{Paths: paths, At: time.Now()}:
		slog.Debug("watcher batch", "paths", len(paths))
	default:
		// a full channel already holds a pending re-run
		slog.Debug("watcher batch coalesced", "paths", len(paths))
	}
}
