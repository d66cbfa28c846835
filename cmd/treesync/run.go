package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/openmined/treesync/internal/compare"
	"github.com/openmined/treesync/internal/config"
	"github.com/openmined/treesync/internal/hashcache"
	"github.com/openmined/treesync/internal/ignore"
	"github.com/openmined/treesync/internal/localfs"
	tsync "github.com/openmined/treesync/internal/sync"
	"github.com/openmined/treesync/internal/utils"
	"github.com/openmined/treesync/internal/version"
	"github.com/openmined/treesync/internal/watch"
)

const hashCacheRetention = 30 * 24 * time.Hour

var (
	errLocked  = errors.New("another treesync run holds the lock")
	errAborted = errors.New("run aborted")
)

// session is everything one invocation needs to run one or more passes.
type session struct {
	cfg        *config.Config
	exclusions *ignore.ExclusionSet
	comparator *compare.Comparator
	syncer     *tsync.Synchronizer
	stdout     io.Writer
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	closeLog, err := setupLogger(cfg.ErrorFile, cfg.Verbose, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Debug("treesync start", "version", version.Short(), "config", cfg.String())

	lock, err := acquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	cache := hashcache.New(cfg.HashCachePath())
	if err := cache.Open(); err != nil {
		return &compare.SetupError{Path: cfg.HashCachePath(), Err: err}
	}
	defer func() {
		if n, err := cache.Prune(hashCacheRetention); err != nil {
			slog.Warn("hash cache prune", "error", err)
		} else if n > 0 {
			slog.Debug("hash cache pruned", "rows", n)
		}
		cache.Close()
	}()

	s, err := newSession(ctx, cfg, cache, stdout)
	if err != nil {
		return err
	}

	if _, err := s.syncOnce(ctx); err != nil {
		return err
	}
	if !cfg.Watch || ctx.Err() != nil {
		return nil
	}
	return s.watch(ctx)
}

func acquireLock(path string) (*flock.Flock, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, &compare.SetupError{Path: path, Err: err}
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &compare.SetupError{Path: path, Err: err}
	}
	if !locked {
		return nil, &compare.SetupError{Path: path, Err: errLocked}
	}
	return lock, nil
}

func newSession(ctx context.Context, cfg *config.Config, cache *hashcache.Cache, stdout io.Writer) (*session, error) {
	exclusions, err := ignore.Load(cfg.LocalDir, !cfg.NoDefaultExcludes, cfg.Exclude...)
	if err != nil {
		return nil, &compare.SetupError{Path: cfg.LocalDir, Err: err}
	}

	r, remoteRoot, err := newRemote(ctx, cfg, cache.Hash)
	if err != nil {
		return nil, &compare.SetupError{Path: cfg.RemotePath, Err: err}
	}
	// surfaces bad credentials and unreachable servers before any traversal
	if _, err := r.List(ctx, remoteRoot); err != nil {
		return nil, &compare.SetupError{Path: cfg.RemotePath, Err: err}
	}

	comparator, err := compare.New(cfg.LocalDir, remoteRoot, r,
		compare.WithExclusions(exclusions),
		compare.WithLocalLister(localfs.NewDirLister(localfs.WithHasher(cache))),
	)
	if err != nil {
		return nil, err
	}

	policy := tsync.SkipDirectory
	if cfg.AbortOnListingError {
		policy = tsync.AbortRun
	}

	syncer := tsync.New(r,
		tsync.WithDryRun(cfg.DryRun),
		tsync.WithReporter(tsync.NewConsoleReporter(stdout, cfg.ErrorFile, cfg.Verbose)),
		tsync.WithListingErrorPolicy(policy),
	)

	return &session{
		cfg:        cfg,
		exclusions: exclusions,
		comparator: comparator,
		syncer:     syncer,
		stdout:     stdout,
	}, nil
}

// syncOnce runs one full pass and appends its error ledger to the error file.
func (s *session) syncOnce(ctx context.Context) (*tsync.Result, error) {
	ledger := tsync.NewErrorLedger(uuid.NewString())
	slog.Debug("sync pass", "run", ledger.RunID(), "local", s.comparator.LocalRoot(), "remote", s.comparator.RemoteRoot())

	res, err := s.syncer.Run(ctx, s.comparator.Compare(ctx), ledger)
	if serr := ledger.Save(s.cfg.ErrorFile); serr != nil {
		slog.Error("save error ledger", "path", s.cfg.ErrorFile, "error", serr)
	}
	if err != nil {
		return res, fmt.Errorf("%w: %w", errAborted, err)
	}
	return res, nil
}

func (s *session) watch(ctx context.Context) error {
	root := s.comparator.LocalRoot()
	w := watch.New(root)
	w.FilterPaths(s.ignoredEvent)
	if err := w.Start(ctx); err != nil {
		return &compare.SetupError{Path: root, Err: err}
	}
	defer w.Stop()

	fmt.Fprintln(s.stdout, gray.Render(fmt.Sprintf("Watching %s for changes (Ctrl-C to stop)", root)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Batches():
			if !ok {
				return nil
			}
			slog.Debug("local changes", "paths", len(batch.Paths))
			if _, err := s.syncOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// ignoredEvent drops events on excluded paths and on files treesync itself writes.
func (s *session) ignoredEvent(path string) bool {
	if path == s.cfg.ErrorFile || isWithin(s.cfg.CacheDir, path) {
		return true
	}
	rel, err := filepath.Rel(s.comparator.LocalRoot(), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return true
	}
	return s.exclusions.Match(rel, false)
}

func isWithin(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
