// Package sync applies the classification produced by package compare to a remote:
// new files are uploaded, files gone locally are deleted remotely and files present
// on both sides are replaced when their content differs. A failing file never stops
// the run; it is recorded in the ErrorLedger instead.
package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/openmined/treesync/internal/compare"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
)

// Result holds the counters of one run.
type Result struct {
	Directories     int
	FilesSynced     int
	Uploaded        int
	Deleted         int
	Replaced        int
	Unchanged       int
	SymlinksSkipped int
	BytesUploaded   int64
	Errors          int
	DryRun          bool
	Interrupted     bool
	Duration        time.Duration
}

// Summary is the final line of a run.
func (r *Result) Summary(errorFile string) string {
	var b strings.Builder
	if r.Interrupted {
		b.WriteString("Interrupted. ")
	}
	if r.Errors == 0 {
		fmt.Fprintf(&b, "Finished syncing %d files, no errors", r.FilesSynced)
	} else {
		fmt.Fprintf(&b, "Finished syncing %d files, with %d errors (read %s for details)", r.FilesSynced, r.Errors, errorFile)
	}
	return b.String()
}

// Synchronizer drives the remote mutations for a stream of directory classifications.
type Synchronizer struct {
	remote   remote.Remote
	dryRun   bool
	reporter Reporter
	policy   ListingErrorPolicy
	now      func() time.Time
}

type Option func(*Synchronizer)

// WithDryRun reports every step without touching the remote.
func WithDryRun(dryRun bool) Option {
	return func(s *Synchronizer) {
		s.dryRun = dryRun
	}
}

func WithReporter(r Reporter) Option {
	return func(s *Synchronizer) {
		if r != nil {
			s.reporter = r
		}
	}
}

func WithListingErrorPolicy(p ListingErrorPolicy) Option {
	return func(s *Synchronizer) {
		s.policy = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

func New(r remote.Remote, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		remote:   r,
		reporter: NopReporter{},
		policy:   SkipDirectory,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains seq one directory at a time: uploads, then deletes, then updates.
// File failures end up in ledger. Cancelling ctx stops the run between two file
// operations and returns the partial result with Interrupted set and a nil error.
// The only error returned is a listing error under the AbortRun policy, or an
// unexpected error from seq.
func (s *Synchronizer) Run(ctx context.Context, seq iter.Seq2[*compare.DirectoryClassification, error], ledger *ErrorLedger) (res *Result, err error) {
	if ledger == nil {
		ledger = NewErrorLedger("")
	}

	res = &Result{DryRun: s.dryRun}
	start := s.now()
	defer func() {
		res.Duration = s.now().Sub(start)
		res.Errors = ledger.Len()
		s.reporter.Finish(res)
	}()

	for dc, seqErr := range seq {
		if seqErr != nil {
			if ctx.Err() != nil && errors.Is(seqErr, ctx.Err()) {
				res.Interrupted = true
				break
			}

			var lerr *compare.DirectoryListingError
			if !errors.As(seqErr, &lerr) {
				return res, fmt.Errorf("compare: %w", seqErr)
			}
			ledger.Record(lerr.Path, lerr)
			s.reporter.ListingFailed(lerr)
			if s.policy == AbortRun {
				return res, fmt.Errorf("aborting run: %w", lerr)
			}
			continue
		}

		res.Directories++
		if !s.syncDir(ctx, dc, ledger, res) {
			res.Interrupted = true
			break
		}
	}

	if ctx.Err() != nil {
		res.Interrupted = true
	}
	if res.Interrupted {
		slog.Warn("sync interrupted", "synced", res.FilesSynced, "errors", ledger.Len())
	}
	return res, nil
}

// syncDir returns false when ctx was cancelled.
func (s *Synchronizer) syncDir(ctx context.Context, dc *compare.DirectoryClassification, ledger *ErrorLedger, res *Result) bool {
	s.reporter.EnterDir(dc)
	slog.Debug("sync dir", "dir", dc.Dir, "remoteDir", dc.RemoteDir, "files", dc.Total())

	return s.uploadAll(ctx, dc, ledger, res) &&
		s.deleteAll(ctx, dc, ledger, res) &&
		s.updateAll(ctx, dc, ledger, res)
}

func (s *Synchronizer) uploadAll(ctx context.Context, dc *compare.DirectoryClassification, ledger *ErrorLedger, res *Result) bool {
	if len(dc.LocalOnly) == 0 {
		return true
	}
	s.reporter.StartBucket(dc.Dir, BucketUpload, len(dc.LocalOnly))

	start := s.now()
	var bytes int64
	for _, e := range dc.LocalOnly {
		if ctx.Err() != nil {
			return false
		}
		if e.IsSymlink || utils.IsSymlink(e.LocalPath) {
			s.skipSymlink(e, res)
			continue
		}

		target := dc.RemotePathFor(e)
		s.reporter.Step(OpCreate, target)
		if s.dryRun {
			slog.Info("sync", "op", OpCreate, "path", target, "dryRun", true)
			continue
		}

		out := Saferun(ledger, OpCreate, target, func() (*remote.Object, error) {
			if err := e.Validate(); err != nil {
				return nil, err
			}
			return s.remote.Create(ctx, e.LocalPath, target)
		})
		if out.OK() {
			slog.Info("sync", "op", OpCreate, "path", target, "size", e.Size)
			res.FilesSynced++
			res.Uploaded++
			res.BytesUploaded += e.Size
			bytes += e.Size
		}
	}

	s.reporter.UploadRate(dc.Dir, bytes, s.now().Sub(start))
	return true
}

func (s *Synchronizer) deleteAll(ctx context.Context, dc *compare.DirectoryClassification, ledger *ErrorLedger, res *Result) bool {
	if len(dc.RemoteOnly) == 0 {
		return true
	}
	s.reporter.StartBucket(dc.Dir, BucketDelete, len(dc.RemoteOnly))

	for _, e := range dc.RemoteOnly {
		if ctx.Err() != nil {
			return false
		}

		target := dc.RemotePathFor(e)
		s.reporter.Step(OpDelete, target)
		if s.dryRun {
			slog.Info("sync", "op", OpDelete, "path", target, "dryRun", true)
			continue
		}

		out := Saferun(ledger, OpDelete, target, func() (struct{}, error) {
			if err := e.Validate(); err != nil {
				return struct{}{}, err
			}
			err := s.remote.Delete(ctx, target)
			if errors.Is(err, remote.ErrNotFound) {
				slog.Debug("sync", "op", OpDelete, "path", target, "reason", "already gone")
				return struct{}{}, nil
			}
			return struct{}{}, err
		})
		if out.OK() {
			slog.Info("sync", "op", OpDelete, "path", target)
			res.FilesSynced++
			res.Deleted++
		}
	}
	return true
}

func (s *Synchronizer) updateAll(ctx context.Context, dc *compare.DirectoryClassification, ledger *ErrorLedger, res *Result) bool {
	if len(dc.BothPlaces) == 0 {
		return true
	}
	s.reporter.StartBucket(dc.Dir, BucketUpdate, len(dc.BothPlaces))

	for _, e := range dc.BothPlaces {
		if ctx.Err() != nil {
			return false
		}
		if e.IsSymlink || utils.IsSymlink(e.LocalPath) {
			s.skipSymlink(e, res)
			continue
		}

		target := dc.RemotePathFor(e)
		s.reporter.Step(OpReplace, target)
		if s.dryRun {
			slog.Info("sync", "op", OpReplace, "path", target, "dryRun", true, "same", e.HashesMatch())
			continue
		}

		out := Saferun(ledger, OpReplace, target, func() (bool, error) {
			if err := e.Validate(); err != nil {
				return false, err
			}
			return s.remote.ReplaceIfChanged(ctx, e.LocalPath, target)
		})
		if !out.OK() {
			continue
		}
		res.FilesSynced++
		if out.Value {
			slog.Info("sync", "op", OpReplace, "path", target, "size", e.Size)
			res.Replaced++
		} else {
			slog.Debug("sync", "op", OpReplace, "path", target, "reason", "contents unchanged")
			res.Unchanged++
		}
	}
	return true
}

func (s *Synchronizer) skipSymlink(e *compare.FileEntry, res *Result) {
	res.SymlinksSkipped++
	s.reporter.Step(OpSkipSymlink, e.RelPath)
	slog.Debug("sync", "op", OpSkipSymlink, "path", e.RelPath)
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf(singular, n)
	}
	return fmt.Sprintf(plural, n)
}
