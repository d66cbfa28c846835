package sync

import (
	"time"

	"github.com/openmined/treesync/internal/compare"
)

// Reporter receives the progress of a run. Dry runs emit the same directory,
// bucket and step events as real runs.
type Reporter interface {
	EnterDir(dc *compare.DirectoryClassification)
	StartBucket(dir string, bucket Bucket, count int)
	Step(op OpType, path string)
	UploadRate(dir string, bytes int64, elapsed time.Duration)
	ListingFailed(err *compare.DirectoryListingError)
	Finish(res *Result)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) EnterDir(*compare.DirectoryClassification) {}
func (NopReporter) StartBucket(string, Bucket, int) {}
func (NopReporter) Step(OpType, string) {}
func (NopReporter) UploadRate(string, int64, time.Duration) {}
func (NopReporter) ListingFailed(*compare.DirectoryListingError) {}
func (NopReporter) Finish(*Result) {}

// Throughput is bytes per second over elapsed, 0 when no time has passed.
func Throughput(bytes int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) / secs
}
