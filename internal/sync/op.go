package sync

type OpType string

const (
	OpCreate      OpType = "Create"
	OpDelete      OpType = "Delete"
	OpReplace     OpType = "Replace"
	OpSkipSymlink OpType = "SkipSymlink"
)

// Bucket is one of the three per directory work lists, drained in declaration order.
type Bucket string

const (
	BucketUpload Bucket = "upload"
	BucketDelete Bucket = "delete"
	BucketUpdate Bucket = "update"
)

// Label is the progress line shown when a bucket starts.
func (b Bucket) Label(count int) string {
	switch b {
	case BucketUpload:
		return pluralize(count, "uploading %d new file", "uploading %d new files")
	case BucketDelete:
		return pluralize(count, "deleting %d file because it no longer exists locally", "deleting %d files because they no longer exist locally")
	case BucketUpdate:
		return pluralize(count, "comparing %d existing file", "comparing %d existing files")
	default:
		return string(b)
	}
}

// ListingErrorPolicy decides what a run does when a directory cannot be listed.
type ListingErrorPolicy int

const (
	// SkipDirectory records the failure and continues with the next directory
	SkipDirectory ListingErrorPolicy = iota
	// AbortRun stops the run and returns the listing error
	AbortRun
)

func (p ListingErrorPolicy) String() string {
	if p == AbortRun {
		return "abort"
	}
	return "skip"
}
