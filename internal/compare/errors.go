package compare

import "fmt"

// SetupError is returned before any traversal happens.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %q: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// DirectoryListingError reports a directory that could not be enumerated. Only
// that directory and its subtree are affected.
type DirectoryListingError struct {
	// Path is the local path or the remote path, depending on Side
	Path string
	Side Side
	Err  error
}

func (e *DirectoryListingError) Error() string {
	return fmt.Sprintf("list %s dir %q: %v", e.Side, e.Path, e.Err)
}

func (e *DirectoryListingError) Unwrap() error {
	return e.Err
}
