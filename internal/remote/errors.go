package remote

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("remote: not found")
	ErrInvalidPath = errors.New("remote: invalid path")
)

// Error is returned by backends when a remote call fails.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err unless it already is a *Error.
func NewError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}
