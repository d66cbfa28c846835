package sync

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

var ErrPanic = errors.New("operation panicked")

// FileOperationError is a failed create, delete or replace of one file.
type FileOperationError struct {
	Op   OpType
	Path string
	Err  error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *FileOperationError) Unwrap() error {
	return e.Err
}

// Outcome is the value of an operation run through Saferun, or its captured failure.
type Outcome[T any] struct {
	Value T
	Err   *FileOperationError
}

func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Saferun calls fn and turns a returned error or a panic into a
// *FileOperationError recorded in ledger under subject. It never panics and never
// returns the error to the caller other than through the Outcome.
func Saferun[T any](ledger *ErrorLedger, op OpType, subject string, fn func() (T, error)) (out Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("sync panic", "op", op, "path", subject, "stack", string(debug.Stack()))
			out = Outcome[T]{Err: capture(ledger, op, subject, fmt.Errorf("%w: %v", ErrPanic, r))}
		}
	}()

	value, err := fn()
	if err != nil {
		return Outcome[T]{Err: capture(ledger, op, subject, err)}
	}
	return Outcome[T]{Value: value}
}

func capture(ledger *ErrorLedger, op OpType, subject string, err error) *FileOperationError {
	ferr := &FileOperationError{Op: op, Path: subject, Err: err}
	slog.Error("sync", "op", op, "path", subject, "error", err)
	if ledger != nil {
		ledger.Record(subject, ferr)
	}
	return ferr
}
