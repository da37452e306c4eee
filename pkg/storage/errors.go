package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrStorage is matched by every per-operation storage failure. Callers at
// the HTTP boundary map it to an opaque server error.
var ErrStorage = errors.New("storage failure")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// OpError records which operation failed on which backend.
type OpError struct {
	Op      string
	Backend string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is makes every OpError match ErrStorage.
func (e *OpError) Is(target error) bool {
	return target == ErrStorage
}

// Wrap returns nil for a nil err, the error unchanged when it is already an
// OpError or a context error, and an *OpError otherwise.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &OpError{Op: op, Backend: backend, Err: err}
}
