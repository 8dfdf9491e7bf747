package model

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrConflict is returned when a node with the same id already exists
	ErrConflict = errors.New("node already exists")
	// ErrForbidden is returned when the requester lacks ownership or permission
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the referenced node or subscription is absent
	ErrNotFound = errors.New("item not found")
	// ErrTimedOut is returned when no matching reply arrived within the wait window.
	// It is a caller-local outcome, never a fault of the engine.
	ErrTimedOut = errors.New("timed out waiting for reply")
	// ErrBadRequest is returned when a request is malformed
	ErrBadRequest = errors.New("bad request")
	// ErrClosed is returned when operating on a closed component
	ErrClosed = errors.New("closed")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// WrapError converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}

// IsExpected reports whether err is one of the outcomes an engine operation
// returns for ordinary conditions.
func IsExpected(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBadRequest)
}
