package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProtectedList is returned when an item is dropped into a done or
	// trash collection or into a list that cannot be reordered.
	ErrProtectedList = errors.New("destination list does not accept drops")
	// ErrNoopMove is returned when a drop leaves the item where it was.
	ErrNoopMove = errors.New("item dropped at its current position")
	// ErrUnknownDragKind is returned for drag items outside the closed set.
	ErrUnknownDragKind = errors.New("unknown drag item kind")
	// ErrNotFound is returned when an id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// IsDropPolicyViolation reports whether err was raised client side before any
// network call, meaning the drop should silently revert.
func IsDropPolicyViolation(err error) bool {
	return errors.Is(err, ErrProtectedList) || errors.Is(err, ErrNoopMove)
}

// NetworkError wraps a transport level failure (refused, reset, timed out).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a non-2xx response from the backend.
type ValidationError struct {
	Op      string
	Status  int
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
}

// IsNetwork reports whether err is (or wraps) a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
