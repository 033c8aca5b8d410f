package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced movie, review or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated indicates the operation requires an identified caller.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrConflict indicates a uniqueness constraint rejected a write.
	ErrConflict = errors.New("conflict")
	// ErrAggregateRecomputeFailed indicates a movie's average rating could not
	// be refreshed within its retry budget and may be stale.
	ErrAggregateRecomputeFailed = errors.New("aggregate recompute failed")
)

// InputError carries a client-facing validation message and matches
// ErrInvalidInput under errors.Is.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return "invalid input: " + e.Message
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// InvalidInput builds an *InputError from a format string.
func InvalidInput(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError carries a client-facing message and matches ErrConflict under
// errors.Is.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Conflict builds a *ConflictError.
func Conflict(message string) error {
	return &ConflictError{Message: message}
}
