// Package apperr defines the error taxonomy shared by the matcher packages.
// Callers tag errors with one of the sentinels and test with errors.Is.
// Tagged messages stay on one line so they can be sent on the wire as-is.
package apperr

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrInvalidArgument marks caller input that can never succeed as given.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable marks a dependency that could not be reached.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrConflict marks a uniqueness conflict, usually a benign duplicate.
	ErrConflict = errors.New("conflict")
)

// InvalidArgument returns an error tagged with ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Unavailable tags err as a dependency failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Conflict tags err as a uniqueness conflict.
func Conflict(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
}

// IsUniqueViolation reports whether err carries PostgreSQL SQLSTATE 23505.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Code maps an error to the short code used on the wire.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
