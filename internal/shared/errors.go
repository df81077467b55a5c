package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the payment core. Services wrap these with
// the specific reason; handlers map them to HTTP status codes.
var (
	// ErrNotFound indicates an unknown reference.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input, rejected
	// before any transaction opens.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the current state does not permit the
	// operation (already converted, already discounted, ordering closed).
	ErrConflict = errors.New("conflict")
)

// Conflictf wraps ErrConflict with the specific current-state reason.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with the specific reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
