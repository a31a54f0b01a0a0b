/*
errors.go - Centralized error types for the grants engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these onto status codes; the engine itself never
  inspects HTTP concepts.

ERROR CATEGORIES:
  1. Validation errors - caller-supplied payload fails checks (400)
  2. Not-found errors  - missing or not-owned records (404)
  3. Conflict errors   - concurrent modification detected (409)
  4. Storage errors    - data store read/write failures (500)

USAGE:
  Callers classify with errors.Is / errors.As:

    if errors.Is(err, grants.ErrNotFound) {
        // generic "not found" to the user; never leak whose record it was
    }

SEE ALSO:
  - lifecycle.go: raises validation/not-found/conflict errors
  - pool.go, calls.go: wrap store failures as storage errors
*/
package grants

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a payload fails required-field or type
	// checks. Always recoverable by the caller.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist or is
	// not owned by the caller. Deliberately indistinguishable: existence of
	// other users' records must not leak.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a concurrent modification is detected,
	// e.g. a duplicate feedback iteration number.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrStorage is returned when the data store read/write failed. Retry
	// policy belongs to the store client, not this engine.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field of which entity failed validation.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: field %q %s", e.Entity, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing record for server-side logs. The
// user-facing message stays generic.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports a detected write race.
type ConflictError struct {
	Entity string
	ID     string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %s", e.Entity, e.ID, e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StorageError wraps a data store failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the operation might succeed on retry after
// the caller re-fetches current state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
