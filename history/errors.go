/*
errors.go - Centralized error types for the history engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is/errors.As; the API layer maps client
  errors to 4xx and everything else to 5xx.

ERROR CATEGORIES:
  1. Not-found errors - Operations on missing records; no state is mutated
  2. Validation errors - Bad merge-group preconditions; all-or-nothing
  3. Store errors - Durable-store failures propagate wrapped; the in-memory
     snapshot stays at its last-known-good value so the call can be retried

SEE ALSO:
  - edits.go: Returns these from precondition checks
  - service.go: Wraps store failures
*/
package history

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrReservationNotFound is returned when an edit targets a missing
	// reservation id. No write is performed.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidMergeGroup is returned when mergeReservations preconditions
	// fail: fewer than two ids, primary not among them, or mixed friends or
	// session dates. The merge is all-or-nothing; nothing is written.
	ErrInvalidMergeGroup = errors.New("invalid merge group")

	// ErrNotGrouped is returned when unmerge targets a record with no group.
	ErrNotGrouped = errors.New("reservation is not in a merge group")

	// ErrSnapshotNotFound is returned when restoring a missing snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrStoreFailed wraps durable-store write failures. A partial batch
	// failure is treated as total failure; retry after reload.
	ErrStoreFailed = errors.New("durable store operation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which reservation was missing.
type NotFoundError struct {
	ReservationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reservation %q not found", e.ReservationID)
}

func (e *NotFoundError) Unwrap() error { return ErrReservationNotFound }

// MergeGroupError explains which merge precondition failed.
type MergeGroupError struct {
	Reason string
	IDs    []string
}

func (e *MergeGroupError) Error() string {
	return fmt.Sprintf("invalid merge group %v: %s", e.IDs, e.Reason)
}

func (e *MergeGroupError) Unwrap() error { return ErrInvalidMergeGroup }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than a persistence failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrInvalidMergeGroup) ||
		errors.Is(err, ErrNotGrouped) ||
		errors.Is(err, ErrSnapshotNotFound)
}
