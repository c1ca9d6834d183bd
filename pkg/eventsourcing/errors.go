package eventsourcing

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict is returned by EventStore.Append when the submitted
	// events do not start at current_max_version(aggregate_id)+1 (invariant I1).
	ErrVersionConflict = errors.New("eventsourcing: version conflict")

	// ErrStoreUnavailable wraps underlying storage I/O failures.
	ErrStoreUnavailable = errors.New("eventsourcing: store unavailable")

	// ErrSerialization is returned when a payload or state value cannot be
	// encoded, or fails required-field validation.
	ErrSerialization = errors.New("eventsourcing: serialization error")

	// ErrAggregateNotFound is returned when no events exist for an aggregate id.
	ErrAggregateNotFound = errors.New("eventsourcing: aggregate not found")

	// ErrSnapshotNotFound is returned when no snapshot exists for an aggregate.
	ErrSnapshotNotFound = errors.New("eventsourcing: snapshot not found")

	// ErrNoHandler is returned internally when no handler is registered for
	// a command type. Per §4.4 it never reaches the caller as a Go error —
	// Dispatch converts it into an {"status":"error"} outcome.
	ErrNoHandler = errors.New("eventsourcing: no handler registered")

	// ErrProjectionNotFound is returned when referencing an unregistered projection.
	ErrProjectionNotFound = errors.New("eventsourcing: projection not found")

	// ErrInvalidEvents is returned when Append is called with an empty or
	// internally inconsistent event slice.
	ErrInvalidEvents = errors.New("eventsourcing: invalid event batch")
)

// ConflictError carries the detail behind ErrVersionConflict: the version
// the store requires for the aggregate's next event (ExpectedVersion, its
// current max version + 1) versus the version the rejected batch started at
// (ActualVersion). Callers use this to decide how to reload and retry.
type ConflictError struct {
	AggregateID     string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("eventsourcing: version conflict for aggregate %q: expected next version %d, batch starts at %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// NewConflictError builds a ConflictError wrapping ErrVersionConflict.
func NewConflictError(aggregateID string, expected, actual int) error {
	return &ConflictError{AggregateID: aggregateID, ExpectedVersion: expected, ActualVersion: actual}
}
