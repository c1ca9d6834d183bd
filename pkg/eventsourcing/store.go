package eventsourcing

import "context"

// EventStore is the append-only log of component B (§4.1). It owns every
// write invariant (I1-I5) and is the only component allowed to assign
// Event.Position.
type EventStore interface {
	// Append persists events for aggregateID in one transaction, assigning
	// each a global Position. events must be non-empty, all share
	// aggregateID, carry contiguous ascending versions, and the first
	// version must equal current_max_version(aggregateID)+1. On any
	// precondition failure it returns ErrVersionConflict (or a
	// *ConflictError) and persists nothing.
	Append(ctx context.Context, aggregateID string, events []*Event) ([]int64, error)

	// AppendIdempotent behaves like Append, except a prior call with the
	// same commandID short-circuits to the positions assigned the first
	// time, without re-appending. alreadyProcessed reports which case ran.
	AppendIdempotent(ctx context.Context, aggregateID string, events []*Event, commandID string) (positions []int64, alreadyProcessed bool, err error)

	// Load returns events for aggregateID with version > fromVersion, ordered
	// by version ascending.
	Load(ctx context.Context, aggregateID string, fromVersion int) ([]*Event, error)

	// LoadAll returns events whose AggregateType matches, with position >
	// afterPosition, ordered by position ascending.
	LoadAll(ctx context.Context, aggregateType string, afterPosition int64) ([]*Event, error)

	// LoadAllEvents returns the full global stream after afterPosition,
	// ordered by position ascending.
	LoadAllEvents(ctx context.Context, afterPosition int64) ([]*Event, error)

	// Position returns the largest position assigned so far, or 0 if the
	// store is empty.
	Position(ctx context.Context) (int64, error)

	// CreateSnapshot reconstructs aggregateID and persists a Snapshot at its
	// current version. Returns (nil, nil) if the aggregate has no events.
	CreateSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// LoadSnapshot returns the highest-version snapshot for aggregateID, or
	// ErrSnapshotNotFound if none exists.
	LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// Reconstruct rebuilds an aggregate per §4.1: latest snapshot (if any)
	// seeds state/version, then events after that version are replayed in
	// order. aggregateType selects the AggregateFactory to use.
	Reconstruct(ctx context.Context, aggregateID, aggregateType string) (Aggregate, error)

	// RegisterAggregateFactory tells the store how to materialize
	// aggregates of aggregateType during Reconstruct (§4.1 "Aggregate Factory").
	RegisterAggregateFactory(aggregateType string, factory AggregateFactory)

	// Statistics summarizes the log for the Facade (§4.5).
	Statistics(ctx context.Context) (*Statistics, error)

	// History returns every event for aggregateID ordered by version, for
	// the Facade's get_aggregate_history convenience query.
	History(ctx context.Context, aggregateID string) ([]*Event, error)

	// Close releases underlying storage resources.
	Close() error
}

// ProjectionStore persists a projection's (state, position) cursor so the
// ProjectionManager can resume across restarts (§4.3, §6.1 "projections" table).
type ProjectionStore interface {
	// Load returns the persisted state and position for name. found is
	// false if no row exists yet.
	Load(ctx context.Context, name string) (state State, position int64, found bool, err error)

	// Save atomically persists state and position together (§4.3 failure
	// semantics: state and cursor must commit as one unit).
	Save(ctx context.Context, name string, state State, position int64) error
}

// CommandLogStore persists the command_log audit table the Command Bus
// writes to on every dispatch (§3.4, §4.4).
type CommandLogStore interface {
	RecordPending(ctx context.Context, rec *CommandRecord) error
	RecordOutcome(ctx context.Context, id string, status CommandStatus, result map[string]any, errMsg string) error
	Get(ctx context.Context, id string) (*CommandRecord, error)
}
