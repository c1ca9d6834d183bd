// Package facade composes the Event Store, Command Bus and Projection
// Manager into the single entry point an embedding host talks to
// (component F, §4.5), plus the supplemented retry-on-conflict and
// auto-snapshot conveniences recorded in SPEC_FULL.md.
package facade

import (
	"context"
	"strings"
	"time"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/projection"
)

// Bus is the minimal surface Facade needs from a command bus, declared
// here (rather than importing pkg/commandbus) so the facade depends only
// on eventsourcing and its own small interfaces.
type Bus interface {
	Dispatch(ctx context.Context, cmd *eventsourcing.Command) *eventsourcing.DispatchOutcome
}

// Projector is the minimal surface Facade needs from a projection manager.
type Projector interface {
	Register(ctx context.Context, p *eventsourcing.Projection) error
	RebuildProjection(ctx context.Context, name string) (int, error)
	Advance(ctx context.Context, name string) (int, error)
	AdvanceAll(ctx context.Context) map[string]projection.ProjectionResult
	QueryProjection(name string) (eventsourcing.State, error)
}

// SnapshotStrategyFor resolves the snapshot cadence policy for an
// aggregate type; a nil return disables automatic snapshotting for it.
type SnapshotStrategyFor func(aggregateType string) eventsourcing.SnapshotStrategy

// Facade is the engine's public surface.
type Facade struct {
	Store     eventsourcing.EventStore
	Bus       Bus
	Projector Projector

	snapshotOf       SnapshotStrategyFor
	eventsSince      map[string]int // aggregateID -> successful dispatches naming it since its last snapshot
}

// New builds a Facade over store, bus and projector. snapshotStrategy may
// be nil to disable automatic snapshotting entirely.
func New(store eventsourcing.EventStore, bus Bus, projector Projector, snapshotStrategy SnapshotStrategyFor) *Facade {
	return &Facade{
		Store:       store,
		Bus:         bus,
		Projector:   projector,
		snapshotOf:  snapshotStrategy,
		eventsSince: make(map[string]int),
	}
}

// DispatchCommand sends cmd through the Command Bus and, if it produced
// events for an aggregate whose snapshot strategy says it's due, takes a
// fresh snapshot (§9 supplemented feature) before returning the outcome.
func (f *Facade) DispatchCommand(ctx context.Context, cmd *eventsourcing.Command) *eventsourcing.DispatchOutcome {
	outcome := f.Bus.Dispatch(ctx, cmd)
	if outcome.Status != eventsourcing.CommandStatusOK {
		return outcome
	}

	aggregateID, aggregateType := aggregateRefFromResult(outcome.Result)
	if aggregateID == "" || f.snapshotOf == nil {
		return outcome
	}
	strategy := f.snapshotOf(aggregateType)
	if strategy == nil {
		return outcome
	}

	f.eventsSince[aggregateID]++
	if strategy.ShouldSnapshot(0, f.eventsSince[aggregateID]) {
		if _, err := f.Store.CreateSnapshot(ctx, aggregateID); err == nil {
			f.eventsSince[aggregateID] = 0
		}
	}
	return outcome
}

// aggregateRefFromResult reads the conventional "aggregate_id"/"aggregate_type"
// keys a command handler's result map may set, so the facade can drive
// auto-snapshotting without handlers depending on facade internals.
func aggregateRefFromResult(result map[string]any) (id, aggregateType string) {
	if result == nil {
		return "", ""
	}
	if v, ok := result["aggregate_id"].(string); ok {
		id = v
	}
	if v, ok := result["aggregate_type"].(string); ok {
		aggregateType = v
	}
	return id, aggregateType
}

// DispatchWithRetry runs build, which constructs a *Command from the
// current snapshot of aggregateID's state, dispatches it, and retries up
// to maxRetries times with short exponential backoff whenever the
// resulting outcome reports ErrVersionConflict (§5 "callers retry by
// reloading the aggregate and re-issuing the command").
func (f *Facade) DispatchWithRetry(ctx context.Context, aggregateID string, maxRetries int, build func(attempt int) (*eventsourcing.Command, error)) *eventsourcing.DispatchOutcome {
	var last *eventsourcing.DispatchOutcome
	for attempt := 0; attempt <= maxRetries; attempt++ {
		cmd, err := build(attempt)
		if err != nil {
			return &eventsourcing.DispatchOutcome{Status: eventsourcing.CommandStatusError, Message: err.Error()}
		}

		outcome := f.DispatchCommand(ctx, cmd)
		if outcome.Status == eventsourcing.CommandStatusOK {
			return outcome
		}
		// DispatchOutcome.Message is a string, not an error (§4.4 swallows
		// handler errors into the outcome), so a conflict is recognized by
		// matching it back against the sentinel's own text.
		if !strings.Contains(outcome.Message, eventsourcing.ErrVersionConflict.Error()) {
			return outcome
		}

		last = outcome
		if attempt == maxRetries {
			break
		}
		time.Sleep(time.Duration(10*(1<<uint(attempt))) * time.Millisecond)
	}
	return last
}

// RebuildProjection delegates to the Projection Manager, returning the
// count of events processed (§4.3 rebuild_projection(name) -> int).
func (f *Facade) RebuildProjection(ctx context.Context, name string) (int, error) {
	return f.Projector.RebuildProjection(ctx, name)
}

// QueryProjection delegates to the Projection Manager.
func (f *Facade) QueryProjection(name string) (eventsourcing.State, error) {
	return f.Projector.QueryProjection(name)
}

// AdvanceProjections delegates to the Projection Manager's AdvanceAll.
func (f *Facade) AdvanceProjections(ctx context.Context) map[string]projection.ProjectionResult {
	return f.Projector.AdvanceAll(ctx)
}

// GetAggregateHistory returns every persisted event for aggregateID, oldest first.
func (f *Facade) GetAggregateHistory(ctx context.Context, aggregateID string) ([]*eventsourcing.Event, error) {
	return f.Store.History(ctx, aggregateID)
}

// Statistics returns the engine's summary view (§4.5).
func (f *Facade) Statistics(ctx context.Context) (*eventsourcing.Statistics, error) {
	return f.Store.Statistics(ctx)
}
