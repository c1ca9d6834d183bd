package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/store/sqlite"
)

type widget struct {
	eventsourcing.BaseAggregate
	Name string
}

func newWidget(id string) eventsourcing.Aggregate {
	return &widget{BaseAggregate: eventsourcing.NewBaseAggregate(id, "Widget")}
}

func (w *widget) Apply(event *eventsourcing.Event) error {
	if name, ok := event.Payload["name"].(string); ok {
		w.Name = name
	}
	w.Merge(event.Payload)
	w.Advance(event.Version)
	return nil
}

func newTestStore(t *testing.T) *sqlite.EventStore {
	t.Helper()
	store, err := sqlite.NewEventStore(sqlite.WithMemoryDatabase(), sqlite.WithWALMode(false))
	require.NoError(t, err)
	store.RegisterAggregateFactory("Widget", newWidget)
	t.Cleanup(func() { store.Close() })
	return store
}

func mustEvent(t *testing.T, aggregateID string, version int, payload eventsourcing.Payload) *eventsourcing.Event {
	t.Helper()
	evt, err := eventsourcing.NewEvent(aggregateID, "Widget", "Named", payload, version, "", nil)
	require.NoError(t, err)
	return evt
}

func TestAppendAssignsContiguousPositions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	e2 := mustEvent(t, "w-1", 2, eventsourcing.Payload{"name": "second"})

	positions, err := store.Append(ctx, "w-1", []*eventsourcing.Event{e1, e2})
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Less(t, positions[0], positions[1])
}

func TestAppendRejectsNonSequentialVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	_, err := store.Append(ctx, "w-1", []*eventsourcing.Event{e1})
	require.NoError(t, err)

	// Skips straight to version 3 instead of 2: must be rejected (invariant I1).
	e3 := mustEvent(t, "w-1", 3, eventsourcing.Payload{"name": "third"})
	_, err = store.Append(ctx, "w-1", []*eventsourcing.Event{e3})
	assert.ErrorIs(t, err, eventsourcing.ErrVersionConflict)

	var conflict *eventsourcing.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 2, conflict.ExpectedVersion)
	assert.Equal(t, 3, conflict.ActualVersion)
}

func TestAppendIdempotentShortCircuitsOnRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	positions, already, err := store.AppendIdempotent(ctx, "w-1", []*eventsourcing.Event{e1}, "cmd-1")
	require.NoError(t, err)
	assert.False(t, already)

	// Same commandID retried must not append again.
	retryPositions, already, err := store.AppendIdempotent(ctx, "w-1", []*eventsourcing.Event{e1}, "cmd-1")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, positions, retryPositions)

	events, err := store.Load(ctx, "w-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReconstructReplaysEventsInOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	e2 := mustEvent(t, "w-1", 2, eventsourcing.Payload{"name": "second"})
	_, err := store.Append(ctx, "w-1", []*eventsourcing.Event{e1, e2})
	require.NoError(t, err)

	agg, err := store.Reconstruct(ctx, "w-1", "Widget")
	require.NoError(t, err)
	w := agg.(*widget)
	assert.Equal(t, "second", w.Name)
	assert.Equal(t, 2, w.Version())
}

func TestReconstructUnknownAggregateReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Reconstruct(ctx, "missing", "Widget")
	assert.ErrorIs(t, err, eventsourcing.ErrAggregateNotFound)
}

func TestSnapshotSeedsReconstructAndSkipsPriorEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	e2 := mustEvent(t, "w-1", 2, eventsourcing.Payload{"name": "second"})
	_, err := store.Append(ctx, "w-1", []*eventsourcing.Event{e1, e2})
	require.NoError(t, err)

	snap, err := store.CreateSnapshot(ctx, "w-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, "second", snap.State["name"])

	e3 := mustEvent(t, "w-1", 3, eventsourcing.Payload{"name": "third"})
	_, err = store.Append(ctx, "w-1", []*eventsourcing.Event{e3})
	require.NoError(t, err)

	agg, err := store.Reconstruct(ctx, "w-1", "Widget")
	require.NoError(t, err)
	w := agg.(*widget)
	assert.Equal(t, "third", w.Name)
	assert.Equal(t, 3, w.Version())
}

func TestLoadSnapshotReturnsNotFoundWhenNoneExists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.LoadSnapshot(ctx, "never-snapshotted")
	assert.ErrorIs(t, err, eventsourcing.ErrSnapshotNotFound)
}

func TestStatisticsSummarizesTheLog(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	e2 := mustEvent(t, "w-2", 1, eventsourcing.Payload{"name": "second"})
	_, err := store.Append(ctx, "w-1", []*eventsourcing.Event{e1})
	require.NoError(t, err)
	_, err = store.Append(ctx, "w-2", []*eventsourcing.Event{e2})
	require.NoError(t, err)

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalEvents)
	assert.EqualValues(t, 2, stats.ByEventType["Named"])
	assert.EqualValues(t, 2, stats.ByAggregateType["Widget"])
}

func TestPositionTracksGlobalOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	position, err := store.Position(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, position)

	e1 := mustEvent(t, "w-1", 1, eventsourcing.Payload{"name": "first"})
	_, err = store.Append(ctx, "w-1", []*eventsourcing.Event{e1})
	require.NoError(t, err)

	position, err = store.Position(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, position)
}
