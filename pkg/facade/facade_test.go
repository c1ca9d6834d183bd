package facade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/commandbus"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/facade"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/projection"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/store/sqlite"
)

type widget struct {
	eventsourcing.BaseAggregate
}

func newWidget(id string) eventsourcing.Aggregate {
	return &widget{BaseAggregate: eventsourcing.NewBaseAggregate(id, "Widget")}
}

func newTestFacade(t *testing.T) *facade.Facade {
	t.Helper()
	store, err := sqlite.NewEventStore(sqlite.WithMemoryDatabase(), sqlite.WithWALMode(false))
	require.NoError(t, err)
	store.RegisterAggregateFactory("Widget", newWidget)
	t.Cleanup(func() { store.Close() })

	log := sqlite.NewCommandLogStore(store)
	bus := commandbus.New(store, log)
	bus.Register("CreateWidget", func(ctx context.Context, cmd *eventsourcing.Command, s eventsourcing.EventStore) (map[string]any, error) {
		agg := newWidget(cmd.Payload["widget_id"].(string))
		evt, err := eventsourcing.Raise(agg, "Created", nil, cmd.ID)
		if err != nil {
			return nil, err
		}
		if _, err := s.Append(ctx, agg.ID(), []*eventsourcing.Event{evt}); err != nil {
			return nil, err
		}
		return map[string]any{"aggregate_id": agg.ID(), "aggregate_type": "Widget"}, nil
	})

	projections := sqlite.NewProjectionStore(store)
	manager := projection.New(store, projections)

	return facade.New(store, bus, manager, nil)
}

func TestFacadeDispatchCommandDelegatesToCommandBus(t *testing.T) {
	eng := newTestFacade(t)
	outcome := eng.DispatchCommand(context.Background(), eventsourcing.NewCommand("CreateWidget", map[string]any{"widget_id": "w-1"}, "tester"))
	assert.Equal(t, eventsourcing.CommandStatusOK, outcome.Status)
}

func TestFacadeGetAggregateHistoryReturnsAppendedEvents(t *testing.T) {
	eng := newTestFacade(t)
	eng.DispatchCommand(context.Background(), eventsourcing.NewCommand("CreateWidget", map[string]any{"widget_id": "w-1"}, "tester"))

	history, err := eng.GetAggregateHistory(context.Background(), "w-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Created", history[0].EventType)
}

func TestFacadeStatisticsReflectsDispatchedCommands(t *testing.T) {
	eng := newTestFacade(t)
	eng.DispatchCommand(context.Background(), eventsourcing.NewCommand("CreateWidget", map[string]any{"widget_id": "w-1"}, "tester"))

	stats, err := eng.Statistics(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalEvents)
	assert.EqualValues(t, 1, stats.CommandsByStatus[eventsourcing.CommandStatusOK])
}

func TestFacadeDispatchWithRetryStopsOnNonConflictFailure(t *testing.T) {
	eng := newTestFacade(t)
	attempts := 0
	outcome := eng.DispatchWithRetry(context.Background(), "w-1", 3, func(attempt int) (*eventsourcing.Command, error) {
		attempts++
		return eventsourcing.NewCommand("Unregistered", nil, "tester"), nil
	})
	assert.Equal(t, eventsourcing.CommandStatusError, outcome.Status)
	assert.Equal(t, 1, attempts, "a non-conflict failure must not be retried")
}
