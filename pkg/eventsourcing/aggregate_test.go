package eventsourcing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

type counter struct {
	eventsourcing.BaseAggregate
	Total int
}

func newCounter(id string) eventsourcing.Aggregate {
	return &counter{BaseAggregate: eventsourcing.NewBaseAggregate(id, "Counter")}
}

func (c *counter) Apply(event *eventsourcing.Event) error {
	switch event.EventType {
	case "Incremented":
		amount, _ := event.Payload["amount"].(float64)
		c.Total += int(amount)
	}
	c.Merge(event.Payload)
	c.Advance(event.Version)
	return nil
}

func TestRaiseAdvancesVersionAndInvokesOverride(t *testing.T) {
	agg := newCounter("c-1").(*counter)

	evt, err := eventsourcing.Raise(agg, "Incremented", eventsourcing.Payload{"amount": float64(3)}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, evt.Version)
	assert.Equal(t, 1, agg.Version())
	assert.Equal(t, 3, agg.Total)

	evt2, err := eventsourcing.Raise(agg, "Incremented", eventsourcing.Payload{"amount": float64(2)}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, evt2.Version)
	assert.Equal(t, 5, agg.Total)
}

func TestSeedPrimesVersionAndStateBeforeReplay(t *testing.T) {
	agg := newCounter("c-2").(*counter)

	eventsourcing.Seed(agg, 10, eventsourcing.State{"total": float64(7)})
	assert.Equal(t, 10, agg.Version())

	evt, err := eventsourcing.Raise(agg, "Incremented", eventsourcing.Payload{"amount": float64(1)}, "")
	require.NoError(t, err)
	assert.Equal(t, 11, evt.Version)
}

func TestFactoryRegistryFallsBackToBaseAggregate(t *testing.T) {
	registry := eventsourcing.NewFactoryRegistry()
	registry.Register("Counter", newCounter)

	agg := registry.New("c-3", "Counter")
	_, ok := agg.(*counter)
	assert.True(t, ok, "registered factory should be used for its aggregate type")

	fallback := registry.New("u-1", "Unregistered")
	assert.Equal(t, "Unregistered", fallback.Type())
	assert.Equal(t, 0, fallback.Version())
}

func TestBaseAggregateApplyMergesPayloadAndAdvancesVersion(t *testing.T) {
	base := eventsourcing.NewBaseAggregate("b-1", "Base")
	evt, err := eventsourcing.NewEvent("b-1", "Base", "SomethingHappened", eventsourcing.Payload{"key": "value"}, 1, "", nil)
	require.NoError(t, err)

	require.NoError(t, base.Apply(evt))
	assert.Equal(t, 1, base.Version())
	assert.Equal(t, "value", base.State()["key"])
}
