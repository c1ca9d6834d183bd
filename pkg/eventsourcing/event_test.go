package eventsourcing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

func TestNewEventAssignsIDAndTimestamp(t *testing.T) {
	evt, err := eventsourcing.NewEvent("agg-1", "Widget", "Created", eventsourcing.Payload{"name": "gadget"}, 1, "cmd-1", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "agg-1", evt.AggregateID)
	assert.Equal(t, "Widget", evt.AggregateType)
	assert.Equal(t, "Created", evt.EventType)
	assert.Equal(t, 1, evt.Version)
	assert.Equal(t, "cmd-1", evt.CausedBy)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNewEventRejectsMissingRequiredFields(t *testing.T) {
	_, err := eventsourcing.NewEvent("", "Widget", "Created", nil, 1, "", nil)
	assert.ErrorIs(t, err, eventsourcing.ErrSerialization)
}

func TestEventEqualByID(t *testing.T) {
	a, err := eventsourcing.NewEvent("agg-1", "Widget", "Created", nil, 1, "", nil)
	require.NoError(t, err)
	b := a.Clone()

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(nil))

	c, err := eventsourcing.NewEvent("agg-1", "Widget", "Created", nil, 1, "", nil)
	require.NoError(t, err)
	assert.False(t, a.Equal(c), "two separately constructed events must not be equal even with identical fields")
}

func TestEventCloneIsIndependent(t *testing.T) {
	original, err := eventsourcing.NewEvent("agg-1", "Widget", "Created", eventsourcing.Payload{"name": "gadget"}, 1, "", nil)
	require.NoError(t, err)

	clone := original.Clone()
	clone.Payload["name"] = "mutated"

	assert.Equal(t, "gadget", original.Payload["name"])
	assert.Equal(t, "mutated", clone.Payload["name"])
}
