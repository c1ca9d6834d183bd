package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/store/sqlite"
)

func TestCommandLogStoreRecordsPendingThenOutcome(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	commandLog := sqlite.NewCommandLogStore(store)

	rec := &eventsourcing.CommandRecord{
		ID: "cmd-1", CommandType: "OpenAccount", Payload: map[string]any{"owner": "ada"},
		IssuedBy: "tester", IssuedAt: time.Now().UTC(),
	}
	require.NoError(t, commandLog.RecordPending(ctx, rec))

	pending, err := commandLog.Get(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, eventsourcing.CommandStatusPending, pending.Status)

	require.NoError(t, commandLog.RecordOutcome(ctx, "cmd-1", eventsourcing.CommandStatusOK, map[string]any{"version": float64(1)}, ""))

	done, err := commandLog.Get(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, eventsourcing.CommandStatusOK, done.Status)
	assert.Equal(t, float64(1), done.Result["version"])
}

func TestCommandLogStoreGetUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	commandLog := sqlite.NewCommandLogStore(store)

	_, err := commandLog.Get(ctx, "does-not-exist")
	assert.Error(t, err)
}
