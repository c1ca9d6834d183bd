package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/projection"
)

func TestTickerServiceAdvancesOnScheduleAndReportsHealthy(t *testing.T) {
	ctx := context.Background()
	manager, store := newTestManager(t)
	require.NoError(t, manager.Register(ctx, countingProjection()))

	evt, err := eventsourcing.NewEvent("w-1", "Widget", "Created", nil, 1, "", nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, "w-1", []*eventsourcing.Event{evt})
	require.NoError(t, err)

	svc := projection.NewTickerService(manager, 10*time.Millisecond, nil)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	assert.Eventually(t, func() bool {
		state, err := manager.QueryProjection("widget_count")
		return err == nil && state["count"] == 1
	}, time.Second, 5*time.Millisecond, "ticker should advance the projection without a manual Advance")
	assert.Eventually(t, func() bool {
		return svc.HealthCheck(ctx) == nil
	}, time.Second, 5*time.Millisecond, "ticker should report healthy once it has ticked")
}

func TestTickerServiceHealthCheckToleratesIntentionalStop(t *testing.T) {
	manager, _ := newTestManager(t)
	svc := projection.NewTickerService(manager, time.Millisecond, nil)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Stop(context.Background()))
	assert.NoError(t, svc.HealthCheck(context.Background()), "an intentional Stop is not an unhealthy exit")
}
