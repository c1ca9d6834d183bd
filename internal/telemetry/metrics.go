// Package telemetry wires an in-process OpenTelemetry meter for the
// engine's internal operations (append latency, dispatch outcomes,
// projection lag). It never configures an exporter — shipping metrics
// somewhere is the embedding host's concern (§1 scope cut); this package
// only creates the instruments, and NewMeterProvider hands the host the
// ManualReader it can collect from.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

// Metrics holds the instruments the Event Store, Command Bus and
// Projection Manager record into.
type Metrics struct {
	AppendDuration   metric.Float64Histogram
	AppendTotal      metric.Int64Counter
	AppendConflicts  metric.Int64Counter
	DispatchTotal    metric.Int64Counter
	DispatchDuration metric.Float64Histogram
	ProjectionLag    metric.Int64Gauge
	SnapshotsTaken   metric.Int64Counter
}

// NewMeterProvider returns a manual-reader-backed provider suitable for an
// embedded engine with no external metrics pipeline; the host can still
// pull current values through reader.Collect for its own export loop.
func NewMeterProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return provider, reader
}

// New creates every instrument against the given meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.AppendDuration, err = meter.Float64Histogram("eventstore.append.duration",
		metric.WithDescription("Event store append latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: append.duration: %w", err)
	}
	if m.AppendTotal, err = meter.Int64Counter("eventstore.append.total",
		metric.WithDescription("Total events appended")); err != nil {
		return nil, fmt.Errorf("telemetry: append.total: %w", err)
	}
	if m.AppendConflicts, err = meter.Int64Counter("eventstore.append.conflicts",
		metric.WithDescription("Version conflicts rejected on append")); err != nil {
		return nil, fmt.Errorf("telemetry: append.conflicts: %w", err)
	}
	if m.DispatchTotal, err = meter.Int64Counter("commandbus.dispatch.total",
		metric.WithDescription("Commands dispatched, by outcome status")); err != nil {
		return nil, fmt.Errorf("telemetry: dispatch.total: %w", err)
	}
	if m.DispatchDuration, err = meter.Float64Histogram("commandbus.dispatch.duration",
		metric.WithDescription("Command dispatch latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: dispatch.duration: %w", err)
	}
	if m.ProjectionLag, err = meter.Int64Gauge("projection.lag",
		metric.WithDescription("Events between a projection's cursor and the store's global position")); err != nil {
		return nil, fmt.Errorf("telemetry: projection.lag: %w", err)
	}
	if m.SnapshotsTaken, err = meter.Int64Counter("eventstore.snapshots.total",
		metric.WithDescription("Snapshots persisted")); err != nil {
		return nil, fmt.Errorf("telemetry: snapshots.total: %w", err)
	}

	return m, nil
}

// RecordAppend is nil-safe so call sites don't have to guard on whether
// metrics were configured.
func (m *Metrics) RecordAppend(ctx context.Context, aggregateType string, count int, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("aggregate_type", aggregateType))
	m.AppendDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		if errors.Is(err, eventsourcing.ErrVersionConflict) {
			m.AppendConflicts.Add(ctx, 1, attrs)
		}
		return
	}
	m.AppendTotal.Add(ctx, int64(count), attrs)
}

func (m *Metrics) RecordDispatch(ctx context.Context, commandType, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("command_type", commandType),
		attribute.String("status", status),
	)
	m.DispatchTotal.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) RecordProjectionLag(ctx context.Context, name string, lag int64) {
	if m == nil {
		return
	}
	m.ProjectionLag.Record(ctx, lag, metric.WithAttributes(attribute.String("projection", name)))
}

func (m *Metrics) RecordSnapshot(ctx context.Context, aggregateType string) {
	if m == nil {
		return
	}
	m.SnapshotsTaken.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate_type", aggregateType)))
}
