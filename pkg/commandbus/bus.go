// Package commandbus implements the Command Bus (component E, §4.4): a
// registry of command-type handlers, dispatched with panic recovery,
// structured logging and audit persistence folded directly into Dispatch
// rather than kept as separate chained middleware (see DESIGN.md).
package commandbus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/internal/telemetry"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

// Bus is an in-memory command dispatcher over an eventsourcing.EventStore.
// Handlers append events to the store themselves (§4.4); the bus never
// does so on their behalf.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]eventsourcing.CommandHandler
	store    eventsourcing.EventStore
	log      eventsourcing.CommandLogStore
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// New builds a Bus dispatching against store and auditing to log.
func New(store eventsourcing.EventStore, log eventsourcing.CommandLogStore, opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string]eventsourcing.CommandHandler),
		store:    store,
		log:      log,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithMetrics attaches an otel-backed metrics recorder.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// Register associates a handler with a command type. Registering the same
// type twice replaces the prior handler, mirroring how a Projection's On
// treats repeated registration rather than panicking on collision.
func (b *Bus) Register(commandType string, handler eventsourcing.CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventsourcing.NormalizeKey(commandType)] = handler
}

// Dispatch runs cmd's registered handler and always returns a
// DispatchOutcome rather than a Go error (§4.4): a missing handler, a
// handler error, or a handler panic all become {"status":"error"} outcomes
// with the failure described in Message, after being logged and recorded
// to the command log.
func (b *Bus) Dispatch(ctx context.Context, cmd *eventsourcing.Command) *eventsourcing.DispatchOutcome {
	start := time.Now()

	if b.log != nil {
		rec := &eventsourcing.CommandRecord{
			ID: cmd.ID, CommandType: cmd.Type, Payload: cmd.Payload,
			IssuedBy: cmd.IssuedBy, IssuedAt: cmd.IssuedAt, Status: eventsourcing.CommandStatusPending,
		}
		if err := b.log.RecordPending(ctx, rec); err != nil {
			b.logger.ErrorContext(ctx, "failed to record pending command", slog.String("command_id", cmd.ID), slog.Any("error", err))
		}
	}

	b.logger.InfoContext(ctx, "dispatching command",
		slog.String("command_id", cmd.ID), slog.String("command_type", cmd.Type), slog.String("issued_by", cmd.IssuedBy))

	outcome := b.invoke(ctx, cmd)

	duration := time.Since(start)
	b.metrics.RecordDispatch(ctx, cmd.Type, string(outcome.Status), duration)

	if b.log != nil {
		if err := b.log.RecordOutcome(ctx, cmd.ID, outcome.Status, outcome.Result, outcome.Message); err != nil {
			b.logger.ErrorContext(ctx, "failed to record command outcome", slog.String("command_id", cmd.ID), slog.Any("error", err))
		}
	}

	if outcome.Status == eventsourcing.CommandStatusError {
		b.logger.ErrorContext(ctx, "command dispatch failed",
			slog.String("command_id", cmd.ID), slog.String("command_type", cmd.Type),
			slog.Int64("duration_ms", duration.Milliseconds()), slog.String("error", outcome.Message))
	} else {
		b.logger.InfoContext(ctx, "command dispatched",
			slog.String("command_id", cmd.ID), slog.String("command_type", cmd.Type),
			slog.Int64("duration_ms", duration.Milliseconds()))
	}

	return outcome
}

func (b *Bus) invoke(ctx context.Context, cmd *eventsourcing.Command) (outcome *eventsourcing.DispatchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "command handler panicked",
				slog.String("command_id", cmd.ID), slog.String("command_type", cmd.Type),
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			outcome = &eventsourcing.DispatchOutcome{
				Status:  eventsourcing.CommandStatusError,
				Message: fmt.Sprintf("handler panicked: %v", r),
			}
		}
	}()

	b.mu.RLock()
	handler, ok := b.handlers[eventsourcing.NormalizeKey(cmd.Type)]
	b.mu.RUnlock()
	if !ok {
		return &eventsourcing.DispatchOutcome{
			Status:  eventsourcing.CommandStatusError,
			Message: fmt.Sprintf("no handler for %s", cmd.Type),
		}
	}

	result, err := handler(ctx, cmd, b.store)
	if err != nil {
		return &eventsourcing.DispatchOutcome{Status: eventsourcing.CommandStatusError, Message: err.Error()}
	}
	return &eventsourcing.DispatchOutcome{Status: eventsourcing.CommandStatusOK, Result: result}
}
