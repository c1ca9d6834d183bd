// Command eventsourcingd is a demonstration host for the engine: it wires
// a SQLite-backed EventStore, CommandBus and Projection Manager behind a
// Facade, registers the bundled account example, and runs the projection
// ticker as a managed background service via pkg/runner until an interrupt
// or termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/examples/account"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/internal/telemetry"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/commandbus"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/facade"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/projection"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/runner"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "eventstore.db", "path to the SQLite database file, or ':memory:'")
	tickInterval := flag.Duration("tick", 2*time.Second, "projection advance interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(*dbPath, *tickInterval, logger); err != nil {
		logger.Error("eventsourcingd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(dbPath string, tickInterval time.Duration, logger *slog.Logger) error {
	meterProvider, _ := telemetry.NewMeterProvider()
	defer meterProvider.Shutdown(context.Background())

	metrics, err := telemetry.New(meterProvider.Meter("eventsourcingd"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	store, err := sqlite.NewEventStore(
		sqlite.WithDSN(dbPath),
		sqlite.WithWALMode(true),
		sqlite.WithAutoMigrate(true),
		sqlite.WithLogger(logger),
		sqlite.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	store.RegisterAggregateFactory(account.AggregateType, account.New)

	commandLog := sqlite.NewCommandLogStore(store)
	bus := commandbus.New(store, commandLog, commandbus.WithLogger(logger), commandbus.WithMetrics(metrics))
	bus.Register(account.CommandOpen, account.OpenAccountHandler)
	bus.Register(account.CommandDeposit, account.DepositHandler)
	bus.Register(account.CommandWithdraw, account.WithdrawHandler)
	bus.Register(account.CommandClose, account.CloseAccountHandler)

	projectionStore := sqlite.NewProjectionStore(store)
	projector := projection.New(store, projectionStore, projection.WithLogger(logger), projection.WithMetrics(metrics))

	ctx := context.Background()
	if err := projector.Register(ctx, account.Projection()); err != nil {
		return fmt.Errorf("register projection: %w", err)
	}

	snapshotStrategy := eventsourcing.NewIntervalSnapshotStrategy(50)
	eng := facade.New(store, bus, projector, func(string) eventsourcing.SnapshotStrategy { return snapshotStrategy })

	logger.Info("eventsourcingd starting", slog.String("db", dbPath), slog.Duration("tick_interval", tickInterval))

	demo := eng.DispatchCommand(ctx, eventsourcing.NewCommand(account.CommandOpen, map[string]any{
		"account_id": "demo-account", "owner": "ada", "initial_balance": "100.00",
	}, "eventsourcingd"))
	logger.Info("seeded demo account", slog.Any("outcome", demo))

	r := runner.New([]runner.Service{
		projection.NewTickerService(projector, tickInterval, logger),
	}, runner.WithLogger(logger))

	return r.Run(ctx)
}
