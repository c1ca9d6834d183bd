// Package sqlite is a SQLite-backed implementation of
// eventsourcing.EventStore, eventsourcing.ProjectionStore and
// eventsourcing.CommandLogStore, using modernc.org/sqlite (pure Go, no
// CGo) as the driver and hand-written database/sql queries in place of
// the original's generated query layer (see DESIGN.md).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/internal/telemetry"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

// EventStore is the SQLite-backed event log. A single *sql.DB is shared by
// every method; mu serializes the read-check-write sequence Append needs
// for its optimistic concurrency check, since SQLite itself only
// serializes at the statement level.
type EventStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	factories *eventsourcing.FactoryRegistry
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

type config struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
	logger       *slog.Logger
	metrics      *telemetry.Metrics
}

func defaultConfig() config {
	return config{
		dsn:          "eventstore.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
		logger:       slog.Default(),
	}
}

// Option configures an EventStore.
type Option func(*config)

// WithDSN sets the data source name (file path, or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *config) { c.dsn = dsn }
}

// WithMemoryDatabase configures an in-memory database, for tests.
func WithMemoryDatabase() Option {
	return func(c *config) { c.dsn = ":memory:" }
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(c *config) { c.maxIdleConns = n }
}

// WithWALMode toggles write-ahead logging. Ignored for :memory: databases.
func WithWALMode(enabled bool) Option {
	return func(c *config) { c.walMode = enabled }
}

// WithAutoMigrate toggles running pending migrations on construction.
func WithAutoMigrate(enabled bool) Option {
	return func(c *config) { c.autoMigrate = enabled }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics attaches an otel-backed metrics recorder. Optional — a nil
// *telemetry.Metrics is safe to record into.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// NewEventStore opens (and by default migrates) a SQLite-backed event store.
func NewEventStore(opts ...Option) (*EventStore, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.dsn, err)
	}

	if cfg.dsn == ":memory:" {
		// Each connection to ":memory:" gets its own isolated database, so
		// the pool must be pinned to a single connection to share state.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.maxOpenConns)
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &EventStore{
		db:        db,
		factories: eventsourcing.NewFactoryRegistry(),
		logger:    cfg.logger,
		metrics:   cfg.metrics,
	}

	if cfg.walMode && cfg.dsn != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL; PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL mode: %w", err)
		}
	}

	if cfg.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return store, nil
}

// RegisterAggregateFactory implements eventsourcing.EventStore.
func (s *EventStore) RegisterAggregateFactory(aggregateType string, factory eventsourcing.AggregateFactory) {
	s.factories.Register(aggregateType, factory)
}

// Close implements eventsourcing.EventStore.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// currentVersion returns the highest version recorded for aggregateID, 0 if
// none exist. Caller must hold s.mu.
func currentVersion(q querier, ctx context.Context, aggregateID string) (int, error) {
	var version sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT MAX(version) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so helpers can run
// inside or outside a transaction without duplicating logic.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append implements eventsourcing.EventStore (invariants I1, I2).
func (s *EventStore) Append(ctx context.Context, aggregateID string, events []*eventsourcing.Event) ([]int64, error) {
	start := time.Now()
	positions, _, err := s.appendInternal(ctx, aggregateID, events, "")
	aggType := ""
	if len(events) > 0 {
		aggType = events[0].AggregateType
	}
	s.metrics.RecordAppend(ctx, aggType, len(events), time.Since(start), err)
	return positions, err
}

// AppendIdempotent implements eventsourcing.EventStore.
func (s *EventStore) AppendIdempotent(ctx context.Context, aggregateID string, events []*eventsourcing.Event, commandID string) ([]int64, bool, error) {
	start := time.Now()
	positions, already, err := s.appendInternal(ctx, aggregateID, events, commandID)
	aggType := ""
	if len(events) > 0 {
		aggType = events[0].AggregateType
	}
	s.metrics.RecordAppend(ctx, aggType, len(events), time.Since(start), err)
	return positions, already, err
}

func (s *EventStore) appendInternal(ctx context.Context, aggregateID string, events []*eventsourcing.Event, commandID string) ([]int64, bool, error) {
	if len(events) == 0 {
		return nil, false, fmt.Errorf("%w: %w: empty batch", eventsourcing.ErrVersionConflict, eventsourcing.ErrInvalidEvents)
	}
	for _, e := range events {
		if e.AggregateID != aggregateID {
			return nil, false, fmt.Errorf("%w: %w: event for aggregate %q in batch for %q", eventsourcing.ErrVersionConflict, eventsourcing.ErrInvalidEvents, e.AggregateID, aggregateID)
		}
	}
	for i := 1; i < len(events); i++ {
		if events[i].Version != events[i-1].Version+1 {
			return nil, false, fmt.Errorf("%w: %w: non-contiguous versions in batch", eventsourcing.ErrVersionConflict, eventsourcing.ErrInvalidEvents)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if commandID != "" {
		if positions, ok, err := s.lookupProcessedCommand(ctx, commandID); err != nil {
			return nil, false, err
		} else if ok {
			return positions, true, nil
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: begin tx: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	current, err := currentVersion(tx, ctx, aggregateID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: read current version: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	if events[0].Version != current+1 {
		return nil, false, eventsourcing.NewConflictError(aggregateID, current+1, events[0].Version)
	}

	positions := make([]int64, 0, len(events))
	for _, e := range events {
		payloadJSON, err := marshalJSON(e.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("%w: payload: %v", eventsourcing.ErrSerialization, err)
		}
		metadataJSON, err := marshalJSON(e.Metadata)
		if err != nil {
			return nil, false, fmt.Errorf("%w: metadata: %v", eventsourcing.ErrSerialization, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_id, aggregate_type, event_type, payload, version, timestamp, caused_by, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateID, e.AggregateType, e.EventType, payloadJSON, e.Version,
			e.Timestamp.Format(time.RFC3339Nano), e.CausedBy, metadataJSON)
		if err != nil {
			return nil, false, fmt.Errorf("%w: insert event: %v", eventsourcing.ErrStoreUnavailable, err)
		}
		position, err := res.LastInsertId()
		if err != nil {
			return nil, false, fmt.Errorf("%w: last insert id: %v", eventsourcing.ErrStoreUnavailable, err)
		}
		e.Position = position
		positions = append(positions, position)
	}

	if commandID != "" {
		positionsJSON, _ := marshalJSON(positions)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_commands (command_id, aggregate_id, positions, processed_at) VALUES (?, ?, ?, ?)`,
			commandID, aggregateID, positionsJSON, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, false, fmt.Errorf("%w: record processed command: %v", eventsourcing.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: commit: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return positions, false, nil
}

func (s *EventStore) lookupProcessedCommand(ctx context.Context, commandID string) ([]int64, bool, error) {
	var positionsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT positions FROM processed_commands WHERE command_id = ?`, commandID).Scan(&positionsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: lookup processed command: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	var positions []int64
	if err := unmarshalJSON(positionsJSON, &positions); err != nil {
		return nil, false, fmt.Errorf("%w: decode processed positions: %v", eventsourcing.ErrSerialization, err)
	}
	return positions, true, nil
}

// Load implements eventsourcing.EventStore.
func (s *EventStore) Load(ctx context.Context, aggregateID string, fromVersion int) ([]*eventsourcing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload, version, timestamp, caused_by, metadata, position
		FROM events WHERE aggregate_id = ? AND version > ? ORDER BY version ASC`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return scanEvents(rows)
}

// LoadAll implements eventsourcing.EventStore.
func (s *EventStore) LoadAll(ctx context.Context, aggregateType string, afterPosition int64) ([]*eventsourcing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload, version, timestamp, caused_by, metadata, position
		FROM events WHERE aggregate_type = ? AND position > ? ORDER BY position ASC`, aggregateType, afterPosition)
	if err != nil {
		return nil, fmt.Errorf("%w: load all: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return scanEvents(rows)
}

// LoadAllEvents implements eventsourcing.EventStore.
func (s *EventStore) LoadAllEvents(ctx context.Context, afterPosition int64) ([]*eventsourcing.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, payload, version, timestamp, caused_by, metadata, position
		FROM events WHERE position > ? ORDER BY position ASC`, afterPosition)
	if err != nil {
		return nil, fmt.Errorf("%w: load all events: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return scanEvents(rows)
}

// History implements eventsourcing.EventStore.
func (s *EventStore) History(ctx context.Context, aggregateID string) ([]*eventsourcing.Event, error) {
	return s.Load(ctx, aggregateID, 0)
}

// Position implements eventsourcing.EventStore.
func (s *EventStore) Position(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var position sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM events`).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("%w: position: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return position.Int64, nil
}

func scanEvents(rows *sql.Rows) ([]*eventsourcing.Event, error) {
	defer rows.Close()
	var events []*eventsourcing.Event
	for rows.Next() {
		e := &eventsourcing.Event{}
		var payloadJSON, metadataJSON sql.NullString
		var timestamp string
		var causedBy sql.NullString
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &payloadJSON,
			&e.Version, &timestamp, &causedBy, &metadataJSON, &e.Position); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", eventsourcing.ErrStoreUnavailable, err)
		}
		e.CausedBy = causedBy.String
		ts, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: parse timestamp: %v", eventsourcing.ErrSerialization, err)
		}
		e.Timestamp = ts
		e.Payload = eventsourcing.Payload{}
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := unmarshalJSON(payloadJSON.String, &e.Payload); err != nil {
				return nil, fmt.Errorf("%w: decode payload: %v", eventsourcing.ErrSerialization, err)
			}
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := unmarshalJSON(metadataJSON.String, &e.Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode metadata: %v", eventsourcing.ErrSerialization, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	return events, nil
}

// CreateSnapshot implements eventsourcing.EventStore.
func (s *EventStore) CreateSnapshot(ctx context.Context, aggregateID string) (*eventsourcing.Snapshot, error) {
	events, err := s.History(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	aggregateType := events[0].AggregateType
	agg := s.factories.New(aggregateID, aggregateType)
	for _, e := range events {
		if err := agg.Apply(e); err != nil {
			return nil, fmt.Errorf("%w: replay for snapshot: %v", eventsourcing.ErrSerialization, err)
		}
	}

	snap := &eventsourcing.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       agg.Version(),
		State:         agg.State(),
		CreatedAt:     time.Now().UTC(),
	}

	stateJSON, err := marshalJSON(snap.State)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot state: %v", eventsourcing.ErrSerialization, err)
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET state = excluded.state, created_at = excluded.created_at`,
		snap.AggregateID, snap.AggregateType, snap.Version, stateJSON, snap.CreatedAt.Format(time.RFC3339Nano))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: persist snapshot: %v", eventsourcing.ErrStoreUnavailable, err)
	}

	s.metrics.RecordSnapshot(ctx, aggregateType)
	return snap, nil
}

// LoadSnapshot implements eventsourcing.EventStore.
func (s *EventStore) LoadSnapshot(ctx context.Context, aggregateID string) (*eventsourcing.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots WHERE aggregate_id = ? ORDER BY version DESC LIMIT 1`, aggregateID)

	var snap eventsourcing.Snapshot
	var stateJSON, createdAt string
	if err := row.Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &stateJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, eventsourcing.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("%w: load snapshot: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	snap.State = eventsourcing.State{}
	if err := unmarshalJSON(stateJSON, &snap.State); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot state: %v", eventsourcing.ErrSerialization, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: parse snapshot timestamp: %v", eventsourcing.ErrSerialization, err)
	}
	snap.CreatedAt = ts
	return &snap, nil
}

// Reconstruct implements eventsourcing.EventStore (§4.1).
func (s *EventStore) Reconstruct(ctx context.Context, aggregateID, aggregateType string) (eventsourcing.Aggregate, error) {
	agg := s.factories.New(aggregateID, aggregateType)

	fromVersion := 0
	if snap, err := s.LoadSnapshot(ctx, aggregateID); err == nil {
		eventsourcing.Seed(agg, snap.Version, snap.State)
		fromVersion = snap.Version
	} else if err != eventsourcing.ErrSnapshotNotFound {
		return nil, err
	}

	events, err := s.Load(ctx, aggregateID, fromVersion)
	if err != nil {
		return nil, err
	}
	if fromVersion == 0 && len(events) == 0 {
		return nil, eventsourcing.ErrAggregateNotFound
	}
	for _, e := range events {
		if err := agg.Apply(e); err != nil {
			return nil, fmt.Errorf("%w: replay event %s: %v", eventsourcing.ErrSerialization, e.ID, err)
		}
	}
	return agg, nil
}

// Statistics implements eventsourcing.EventStore (§4.5).
func (s *EventStore) Statistics(ctx context.Context) (*eventsourcing.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &eventsourcing.Statistics{
		ByEventType:      map[string]int64{},
		ByAggregateType:  map[string]int64{},
		CommandsByStatus: map[eventsourcing.CommandStatus]int64{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(MAX(position), 0) FROM events`).
		Scan(&stats.TotalEvents, &stats.LatestPosition); err != nil {
		return nil, fmt.Errorf("%w: statistics totals: %v", eventsourcing.ErrStoreUnavailable, err)
	}

	if err := scanCounts(ctx, s.db, `SELECT event_type, COUNT(*) FROM events GROUP BY event_type`, func(k string, v int64) {
		stats.ByEventType[k] = v
	}); err != nil {
		return nil, err
	}
	if err := scanCounts(ctx, s.db, `SELECT aggregate_type, COUNT(*) FROM events GROUP BY aggregate_type`, func(k string, v int64) {
		stats.ByAggregateType[k] = v
	}); err != nil {
		return nil, err
	}
	if err := scanCounts(ctx, s.db, `SELECT status, COUNT(*) FROM command_log GROUP BY status`, func(k string, v int64) {
		stats.CommandsByStatus[eventsourcing.CommandStatus(k)] = v
	}); err != nil {
		return nil, err
	}

	return stats, nil
}

func scanCounts(ctx context.Context, q querier, query string, set func(string, int64)) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: %v", eventsourcing.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("%w: %v", eventsourcing.ErrStoreUnavailable, err)
		}
		set(key, count)
	}
	return rows.Err()
}
