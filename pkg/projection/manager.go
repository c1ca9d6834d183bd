// Package projection implements the Projection Manager of the engine
// (component D): it drives registered eventsourcing.Projection handlers
// over the global event stream and persists their (state, position)
// cursor through an eventsourcing.ProjectionStore.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/internal/telemetry"
	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

// Manager owns every registered projection's runtime state and drives
// Advance/AdvanceAll against an EventStore + ProjectionStore pair.
type Manager struct {
	mu          sync.RWMutex
	store       eventsourcing.EventStore
	projections eventsourcing.ProjectionStore
	registry    map[string]*registered
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

type registered struct {
	projection *eventsourcing.Projection
	state      eventsourcing.State
	position   int64
}

// New builds a Manager against the given event log and projection cursor store.
func New(store eventsourcing.EventStore, projections eventsourcing.ProjectionStore, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		projections: projections,
		registry:    make(map[string]*registered),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches an otel-backed metrics recorder.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Register adds p to the manager, loading its persisted cursor if one
// exists (§4.3). Calling Register again for an already-registered name
// replaces its handler table but keeps the persisted cursor.
func (m *Manager) Register(ctx context.Context, p *eventsourcing.Projection) error {
	state, position, found, err := m.projections.Load(ctx, p.Name())
	if err != nil {
		return fmt.Errorf("projection: load cursor for %s: %w", p.Name(), err)
	}
	if !found {
		state = eventsourcing.State{}
		position = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[p.Name()] = &registered{projection: p, state: state, position: position}
	return nil
}

// RebuildProjection resets name's cursor to zero and replays the entire
// stream from the beginning, per §4.3's rebuild semantics: deterministic
// because Advance never reorders events and handlers are pure over state.
// It returns the count of events observed (not just handled), matching
// spec.md's rebuild_projection(name) -> int (events processed) (§4.3, §8
// scenario S3).
func (m *Manager) RebuildProjection(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	r, ok := m.registry[name]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", eventsourcing.ErrProjectionNotFound, name)
	}
	r.state = eventsourcing.State{}
	r.position = 0
	m.mu.Unlock()

	if err := m.projections.Save(ctx, name, eventsourcing.State{}, 0); err != nil {
		return 0, fmt.Errorf("projection: reset cursor for %s: %w", name, err)
	}
	return m.advanceOne(ctx, name, r)
}

// Advance drives the named projection forward to the store's current
// global position. It stops and returns the first handler error without
// persisting the cursor past the failing event, so a retried Advance
// re-delivers exactly the event that failed (§4.3 failure semantics). The
// returned int is the count of events observed before any such error, per
// spec.md's advance(name) -> int (§4.3).
func (m *Manager) Advance(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	r, ok := m.registry[name]
	m.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", eventsourcing.ErrProjectionNotFound, name)
	}
	return m.advanceOne(ctx, name, r)
}

// AdvanceAll advances every registered projection and returns, per name,
// the count of events processed and any error encountered; a failed
// projection's count still reflects how far it got before its error. One
// projection's failure never blocks another's progress.
func (m *Manager) AdvanceAll(ctx context.Context) map[string]ProjectionResult {
	m.mu.RLock()
	names := make([]string, 0, len(m.registry))
	for name := range m.registry {
		names = append(names, name)
	}
	m.mu.RUnlock()

	results := make(map[string]ProjectionResult, len(names))
	for _, name := range names {
		processed, err := m.Advance(ctx, name)
		results[name] = ProjectionResult{Processed: processed, Err: err}
	}
	return results
}

// ProjectionResult is AdvanceAll's per-projection outcome: how many events
// it processed and, if it stopped early, why.
type ProjectionResult struct {
	Processed int
	Err       error
}

func (m *Manager) advanceOne(ctx context.Context, name string, r *registered) (int, error) {
	m.mu.Lock()
	fromPosition := r.position
	m.mu.Unlock()

	events, err := m.store.LoadAllEvents(ctx, fromPosition)
	if err != nil {
		return 0, fmt.Errorf("projection: load events after %d: %w", fromPosition, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	processed := 0
	for _, e := range events {
		if handler, ok := r.projection.HandlerFor(e.EventType); ok {
			if r.state == nil {
				r.state = eventsourcing.State{}
			}
			var failure any
			func() {
				defer func() { failure = recover() }()
				handler(r.state, e)
			}()
			if failure != nil {
				return processed, fmt.Errorf("projection: %s handler for %s failed at position %d: %v", name, e.EventType, e.Position, failure)
			}
		}
		// The cursor advances over every event visited, handled or not —
		// a projection only subscribing to one event type must still skip
		// past the rest of the stream (§4.3).
		r.position = e.Position
		if err := m.projections.Save(ctx, name, r.state, r.position); err != nil {
			return processed, fmt.Errorf("projection: persist cursor for %s at %d: %w", name, r.position, err)
		}
		processed++
	}

	if m.store != nil {
		if latest, err := m.store.Position(ctx); err == nil {
			m.metrics.RecordProjectionLag(ctx, name, latest-r.position)
		}
	}
	return processed, nil
}

// QueryProjection returns a read-only copy of name's current state.
func (m *Manager) QueryProjection(name string) (eventsourcing.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", eventsourcing.ErrProjectionNotFound, name)
	}
	out := make(eventsourcing.State, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out, nil
}
