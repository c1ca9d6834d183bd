package eventsourcing

import (
	"fmt"
	"sync"
)

// Aggregate carries (id, type, version, state) and exposes the apply
// contract of §4.2. Domain-typed aggregates embed BaseAggregate for its
// bookkeeping and override Apply to implement event-type-specific
// transitions; the embedded default (BaseAggregate.Apply) copies every
// payload key into state, matching the source's "untyped default"
// behavior described in §4.1 "Aggregate Factory".
type Aggregate interface {
	ID() string
	Type() string
	Version() int
	State() State

	// Apply deterministically mutates state and sets version := event.Version.
	Apply(event *Event) error

	// seed primes state/version from a loaded snapshot before the store
	// replays the delta (§4.1 Reconstruct, step 2).
	seed(version int, state State)
}

// Raise is the raise_event operation of §4.2: it increments the
// aggregate's version, constructs an Event carrying that version, applies
// it through whichever Apply the concrete aggregate implements (Go
// interface dispatch, so a domain override of Apply is honored even though
// BaseAggregate itself cannot see it), and returns the event. Persistence
// of the returned event is the caller's responsibility.
//
// Invariant: on success, evt.Version == agg.Version() after Raise returns.
func Raise(agg Aggregate, eventType string, payload Payload, causedBy string) (*Event, error) {
	next := agg.Version() + 1
	evt, err := NewEvent(agg.ID(), agg.Type(), eventType, payload, next, causedBy, nil)
	if err != nil {
		return nil, err
	}
	if err := agg.Apply(evt); err != nil {
		return nil, err
	}
	if agg.Version() != evt.Version {
		return nil, fmt.Errorf("%w: Apply for event type %q did not advance version to %d (got %d)",
			ErrSerialization, eventType, evt.Version, agg.Version())
	}
	return evt, nil
}

// BaseAggregate is the concrete, embeddable implementation most of
// Aggregate's bookkeeping. Domain aggregates embed it by value:
//
//	type Account struct {
//	    eventsourcing.BaseAggregate
//	    Balance decimal.Decimal
//	}
//	func (a *Account) Apply(event *eventsourcing.Event) error { ... }
type BaseAggregate struct {
	id      string
	aggType string
	version int
	state   State
}

// NewBaseAggregate constructs the embeddable base for a fresh aggregate instance.
func NewBaseAggregate(id, aggregateType string) BaseAggregate {
	return BaseAggregate{id: id, aggType: aggregateType, version: 0, state: State{}}
}

func (a *BaseAggregate) ID() string   { return a.id }
func (a *BaseAggregate) Type() string { return a.aggType }
func (a *BaseAggregate) Version() int { return a.version }
func (a *BaseAggregate) State() State { return a.state }

func (a *BaseAggregate) seed(version int, state State) {
	a.version = version
	if state == nil {
		state = State{}
	}
	a.state = state
}

// Advance sets version, for use inside a domain Apply override after it
// has finished mutating state from event.Payload.
func (a *BaseAggregate) Advance(version int) {
	a.version = version
}

// Merge copies payload keys into state, for domain Apply overrides that
// want the default merge behavior for most fields plus custom handling for
// a few.
func (a *BaseAggregate) Merge(payload Payload) {
	if a.state == nil {
		a.state = State{}
	}
	for k, v := range payload {
		a.state[k] = v
	}
}

// Apply is the default, untyped transition: copy every payload key into
// state and advance version. A domain aggregate shadows this by defining
// its own Apply method with the same signature on the outer type.
func (a *BaseAggregate) Apply(event *Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrSerialization)
	}
	a.Merge(event.Payload)
	a.Advance(event.Version)
	return nil
}

// Seed primes agg's version/state from a loaded snapshot before the store
// replays events after that version (§4.1 Reconstruct, step 2). Exported
// so storage backends in other packages can drive reconstruction while the
// seed method on the Aggregate interface itself stays unexported — nothing
// outside a snapshot-load path should be able to rewind an aggregate's version.
func Seed(agg Aggregate, version int, state State) {
	agg.seed(version, state)
}

// AggregateFactory constructs a fresh, empty aggregate instance of some
// aggregate_type for the given id. The store calls it during Reconstruct.
type AggregateFactory func(id string) Aggregate

// FactoryRegistry maps aggregate_type to its AggregateFactory (§4.1
// "Aggregate Factory"). Register and New are guarded by a read-write
// mutex, so registration may run concurrently with lookups.
type FactoryRegistry struct {
	mu       sync.RWMutex
	registry map[string]AggregateFactory
}

// NewFactoryRegistry returns an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{registry: make(map[string]AggregateFactory)}
}

// Register associates aggregateType with factory, replacing any prior registration.
func (r *FactoryRegistry) Register(aggregateType string, factory AggregateFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[aggregateType] = factory
}

// New materializes an aggregate of aggregateType. If no factory was
// registered, it falls back to a default aggregate backed by BaseAggregate
// alone, per §4.1.
func (r *FactoryRegistry) New(id, aggregateType string) Aggregate {
	r.mu.RLock()
	factory, ok := r.registry[aggregateType]
	r.mu.RUnlock()
	if !ok {
		base := NewBaseAggregate(id, aggregateType)
		return &base
	}
	return factory(id)
}
