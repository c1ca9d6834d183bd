package eventsourcing

import (
	"fmt"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/internal/idgen"
)

// Payload is the open, JSON-serializable value every event carries. Per
// §9 "Dynamic-typed payloads" this is a tagged JSON-value sum type in
// everything but name: a nested mapping of string keys to JSON scalars,
// arrays, or further mappings. Domain-typed aggregates project it into
// typed views at the Apply boundary; nothing downstream of the store sees
// raw JSON beyond that boundary.
type Payload map[string]any

// State is the same open shape used for aggregate and projection state.
type State map[string]any

// Event is an immutable, versioned record of a past domain fact (§3.1).
// Events are equal by ID and are never mutated once constructed.
type Event struct {
	ID            string `valid:"uuidv4"`
	AggregateID   string `valid:"required"`
	AggregateType string `valid:"required"`
	EventType     string `valid:"required"`
	Payload       Payload
	Version       int `valid:"required"`
	Timestamp     time.Time
	CausedBy      string
	Metadata      map[string]any

	// Position is assigned by the store on append (§3.1); zero until then.
	Position int64
}

// NewEvent constructs an Event with a fresh UUIDv4 id and the current UTC
// timestamp, then validates required fields. version must be the
// aggregate-local version this event will carry once persisted.
func NewEvent(aggregateID, aggregateType, eventType string, payload Payload, version int, causedBy string, metadata map[string]any) (*Event, error) {
	if payload == nil {
		payload = Payload{}
	}
	evt := &Event{
		ID:            idgen.NewEventID(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		Version:       version,
		Timestamp:     time.Now().UTC(),
		CausedBy:      causedBy,
		Metadata:      metadata,
	}
	if _, err := govalidator.ValidateStruct(evt); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSerialization, err)
	}
	return evt, nil
}

// Equal reports whether two events are the same event, by ID (§3.1).
func (e *Event) Equal(other *Event) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the store's view (payload/metadata maps are copied one level deep).
func (e *Event) Clone() *Event {
	clone := *e
	clone.Payload = copyMap(e.Payload)
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func copyMap(m map[string]any) Payload {
	if m == nil {
		return Payload{}
	}
	out := make(Payload, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
