package eventsourcing

import (
	"golang.org/x/text/cases"
)

// ProjectionHandler mutates a projection's in-memory state in response to
// one event. It must be pure with respect to anything but state (§3.3).
type ProjectionHandler func(state State, event *Event)

// Projection is a named bundle of handlers, one per event_type (§3.3). The
// ProjectionManager owns the actual state/position for a registered
// Projection; this type only carries its identity and handler table.
type Projection struct {
	name     string
	handlers map[string]ProjectionHandler
}

// NewProjection creates an empty, named projection.
func NewProjection(name string) *Projection {
	return &Projection{name: name, handlers: make(map[string]ProjectionHandler)}
}

// On registers the handler for eventType and returns the projection, so
// registration can be chained: NewProjection("sums").On("Created", h1).On("Closed", h2).
func (p *Projection) On(eventType string, handler ProjectionHandler) *Projection {
	p.handlers[NormalizeKey(eventType)] = handler
	return p
}

// Name returns the projection's unique identifier.
func (p *Projection) Name() string { return p.name }

// HandlerFor returns the handler registered for eventType, if any.
func (p *Projection) HandlerFor(eventType string) (ProjectionHandler, bool) {
	h, ok := p.handlers[NormalizeKey(eventType)]
	return h, ok
}

// keyFold is the case-folding used to normalize registry keys (event
// types, command types) so lookups aren't sensitive to caller casing
// drift — e.g. "OrderCreated" and a stray "orderCreated" collide instead of
// silently registering two handlers for what was meant to be one event type.
var keyFold = cases.Fold()

// NormalizeKey case-folds a registry key. Shared by Projection and the
// command bus so both registries apply the same collision rule.
func NormalizeKey(s string) string {
	return keyFold.String(s)
}
