package eventsourcing

import "time"

// Snapshot is the persisted, collapsed state of an aggregate at a specific
// version (§3.2). Multiple snapshots per aggregate may exist; the store's
// LoadSnapshot always returns the one with the highest Version.
type Snapshot struct {
	AggregateID   string
	AggregateType string
	Version       int
	State         State
	CreatedAt     time.Time
}

// SnapshotStrategy decides whether a fresh snapshot is worth taking after
// an append, so callers don't have to hand-manage cadence (§9 "Open
// questions", supplemented from the interval strategy of the pack's
// snapshot stores).
type SnapshotStrategy interface {
	ShouldSnapshot(currentVersion int, eventsSinceSnapshot int) bool
}

// IntervalSnapshotStrategy snapshots every N events.
type IntervalSnapshotStrategy struct {
	Interval int
}

// NewIntervalSnapshotStrategy builds a strategy that fires every n events.
func NewIntervalSnapshotStrategy(n int) *IntervalSnapshotStrategy {
	return &IntervalSnapshotStrategy{Interval: n}
}

func (s *IntervalSnapshotStrategy) ShouldSnapshot(_ int, eventsSinceSnapshot int) bool {
	if s.Interval <= 0 {
		return false
	}
	return eventsSinceSnapshot >= s.Interval
}

// Statistics is the Facade's aggregate view over the store (§4.5), extended
// per SPEC_FULL.md with type/command breakdowns.
type Statistics struct {
	TotalEvents      int64
	ByEventType      map[string]int64
	ByAggregateType  map[string]int64
	LatestPosition   int64
	CommandsByStatus map[CommandStatus]int64
}
