package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/eventsourcing"
)

// ProjectionStore persists a projection's (state, position) cursor in the
// projections table, satisfying eventsourcing.ProjectionStore.
type ProjectionStore struct {
	db *sql.DB
}

// NewProjectionStore wraps an existing EventStore's database handle so
// projections share the same WAL and migration lifecycle as the event log.
func NewProjectionStore(s *EventStore) *ProjectionStore {
	return &ProjectionStore{db: s.db}
}

// Load implements eventsourcing.ProjectionStore.
func (p *ProjectionStore) Load(ctx context.Context, name string) (eventsourcing.State, int64, bool, error) {
	var stateJSON string
	var position int64
	err := p.db.QueryRowContext(ctx, `SELECT state, position FROM projections WHERE name = ?`, name).
		Scan(&stateJSON, &position)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: load projection %s: %v", eventsourcing.ErrStoreUnavailable, name, err)
	}
	state := eventsourcing.State{}
	if err := unmarshalJSON(stateJSON, &state); err != nil {
		return nil, 0, false, fmt.Errorf("%w: decode projection state: %v", eventsourcing.ErrSerialization, err)
	}
	return state, position, true, nil
}

// Save implements eventsourcing.ProjectionStore, persisting state and
// position as a single row upsert so they always commit together (§4.3).
func (p *ProjectionStore) Save(ctx context.Context, name string, state eventsourcing.State, position int64) error {
	stateJSON, err := marshalJSON(state)
	if err != nil {
		return fmt.Errorf("%w: encode projection state: %v", eventsourcing.ErrSerialization, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO projections (name, state, position) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET state = excluded.state, position = excluded.position`,
		name, stateJSON, position)
	if err != nil {
		return fmt.Errorf("%w: save projection %s: %v", eventsourcing.ErrStoreUnavailable, name, err)
	}
	return nil
}
