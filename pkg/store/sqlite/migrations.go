package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/BlackRoad-OS/blackroad-event-sourcing/pkg/store/sqlite/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func runMigrations(db *sql.DB) error {
	m := migrate.New(db, "schema_migrations")
	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the currently applied schema version, for
// operational tooling that wants to confirm the store is up to date.
func (s *EventStore) MigrationVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := migrate.New(s.db, "schema_migrations")
	return m.Version()
}
