// Package migrate is a minimal, dependency-free SQL migration runner: it
// loads numbered up/down migration pairs from an embedded filesystem and
// applies every pending one as a single transaction, tracking progress in
// a version table of its own.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Migration is one numbered schema change with its forward and reverse SQL.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrator applies Migrations to a *sql.DB, tracking applied versions in tableName.
type Migrator struct {
	db         *sql.DB
	tableName  string
	migrations []Migration
}

// New returns a Migrator that tracks progress in tableName.
func New(db *sql.DB, tableName string) *Migrator {
	return &Migrator{db: db, tableName: tableName}
}

// LoadFromFS reads "NNNNNN_name.up.sql" / "NNNNNN_name.down.sql" pairs from
// dir inside fsys and loads them in version order. A later call replaces
// whatever was loaded before.
func (m *Migrator) LoadFromFS(fsys embed.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrate: read dir %s: %w", dir, err)
	}

	byVersion := make(map[int]*Migration, len(entries)/2)
	for _, entry := range entries {
		name, ok := parseMigrationFilename(entry)
		if !ok {
			continue
		}
		version, script, isDown := name.version, name.script, name.isDown

		content, err := fs.ReadFile(fsys, filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", entry.Name(), err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		if isDown {
			mig.Down = string(content)
		} else {
			mig.Name = script
			mig.Up = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })

	m.migrations = migrations
	return nil
}

type migrationFilename struct {
	version int
	script  string
	isDown  bool
}

// parseMigrationFilename recognizes "NNNNNN_name.up.sql" / "NNNNNN_name.down.sql".
func parseMigrationFilename(entry fs.DirEntry) (migrationFilename, bool) {
	if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
		return migrationFilename{}, false
	}
	version, rest, ok := strings.Cut(entry.Name(), "_")
	if !ok {
		return migrationFilename{}, false
	}
	n, err := strconv.Atoi(version)
	if err != nil {
		return migrationFilename{}, false
	}

	switch {
	case strings.HasSuffix(rest, ".up.sql"):
		return migrationFilename{version: n, script: strings.TrimSuffix(rest, ".up.sql")}, true
	case strings.HasSuffix(rest, ".down.sql"):
		return migrationFilename{version: n, isDown: true}, true
	default:
		return migrationFilename{}, false
	}
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("migrate: ensure %s: %w", m.tableName, err)
	}
	return nil
}

// Version returns the highest applied migration version, 0 if none.
func (m *Migrator) Version() (int, error) {
	ctx := context.Background()
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", m.tableName)).Scan(&version)
	return version, err
}

// Up applies every pending migration (Version greater than the currently
// recorded one) inside a single transaction: either the whole batch lands
// or none of it does, so a failing migration midway through a fresh
// deployment never leaves the schema half-upgraded.
func (m *Migrator) Up() error {
	ctx := context.Background()
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", m.tableName)).Scan(&current); err != nil {
		return fmt.Errorf("migrate: current version: %w", err)
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.applyWithin(ctx, tx, mig); err != nil {
			return fmt.Errorf("migrate: apply %d_%s: %w", mig.Version, mig.Name, err)
		}
		applied++
	}
	if applied == 0 {
		return nil
	}
	return tx.Commit()
}

func (m *Migrator) applyWithin(ctx context.Context, tx *sql.Tx, mig Migration) error {
	if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
		return fmt.Errorf("executing up script: %w", err)
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", m.tableName),
		mig.Version, mig.Name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down() error {
	ctx := context.Background()
	if err := m.ensureVersionTable(ctx); err != nil {
		return err
	}
	current, err := m.Version()
	if err != nil {
		return fmt.Errorf("migrate: current version: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("migrate: nothing to roll back")
	}

	idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == current })
	if idx < 0 {
		return fmt.Errorf("migrate: migration %d not loaded", current)
	}
	target := m.migrations[idx]
	if target.Down == "" {
		return fmt.Errorf("migrate: migration %d has no down script", current)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, target.Down); err != nil {
		return fmt.Errorf("executing down script: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = ?", m.tableName), current); err != nil {
		return fmt.Errorf("removing migration record: %w", err)
	}
	return tx.Commit()
}
