package migrate

import (
	"database/sql"
	"embed"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestVersionStartsAtZero(t *testing.T) {
	m := New(openTestDB(t), "schema_migrations")
	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestUpAppliesLoadedMigrations(t *testing.T) {
	db := openTestDB(t)
	m := New(db, "schema_migrations")
	require.NoError(t, m.LoadFromFS(testMigrationsFS, "testdata"))
	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_table").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestUpIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	m := New(db, "schema_migrations")
	require.NoError(t, m.LoadFromFS(testMigrationsFS, "testdata"))
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestDownRollsBackLatestMigration(t *testing.T) {
	db := openTestDB(t)
	m := New(db, "schema_migrations")
	require.NoError(t, m.LoadFromFS(testMigrationsFS, "testdata"))
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, 0, version)

	_, err = db.Query("SELECT 1 FROM test_table")
	assert.Error(t, err, "test_table should have been dropped")
}

func TestDownWithNothingAppliedFails(t *testing.T) {
	m := New(openTestDB(t), "schema_migrations")
	err := m.Down()
	assert.Error(t, err)
}
