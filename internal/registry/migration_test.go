package registry

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "migrate.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(ctx, db))

	// The processes table and its indexes exist.
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM processes").Scan(&count)
	require.NoError(t, err, "failed to query processes table")
	assert.Equal(t, 0, count)

	var indexes int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name IN ('idx_process_state', 'idx_process_name')`).Scan(&indexes)
	require.NoError(t, err)
	assert.Equal(t, 2, indexes)

	// Applied migrations are recorded and a second run is a no-op.
	var applied int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	require.NoError(t, RunMigrations(ctx, db))
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements(`
CREATE TABLE a (
    id TEXT
);

-- a comment
CREATE INDEX idx_a ON a(id);
`)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_a")
}
