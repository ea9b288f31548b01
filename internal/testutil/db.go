package testutil

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"tnxgate/internal/db"
	"tnxgate/internal/migrate"
)

// OpenDB returns a migrated SQLite database in a temp workspace.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return conn
}
