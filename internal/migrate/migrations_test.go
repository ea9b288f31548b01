package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tnxgate/internal/db"
)

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	st, err := Status(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Current)
	assert.NotEmpty(t, st.Pending)
	latest := st.Latest

	require.NoError(t, MigrateContext(ctx, conn))
	require.NoError(t, Migrate(conn))

	st, err = Status(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, st.Current)
	assert.Empty(t, st.Pending)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
	for _, table := range []string{"runs", "events", "idempotency_keys"} {
		require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}
}
