package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"fastvote/internal/db"
)

func TestApplyIsIdempotentAndAddsArchiveColumn(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := Apply(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 2, v)
	v, err = Apply(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('commits') WHERE name='archived_at'`).Scan(&n))
	require.Equal(t, 1, n)
}
