package sqlitevisited

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAddContainsPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "visited.db")

	set, err := Open(ctx, path)
	require.NoError(t, err)

	ok, err := set.Contains(ctx, "http://a.com/x")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, set.Add(ctx, "http://a.com/x"))
	require.NoError(t, set.Add(ctx, "http://a.com/x"))
	require.NoError(t, set.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	ok, err = reopened.Contains(ctx, "http://a.com/x")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSetClosedReturnsErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	set, err := Open(ctx, filepath.Join(t.TempDir(), "visited.db"))
	require.NoError(t, err)
	require.NoError(t, set.Close())

	_, err = set.Contains(ctx, "http://a.com/x")
	require.ErrorContains(t, err, "query visited")
	require.ErrorContains(t, set.Add(ctx, "http://a.com/x"), "insert visited")
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.EqualError(t, err, "sqlite path is required")
}
