package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/gateway/cache"
	"github.com/meigma/gateway/cache/cachetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	cachetest.Run(t, func(t *testing.T) cache.Store { return openTestStore(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestStoreReopenKeepsEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gateway.db")
	id := cachetest.MustIdentity(t, "https://app.example/api/scenarios")

	first, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "runtime-v1", id, cache.Snapshot{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`[{"id":1}]`),
	}))
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	got, ok, err := second.Match(ctx, "runtime-v1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"id":1}]`, string(got.Body))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.False(t, got.StoredAt.IsZero())
}

func TestDeletePartitionRemovesEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	id := cachetest.MustIdentity(t, "https://app.example/index.html")
	require.NoError(t, s.Put(ctx, "static-v1", id, cachetest.Snapshot("shell")))

	existed, err := s.DeletePartition(ctx, "static-v1")
	require.NoError(t, err)
	require.True(t, existed)

	// Recreating the partition must not resurrect old entries.
	require.NoError(t, s.Open(ctx, "static-v1"))
	ids, err := s.Identities(ctx, "static-v1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
