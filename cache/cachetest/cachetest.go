// Package cachetest provides a conformance suite for cache.Store implementations.
package cachetest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/gateway/cache"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) cache.Store

// Run exercises the cache.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("OpenIdempotent", func(t *testing.T) { testOpenIdempotent(t, newStore(t)) })
	t.Run("PutMatch", func(t *testing.T) { testPutMatch(t, newStore(t)) })
	t.Run("PutOverwrites", func(t *testing.T) { testPutOverwrites(t, newStore(t)) })
	t.Run("PutRejectsUncacheable", func(t *testing.T) { testPutRejects(t, newStore(t)) })
	t.Run("MatchAny", func(t *testing.T) { testMatchAny(t, newStore(t)) })
	t.Run("MatchMissing", func(t *testing.T) { testMatchMissing(t, newStore(t)) })
	t.Run("DeletePartition", func(t *testing.T) { testDeletePartition(t, newStore(t)) })
	t.Run("Identities", func(t *testing.T) { testIdentities(t, newStore(t)) })
	t.Run("ConcurrentPuts", func(t *testing.T) { testConcurrentPuts(t, newStore(t)) })
}

// MustIdentity builds a GET identity or fails the test.
func MustIdentity(t testing.TB, rawURL string) cache.Identity {
	t.Helper()
	id, err := cache.NewIdentity(http.MethodGet, rawURL)
	require.NoError(t, err)
	return id
}

// Snapshot returns a 200 snapshot with the given body.
func Snapshot(body string) cache.Snapshot {
	return cache.Snapshot{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}, "X-Test": {"a", "b"}},
		Body:   []byte(body),
	}
}

func testOpenIdempotent(t *testing.T, s cache.Store) {
	ctx := context.Background()
	require.NoError(t, s.Open(ctx, "static-v1"))
	require.NoError(t, s.Open(ctx, "static-v1"))
	require.NoError(t, s.Open(ctx, "runtime-v1"))

	names, err := s.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v1", "runtime-v1"}, names)

	assert.ErrorIs(t, s.Open(ctx, "bad/name"), cache.ErrInvalidPartition)
}

func testPutMatch(t *testing.T, s cache.Store) {
	ctx := context.Background()
	id := MustIdentity(t, "https://app.example/index.html")
	require.NoError(t, s.Put(ctx, "static-v1", id, Snapshot("shell")))

	got, ok, err := s.Match(ctx, "static-v1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "shell", string(got.Body))
	assert.Equal(t, "text/plain; charset=utf-8", got.Header.Get("Content-Type"))
	assert.Equal(t, []string{"a", "b"}, got.Header.Values("X-Test"))

	// Put creates the partition.
	names, err := s.Partitions(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "static-v1")
}

func testPutOverwrites(t *testing.T, s cache.Store) {
	ctx := context.Background()
	id := MustIdentity(t, "https://tile.openstreetmap.org/1/2/3.png")
	require.NoError(t, s.Put(ctx, "runtime-v1", id, Snapshot("old")))
	require.NoError(t, s.Put(ctx, "runtime-v1", id, Snapshot("new")))

	got, ok, err := s.Match(ctx, "runtime-v1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(got.Body))

	ids, err := s.Identities(ctx, "runtime-v1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func testPutRejects(t *testing.T, s cache.Store) {
	ctx := context.Background()
	post, err := cache.NewIdentity(http.MethodPost, "https://app.example/api/scenarios")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Put(ctx, "runtime-v1", post, Snapshot("x")), cache.ErrNotCacheable)

	get := MustIdentity(t, "https://app.example/api/scenarios")
	failed := cache.Snapshot{Status: http.StatusInternalServerError, Body: []byte("boom")}
	assert.ErrorIs(t, s.Put(ctx, "runtime-v1", get, failed), cache.ErrNotCacheable)

	_, ok, err := s.Match(ctx, cache.AnyPartition, get)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Match(ctx, cache.AnyPartition, post)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testMatchAny(t *testing.T, s cache.Store) {
	ctx := context.Background()
	shared := MustIdentity(t, "https://app.example/index.html")
	onlyRuntime := MustIdentity(t, "https://fonts.gstatic.com/s/roboto.woff2")

	require.NoError(t, s.Open(ctx, "static-v1"))
	require.NoError(t, s.Open(ctx, "runtime-v1"))
	require.NoError(t, s.Put(ctx, "runtime-v1", shared, Snapshot("from runtime")))
	require.NoError(t, s.Put(ctx, "static-v1", shared, Snapshot("from static")))
	require.NoError(t, s.Put(ctx, "runtime-v1", onlyRuntime, Snapshot("font")))

	got, ok, err := s.Match(ctx, cache.AnyPartition, shared)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from static", string(got.Body), "first created partition wins")

	got, ok, err = s.Match(ctx, cache.AnyPartition, onlyRuntime)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "font", string(got.Body))
}

func testMatchMissing(t *testing.T, s cache.Store) {
	ctx := context.Background()
	id := MustIdentity(t, "https://app.example/missing.js")

	_, ok, err := s.Match(ctx, "static-v9", id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Open(ctx, "static-v9"))
	_, ok, err = s.Match(ctx, "static-v9", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDeletePartition(t *testing.T, s cache.Store) {
	ctx := context.Background()
	id := MustIdentity(t, "https://app.example/index.html")
	require.NoError(t, s.Put(ctx, "static-v1", id, Snapshot("v1")))
	require.NoError(t, s.Put(ctx, "static-v2", id, Snapshot("v2")))

	existed, err := s.DeletePartition(ctx, "static-v1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeletePartition(ctx, "static-v1")
	require.NoError(t, err)
	assert.False(t, existed)

	names, err := s.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v2"}, names)

	got, ok, err := s.Match(ctx, cache.AnyPartition, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(got.Body))

	_, ok, err = s.Match(ctx, "static-v1", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testIdentities(t *testing.T, s cache.Store) {
	ctx := context.Background()
	want := []cache.Identity{
		MustIdentity(t, "https://app.example/index.html"),
		MustIdentity(t, "https://app.example/favicon.ico"),
		MustIdentity(t, "https://app.example/manifest.webmanifest"),
	}
	for _, id := range want {
		require.NoError(t, s.Put(ctx, "static-v1", id, Snapshot(id.URL)))
	}
	got, err := s.Identities(ctx, "static-v1")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)

	got, err = s.Identities(ctx, "static-none")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testConcurrentPuts(t *testing.T, s cache.Store) {
	ctx := context.Background()
	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			same := MustIdentity(t, "https://app.example/api/leaderboard")
			own := MustIdentity(t, fmt.Sprintf("https://app.example/api/scenarios/%d", i))
			assert.NoError(t, s.Put(ctx, "runtime-v1", same, Snapshot(fmt.Sprintf("writer %d", i))))
			assert.NoError(t, s.Put(ctx, "runtime-v1", own, Snapshot("own")))
		}()
	}
	wg.Wait()

	ids, err := s.Identities(ctx, "runtime-v1")
	require.NoError(t, err)
	assert.Len(t, ids, writers+1)

	got, ok, err := s.Match(ctx, "runtime-v1", MustIdentity(t, "https://app.example/api/leaderboard"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(got.Body), "writer ")
}
