package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/gateway/cache"
	"github.com/meigma/gateway/cache/memory"
	"github.com/meigma/gateway/internal/testutil"
)

func coreURLs() []string {
	urls := make([]string, 0, len(DefaultCoreAssets))
	for _, p := range DefaultCoreAssets {
		urls = append(urls, testOrigin+p)
	}
	return urls
}

func identityURLs(t *testing.T, store cache.Store, partition string) []string {
	t.Helper()
	ids, err := store.Identities(context.Background(), partition)
	require.NoError(t, err)
	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		urls = append(urls, id.URL)
	}
	return urls
}

func TestInstall_StoresCoreAssets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	net := newTestNetwork()

	g, err := New(store, newTestRouter(t), "v1", WithTransport(net), WithInstallConcurrency(1))
	require.NoError(t, err)
	require.NoError(t, g.Install(ctx))
	assert.Equal(t, StateInstalled, g.State())
	assert.ElementsMatch(t, coreURLs(), identityURLs(t, store, "static-v1"))

	// Installing again before activation overwrites rather than duplicates.
	require.NoError(t, g.Install(ctx))
	assert.ElementsMatch(t, coreURLs(), identityURLs(t, store, "static-v1"))

	// So does a second instance of the same version.
	again, err := New(store, newTestRouter(t), "v1", WithTransport(net))
	require.NoError(t, err)
	require.NoError(t, again.Install(ctx))
	assert.ElementsMatch(t, coreURLs(), identityURLs(t, store, "static-v1"))

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v1", "runtime-v1"}, parts)
}

func TestInstall_FetchFailureWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	net := newTestNetwork()
	net.Set(testOrigin+"/manifest.webmanifest", http.StatusNotFound, "gone")

	g, err := New(store, newTestRouter(t), "v1", WithTransport(net))
	require.NoError(t, err)

	err = g.Install(ctx)
	require.ErrorIs(t, err, ErrInstallFailed)
	assert.Contains(t, err.Error(), "/manifest.webmanifest")
	assert.Equal(t, StateRedundant, g.State())

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestInstall_OfflineFails(t *testing.T) {
	t.Parallel()

	net := newTestNetwork()
	net.SetOffline(true)
	g, err := New(memory.New(), newTestRouter(t), "v1", WithTransport(net))
	require.NoError(t, err)

	err = g.Install(context.Background())
	require.ErrorIs(t, err, ErrInstallFailed)
	require.ErrorIs(t, err, testutil.ErrOffline)
}

func TestInstall_WriteFailureDiscardsPartition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.NewFailingStore(memory.New())
	store.FailPuts(func(_ string, id cache.Identity) bool {
		return id.URL == testOrigin+"/favicon.ico"
	})

	g, err := New(store, newTestRouter(t), "v1", WithTransport(newTestNetwork()))
	require.NoError(t, err)

	err = g.Install(ctx)
	require.ErrorIs(t, err, ErrInstallFailed)
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Equal(t, StateRedundant, g.State())

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.NotContains(t, parts, "static-v1")
}

func TestInstall_InvalidState(t *testing.T) {
	t.Parallel()

	g := newActiveGateway(t, memory.New(), newTestNetwork(), "v1")

	err := g.Install(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateActive, g.State())
}

func TestActivate_EvictsOtherVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	net := newTestNetwork()
	net.Set(testOrigin+"/api/scenarios", http.StatusOK, "[]")

	v1 := newActiveGateway(t, store, net, "v1")
	mustGet(t, v1, testOrigin+"/api/scenarios")
	require.NoError(t, store.Open(ctx, "unrelated"))

	v2 := newActiveGateway(t, store, net, "v2")
	assert.Equal(t, StateActive, v2.State())

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v2", "runtime-v2"}, parts)
}

func TestActivate_RequiresInstall(t *testing.T) {
	t.Parallel()

	g, err := New(memory.New(), newTestRouter(t), "v1", WithTransport(newTestNetwork()))
	require.NoError(t, err)

	err = g.Activate(context.Background())
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateNew, g.State())
}

func TestActivate_FailureAllowsRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := memory.New()
	require.NoError(t, inner.Open(ctx, "static-v0"))
	store := &deleteFailingStore{Store: inner, fail: true}

	g, err := New(store, newTestRouter(t), "v1", WithTransport(newTestNetwork()))
	require.NoError(t, err)
	require.NoError(t, g.Install(ctx))

	err = g.Activate(ctx)
	require.ErrorIs(t, err, ErrActivateFailed)
	assert.Equal(t, StateInstalled, g.State())

	store.fail = false
	require.NoError(t, g.Activate(ctx))
	assert.Equal(t, StateActive, g.State())
}

func TestRetire_StopsCacheWrites(t *testing.T) {
	t.Parallel()

	const url = testOrigin + "/assets/app.js"
	store := memory.New()
	net := newTestNetwork()
	net.Set(url, http.StatusOK, "app")
	g := newActiveGateway(t, store, net, "v1")

	g.retire()
	assert.Equal(t, StateRedundant, g.State())

	id, err := cache.NewIdentity(http.MethodGet, url)
	require.NoError(t, err)
	g.put(context.Background(), g.StaticPartition(), id, cache.Snapshot{Status: http.StatusOK, Body: []byte("app")})
	_, ok := storedBody(t, store, g.StaticPartition(), url)
	assert.False(t, ok)

	g.reinstate()
	assert.Equal(t, StateActive, g.State())
	g.put(context.Background(), g.StaticPartition(), id, cache.Snapshot{Status: http.StatusOK, Body: []byte("app")})
	_, ok = storedBody(t, store, g.StaticPartition(), url)
	assert.True(t, ok)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "installing", StateInstalling.String())
	assert.Equal(t, "redundant", StateRedundant.String())
	assert.Equal(t, "State(9)", State(9).String())
}

type deleteFailingStore struct {
	cache.Store
	fail bool
}

func (s *deleteFailingStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	if s.fail {
		return false, testutil.ErrInjected
	}
	return s.Store.DeletePartition(ctx, name)
}
