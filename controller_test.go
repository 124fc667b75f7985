package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/gateway/cache/memory"
	"github.com/meigma/gateway/internal/testutil"
)

func newTestController(t *testing.T, net http.RoundTripper, opts ...Option) (*Controller, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithTransport(net)}, opts...)
	c, err := NewController(store, newTestRouter(t), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Wait)
	return c, store
}

func TestController_PassThroughBeforeDeploy(t *testing.T) {
	t.Parallel()

	net := newTestNetwork()
	c, _ := newTestController(t, net)
	assert.Nil(t, c.Current())

	_, header, body := mustGet(t, c, testOrigin+"/favicon.ico")
	assert.Empty(t, header)
	assert.Equal(t, "icon", body)
}

func TestController_Deploy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork()
	c, store := newTestController(t, net)

	require.NoError(t, c.Deploy(ctx, "v1"))
	v1 := c.Current()
	require.NotNil(t, v1)
	assert.Equal(t, "v1", v1.Version())

	calls := net.TotalCalls()
	require.NoError(t, c.Deploy(ctx, "v1"))
	assert.Same(t, v1, c.Current())
	assert.Equal(t, calls, net.TotalCalls(), "redeploying the current version is a no-op")

	require.NoError(t, c.Deploy(ctx, "v2"))
	assert.Equal(t, "v2", c.Current().Version())
	assert.Equal(t, StateRedundant, v1.State())

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v2", "runtime-v2"}, parts)
}

func TestController_FailedDeployKeepsCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork()
	c, store := newTestController(t, net)
	require.NoError(t, c.Deploy(ctx, "v1"))

	net.SetOffline(true)
	err := c.Deploy(ctx, "v2")
	require.ErrorIs(t, err, ErrInstallFailed)
	assert.Equal(t, "v1", c.Current().Version())
	assert.Equal(t, StateActive, c.Current().State())

	// The old version still serves its cached shell offline.
	_, header, body := mustGet(t, c, testOrigin+"/", "Sec-Fetch-Mode", "navigate")
	assert.Equal(t, string(OutcomeFallback), header)
	assert.Equal(t, "<html>shell</html>", body)

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v1", "runtime-v1"}, parts)
}

func TestController_RetiredGatewayDoesNotRecreatePartitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const tile = "https://a.tile.openstreetmap.org/1/0/0.png"
	net := newTestNetwork()
	net.Set(tile, http.StatusOK, "tile")
	c, store := newTestController(t, net)

	require.NoError(t, c.Deploy(ctx, "v1"))
	v1 := c.Current()
	_, header, _ := mustGet(t, c, tile)
	require.Equal(t, string(OutcomeMiss), header)

	// Hold the revalidation started by this hit until v2 is active.
	release := net.Block(tile)
	_, header, _ = mustGet(t, c, tile)
	require.Equal(t, string(OutcomeHit), header)

	require.NoError(t, c.Deploy(ctx, "v2"))
	assert.Equal(t, StateRedundant, v1.State())
	release()
	v1.Wait()
	assert.Equal(t, 2, net.Calls(tile), "revalidation reached the network")

	parts, err := store.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v2", "runtime-v2"}, parts)

	// v1 is retired and passes requests straight through.
	_, header, body := mustGet(t, v1, tile)
	assert.Empty(t, header)
	assert.Equal(t, "tile", body)
}

func TestController_FailedActivateReinstatesCurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	net := newTestNetwork()
	net.Set(testOrigin+"/app.js", http.StatusOK, "app")
	store := &deleteFailingStore{Store: memory.New()}
	c, err := NewController(store, newTestRouter(t), WithTransport(net))
	require.NoError(t, err)
	t.Cleanup(c.Wait)

	require.NoError(t, c.Deploy(ctx, "v1"))
	v1 := c.Current()

	store.fail = true
	err = c.Deploy(ctx, "v2")
	require.ErrorIs(t, err, ErrActivateFailed)
	assert.Same(t, v1, c.Current())
	assert.Equal(t, StateActive, v1.State())

	_, header, body := mustGet(t, c, testOrigin+"/app.js")
	assert.Equal(t, string(OutcomeMiss), header)
	assert.Equal(t, "app", body)
	stored, ok := storedBody(t, store, "static-v1", testOrigin+"/app.js")
	require.True(t, ok, "reinstated gateway writes to its partitions")
	assert.Equal(t, "app", stored)
}

func TestController_DeployInvalidVersion(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, newTestNetwork())
	require.ErrorIs(t, c.Deploy(context.Background(), "../v1"), ErrInvalidVersion)
	assert.Nil(t, c.Current())
}

func TestController_ServeHTTP(t *testing.T) {
	t.Parallel()

	net := newTestNetwork()
	net.Set(testOrigin+"/api/scenarios", http.StatusOK, `[{"id":1}]`)
	net.Set("https://fonts.gstatic.com/s/roboto.woff2", http.StatusOK, "font")
	c, _ := newTestController(t, net)
	require.NoError(t, c.Deploy(context.Background(), "v1"))

	serve := func(r *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c.ServeHTTP(rec, r)
		return rec
	}

	t.Run("reverse proxy", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodGet, "/api/scenarios", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(OutcomeNetwork), rec.Header().Get(CacheStatusHeader))
		assert.Equal(t, `[{"id":1}]`, rec.Body.String())
	})

	t.Run("accept-encoding not forwarded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/scenarios", nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		rec := serve(req)
		assert.Equal(t, http.StatusOK, rec.Code)

		sent := net.LastHeader(testOrigin + "/api/scenarios")
		require.NotNil(t, sent)
		assert.Empty(t, sent.Get("Accept-Encoding"))
		assert.NotEmpty(t, sent.Get("X-Forwarded-For"))
	})

	t.Run("forward proxy", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodGet, "https://fonts.gstatic.com/s/roboto.woff2", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(OutcomeMiss), rec.Header().Get(CacheStatusHeader))
		assert.Equal(t, "font", rec.Body.String())
	})

	t.Run("connect rejected", func(t *testing.T) {
		rec := serve(httptest.NewRequest(http.MethodConnect, "https://fonts.gstatic.com:443", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("offline navigation", func(t *testing.T) {
		net.SetOffline(true)
		t.Cleanup(func() { net.SetOffline(false) })

		req := httptest.NewRequest(http.MethodGet, "/scenarios/7", nil)
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		rec := serve(req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(OutcomeFallback), rec.Header().Get(CacheStatusHeader))
		assert.Equal(t, "<html>shell</html>", rec.Body.String())
	})

	t.Run("offline miss is bad gateway", func(t *testing.T) {
		net.SetOffline(true)
		t.Cleanup(func() { net.SetOffline(false) })

		rec := serve(httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestNewController_RequiresStoreAndRouter(t *testing.T) {
	t.Parallel()

	_, err := NewController(nil, newTestRouter(t))
	require.Error(t, err)
	_, err = NewController(memory.New(), nil)
	require.Error(t, err)
	_, err = NewController(memory.New(), newTestRouter(t), WithTransport(nil))
	require.Error(t, err)

	c, err := NewController(memory.New(), newTestRouter(t), WithTransport(testutil.NewOrigin()))
	require.NoError(t, err)
	assert.Nil(t, c.Current())
}
