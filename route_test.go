package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterClassify(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	tests := []struct {
		name    string
		method  string
		url     string
		headers map[string]string
		want    Route
	}{
		{
			name:   "post is bypassed",
			method: http.MethodPost,
			url:    testOrigin + "/api/scenarios",
			want:   RouteBypass,
		},
		{
			name:   "delete is bypassed",
			method: http.MethodDelete,
			url:    testOrigin + "/index.html",
			want:   RouteBypass,
		},
		{
			name:    "same-origin navigation",
			url:     testOrigin + "/scenarios/7",
			headers: map[string]string{"Sec-Fetch-Mode": "navigate"},
			want:    RouteNavigation,
		},
		{
			name:    "navigation wins over api pattern",
			url:     testOrigin + "/api/docs",
			headers: map[string]string{"Sec-Fetch-Mode": "navigate"},
			want:    RouteNavigation,
		},
		{
			name:    "cross-origin navigation is ignored",
			url:     "https://other.example/",
			headers: map[string]string{"Sec-Fetch-Mode": "navigate"},
			want:    RouteIgnored,
		},
		{
			name: "same-origin api",
			url:  testOrigin + "/api/scenarios?page=2",
			want: RouteAPI,
		},
		{
			name: "cross-origin api",
			url:  "https://backend.example:3000/api/v1/maps",
			want: RouteAPI,
		},
		{
			name: "map tile",
			url:  "https://a.tile.openstreetmap.org/3/4/2.png",
			want: RouteAsset,
		},
		{
			name: "mapbox style",
			url:  "https://api.mapbox.com/styles/v1/streets",
			want: RouteAsset,
		},
		{
			name: "google maps",
			url:  "https://maps.googleapis.com/maps/vt?pb=1",
			want: RouteAsset,
		},
		{
			name: "font file",
			url:  "https://fonts.gstatic.com/s/roboto.woff2",
			want: RouteAsset,
		},
		{
			name: "font stylesheet",
			url:  "https://fonts.googleapis.com/css2?family=Roboto",
			want: RouteAsset,
		},
		{
			name:    "image destination",
			url:     "https://cdn.example/logo.png",
			headers: map[string]string{"Sec-Fetch-Dest": "image"},
			want:    RouteAsset,
		},
		{
			name: "same-origin script",
			url:  testOrigin + "/assets/app.js",
			want: RouteStatic,
		},
		{
			name: "same-origin root",
			url:  testOrigin + "/",
			want: RouteStatic,
		},
		{
			name: "explicit default port is same-origin",
			url:  "https://APP.example:443/assets/app.js",
			want: RouteStatic,
		},
		{
			name: "other port is cross-origin",
			url:  "https://app.example:8443/assets/app.js",
			want: RouteIgnored,
		},
		{
			name: "cross-origin script",
			url:  "https://cdn.example/lib.js",
			want: RouteIgnored,
		},
		{
			name: "other scheme is cross-origin",
			url:  "http://app.example/assets/app.js",
			want: RouteIgnored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, err := http.NewRequest(method, tt.url, nil)
			require.NoError(t, err)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, router.Classify(req))
		})
	}
}

func TestRouteStrategy(t *testing.T) {
	t.Parallel()

	want := map[Route]Strategy{
		RouteBypass:     StrategyNetworkOnly,
		RouteNavigation: StrategyAppShell,
		RouteAPI:        StrategyNetworkFirst,
		RouteAsset:      StrategyStaleWhileRevalidate,
		RouteStatic:     StrategyCacheFirst,
		RouteIgnored:    StrategyNetworkOnly,
	}
	for route, strategy := range want {
		assert.Equal(t, strategy, route.Strategy(), route.String())
	}
	assert.Equal(t, "Route(42)", Route(42).String())
	assert.Equal(t, "stale-while-revalidate", StrategyStaleWhileRevalidate.String())
}

func TestNewRouter(t *testing.T) {
	t.Parallel()

	t.Run("relative origin", func(t *testing.T) {
		t.Parallel()
		_, err := NewRouter("/app")
		require.ErrorIs(t, err, ErrInvalidOrigin)
	})

	t.Run("bad pattern", func(t *testing.T) {
		t.Parallel()
		_, err := NewRouter(testOrigin, WithAPIPatterns(`(`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api patterns")
	})

	t.Run("origin with default port", func(t *testing.T) {
		t.Parallel()
		r, err := NewRouter("https://app.example:443")
		require.NoError(t, err)
		assert.Equal(t, "app.example", r.Origin().Host)

		req, err := http.NewRequest(http.MethodGet, "https://app.example/app.js", nil)
		require.NoError(t, err)
		assert.Equal(t, RouteStatic, r.Classify(req))
	})

	t.Run("custom patterns", func(t *testing.T) {
		t.Parallel()
		r, err := NewRouter("HTTPS://App.Example/base/",
			WithAPIPatterns(`/graphql$`),
			WithAssetPatterns(`\.webp$`, ""),
		)
		require.NoError(t, err)

		classify := func(url string) Route {
			req, err := http.NewRequest(http.MethodGet, url, nil)
			require.NoError(t, err)
			return r.Classify(req)
		}
		assert.Equal(t, RouteAPI, classify("https://app.example/base/graphql"))
		assert.Equal(t, RouteStatic, classify("https://app.example/base/api/x"))
		assert.Equal(t, RouteAsset, classify("https://img.example/a.webp"))
		assert.Equal(t, RouteIgnored, classify("https://a.tile.openstreetmap.org/1/1/1.png"))
		assert.Equal(t, "https://app.example/base/index.html", r.Resolve("index.html"))
	})
}
