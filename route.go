package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/meigma/gateway/cache"
)

// Route is the classification of an intercepted request.
// Classification is stateless and derived only from the request.
type Route int

// Routes in classification precedence order.
const (
	// RouteBypass is any non-GET request. It is never cached or looked up.
	RouteBypass Route = iota
	// RouteNavigation is a same-origin page navigation.
	RouteNavigation
	// RouteAPI is a request to a REST endpoint.
	RouteAPI
	// RouteAsset is a map tile, font or image.
	RouteAsset
	// RouteStatic is any other same-origin request.
	RouteStatic
	// RouteIgnored is a cross-origin request that matched nothing.
	RouteIgnored
)

var routeNames = [...]string{
	RouteBypass:     "bypass",
	RouteNavigation: "navigation",
	RouteAPI:        "api",
	RouteAsset:      "asset",
	RouteStatic:     "static",
	RouteIgnored:    "ignored",
}

// String implements fmt.Stringer.
func (r Route) String() string {
	if r < 0 || int(r) >= len(routeNames) {
		return fmt.Sprintf("Route(%d)", int(r))
	}
	return routeNames[r]
}

// Strategy returns the caching strategy used for the route.
func (r Route) Strategy() Strategy {
	switch r {
	case RouteNavigation:
		return StrategyAppShell
	case RouteAPI:
		return StrategyNetworkFirst
	case RouteAsset:
		return StrategyStaleWhileRevalidate
	case RouteStatic:
		return StrategyCacheFirst
	default:
		return StrategyNetworkOnly
	}
}

// Strategy is how a request is served.
type Strategy int

// Strategies.
const (
	// StrategyNetworkOnly passes the request to the network untouched.
	StrategyNetworkOnly Strategy = iota
	// StrategyAppShell fetches from the network and falls back to the cached
	// application shell document.
	StrategyAppShell
	// StrategyNetworkFirst prefers the network and falls back to the runtime
	// partition.
	StrategyNetworkFirst
	// StrategyStaleWhileRevalidate serves any cached snapshot immediately and
	// refreshes it in the background.
	StrategyStaleWhileRevalidate
	// StrategyCacheFirst serves from the static partition and fetches on miss.
	StrategyCacheFirst
)

var strategyNames = [...]string{
	StrategyNetworkOnly:          "network-only",
	StrategyAppShell:             "app-shell",
	StrategyNetworkFirst:         "network-first",
	StrategyStaleWhileRevalidate: "stale-while-revalidate",
	StrategyCacheFirst:           "cache-first",
}

// String implements fmt.Stringer.
func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// Default URL patterns. Patterns are regular expressions matched anywhere in
// the full request URL.
var (
	DefaultAPIPatterns = []string{`/api/`}

	DefaultAssetPatterns = []string{
		`tile`,
		`openstreetmap`,
		`mapbox`,
		`googleapis\.com/maps`,
		`fonts\.gstatic\.com`,
		`fonts\.googleapis\.com`,
	}
)

// Fetch metadata headers sent by browsers.
const (
	headerFetchMode = "Sec-Fetch-Mode"
	headerFetchDest = "Sec-Fetch-Dest"
)

// Router classifies requests relative to the application origin.
type Router struct {
	origin        *url.URL
	apiPatterns   []string
	assetPatterns []string
	api           []*regexp.Regexp
	assets        []*regexp.Regexp
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAPIPatterns replaces the patterns identifying REST endpoints.
func WithAPIPatterns(patterns ...string) RouterOption {
	return func(r *Router) {
		r.apiPatterns = patterns
	}
}

// WithAssetPatterns replaces the patterns identifying map tiles and fonts.
// Images are recognized by the Sec-Fetch-Dest header regardless of patterns.
func WithAssetPatterns(patterns ...string) RouterOption {
	return func(r *Router) {
		r.assetPatterns = patterns
	}
}

// NewRouter creates a router for the application served at origin
// (for example "https://app.example").
func NewRouter(origin string, opts ...RouterOption) (*Router, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidOrigin, origin)
	}
	r := &Router{
		origin:        &url.URL{Scheme: strings.ToLower(u.Scheme), Host: cache.CanonicalHost(u.Scheme, u.Host), Path: strings.TrimSuffix(u.Path, "/")},
		apiPatterns:   DefaultAPIPatterns,
		assetPatterns: DefaultAssetPatterns,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.api, err = compilePatterns(r.apiPatterns); err != nil {
		return nil, fmt.Errorf("api patterns: %w", err)
	}
	if r.assets, err = compilePatterns(r.assetPatterns); err != nil {
		return nil, fmt.Errorf("asset patterns: %w", err)
	}
	return r, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Origin returns a copy of the application origin.
func (r *Router) Origin() *url.URL {
	u := *r.origin
	return &u
}

// Resolve returns the absolute URL of path on the application origin.
func (r *Router) Resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *r.origin
	u.Path = r.origin.Path + path
	return u.String()
}

// SameOrigin reports whether u shares the application's scheme and host.
// Default ports are ignored.
func (r *Router) SameOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && cache.CanonicalHost(u.Scheme, u.Host) == r.origin.Host
}

// Classify returns the route for req. The first matching rule wins:
// non-GET, same-origin navigation, API pattern, asset pattern or image
// destination, same-origin, anything else.
func (r *Router) Classify(req *http.Request) Route {
	if req.Method != "" && req.Method != http.MethodGet {
		return RouteBypass
	}
	sameOrigin := r.SameOrigin(req.URL)
	if sameOrigin && strings.EqualFold(req.Header.Get(headerFetchMode), "navigate") {
		return RouteNavigation
	}
	full := req.URL.String()
	if matchAny(r.api, full) {
		return RouteAPI
	}
	if matchAny(r.assets, full) || strings.EqualFold(req.Header.Get(headerFetchDest), "image") {
		return RouteAsset
	}
	if sameOrigin {
		return RouteStatic
	}
	return RouteIgnored
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
