package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/gateway/cache"
)

// Defaults for New.
var (
	// DefaultCoreAssets are the same-origin paths pre-fetched at install.
	DefaultCoreAssets = []string{"/index.html", "/favicon.ico", "/manifest.webmanifest"}

	// DefaultShellPath is the document served for navigations when offline.
	DefaultShellPath = "/index.html"
)

// DefaultInstallConcurrency bounds parallel core asset fetches during install.
const DefaultInstallConcurrency = 4

// CacheStatusHeader is set on every response a strategy produces.
const CacheStatusHeader = "X-Gateway-Cache"

const tracerName = "github.com/meigma/gateway"

// Gateway is one versioned instance of the caching gateway.
//
// A Gateway starts in [StateNew]. [Gateway.Install] pre-caches the core
// assets and [Gateway.Activate] evicts partitions of other versions. Only an
// active gateway applies caching strategies. Every other state passes
// requests straight to the network transport.
//
// Gateway implements [http.RoundTripper] and is safe for concurrent use.
type Gateway struct {
	store     cache.Store
	router    *Router
	version   string
	static    string
	runtime   string
	transport http.RoundTripper

	coreAssets         []string
	shellPath          string
	installConcurrency int
	dedup              bool

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	state      atomic.Int32
	writeMu    sync.RWMutex
	fetchGroup singleflight.Group
	background sync.WaitGroup
}

// Interface compliance.
var _ http.RoundTripper = (*Gateway)(nil)

// New creates a gateway for version that persists into store and classifies
// requests with router.
//
// The version must form valid partition names. It returns [ErrInvalidVersion]
// otherwise.
func New(store cache.Store, router *Router, version string, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if router == nil {
		return nil, errors.New("gateway: router is required")
	}
	static := cache.PartitionName(cache.KindStatic, version)
	runtime := cache.PartitionName(cache.KindRuntime, version)
	if version == "" || cache.ValidatePartition(static) != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	g, err := newGateway(opts)
	if err != nil {
		return nil, err
	}
	g.store = store
	g.router = router
	g.version = version
	g.static = static
	g.runtime = runtime
	return g, nil
}

// newGateway applies defaults and options without binding a store or version.
func newGateway(opts []Option) (*Gateway, error) {
	g := &Gateway{
		transport:          http.DefaultTransport,
		coreAssets:         DefaultCoreAssets,
		shellPath:          DefaultShellPath,
		installConcurrency: DefaultInstallConcurrency,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	return g, nil
}

// Version returns the version tag of the gateway.
func (g *Gateway) Version() string {
	return g.version
}

// StaticPartition returns the name of the partition holding core assets.
func (g *Gateway) StaticPartition() string {
	return g.static
}

// RuntimePartition returns the name of the partition holding API responses.
func (g *Gateway) RuntimePartition() string {
	return g.runtime
}

// Wait blocks until all background revalidations have finished.
// Call it once no more requests will be routed through the gateway.
func (g *Gateway) Wait() {
	g.background.Wait()
}

// RoundTrip implements [http.RoundTripper].
//
// Requests are only classified and cached while the gateway is active.
func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.State() != StateActive {
		return g.transport.RoundTrip(req)
	}
	return g.serve(req)
}

// match looks up id and treats store failures as a miss.
func (g *Gateway) match(ctx context.Context, partition string, id cache.Identity) (cache.Snapshot, bool) {
	snap, ok, err := g.store.Match(ctx, partition, id)
	if err != nil {
		g.log().Warn("cache lookup failed", "partition", partition, "key", id.Key(), "error", err)
		return cache.Snapshot{}, false
	}
	return snap, ok
}

// put stores snap and logs failures without surfacing them to the caller.
// Writes are skipped once the gateway is no longer active so a retired
// version cannot recreate partitions its successor evicted.
func (g *Gateway) put(ctx context.Context, partition string, id cache.Identity, snap cache.Snapshot) {
	g.writeMu.RLock()
	defer g.writeMu.RUnlock()
	if state := g.State(); state != StateActive {
		g.log().Debug("cache write skipped", "partition", partition, "key", id.Key(), "state", state.String())
		return
	}
	if err := g.store.Put(ctx, partition, id, snap); err != nil {
		g.metrics.writeFailure()
		g.log().Warn("cache write failed", "partition", partition, "key", id.Key(), "error", err)
	}
}

func (g *Gateway) log() *slog.Logger {
	if g.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return g.logger
}
