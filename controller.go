package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"sync"
	"sync/atomic"

	"github.com/meigma/gateway/cache"
)

// Controller deploys gateway versions over a shared store and routes
// requests to the active one.
//
// Before the first successful deploy, requests pass straight to the network.
// Controller implements both [http.RoundTripper] and [http.Handler].
type Controller struct {
	store  cache.Store
	router *Router
	opts   []Option

	transport http.RoundTripper
	proxy     *httputil.ReverseProxy

	deployMu sync.Mutex
	current  atomic.Pointer[Gateway]
	retired  []*Gateway
}

// Interface compliance.
var (
	_ http.RoundTripper = (*Controller)(nil)
	_ http.Handler      = (*Controller)(nil)
)

// NewController creates a controller. The options are applied to every
// gateway it deploys.
func NewController(store cache.Store, router *Router, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if router == nil {
		return nil, errors.New("gateway: router is required")
	}
	base, err := newGateway(opts)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		store:     store,
		router:    router,
		opts:      opts,
		transport: base.transport,
	}
	c.proxy = newProxy(router, c, base.log())
	return c, nil
}

// Deploy installs and activates version, then makes it current.
//
// Deploying the current version is a no-op. If install or activation fails
// the previously active gateway keeps serving and the error is returned.
// While the new version activates, the previous gateway stops writing to
// the cache and passes requests to the network.
func (c *Controller) Deploy(ctx context.Context, version string) error {
	c.deployMu.Lock()
	defer c.deployMu.Unlock()

	if cur := c.current.Load(); cur != nil && cur.Version() == version {
		return nil
	}
	g, err := New(c.store, c.router, version, c.opts...)
	if err != nil {
		return err
	}
	if err := g.Install(ctx); err != nil {
		return err
	}

	// The previous gateway stops writing before eviction starts. Until the
	// swap below it passes requests straight to the network.
	prev := c.current.Load()
	if prev != nil {
		prev.retire()
	}
	if err := g.Activate(ctx); err != nil {
		if prev != nil {
			prev.reinstate()
		}
		return err
	}
	c.current.Store(g)
	if prev != nil {
		c.retired = append(c.retired, prev)
	}
	return nil
}

// Current returns the active gateway, or nil before the first deploy.
func (c *Controller) Current() *Gateway {
	return c.current.Load()
}

// RoundTrip implements [http.RoundTripper].
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	if g := c.current.Load(); g != nil {
		return g.RoundTrip(req)
	}
	return c.transport.RoundTrip(req)
}

// ServeHTTP implements [http.Handler].
//
// Origin-form requests are proxied to the application origin. Absolute-form
// requests, as sent to a forward proxy, go to the host they name. CONNECT is
// rejected because tunneled traffic cannot be cached.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}
	c.proxy.ServeHTTP(w, r)
}

// Wait blocks until background work of every deployed gateway has finished.
func (c *Controller) Wait() {
	c.deployMu.Lock()
	gateways := append([]*Gateway(nil), c.retired...)
	c.deployMu.Unlock()
	if g := c.current.Load(); g != nil {
		gateways = append(gateways, g)
	}
	for _, g := range gateways {
		g.Wait()
	}
}
