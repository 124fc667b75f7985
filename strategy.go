package gateway

import (
	"context"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meigma/gateway/cache"
)

// Outcome describes how a response was produced.
type Outcome string

// Outcomes reported in [CacheStatusHeader] and metrics.
const (
	// OutcomeHit is a response served from the cache.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss is a network response fetched because nothing was cached.
	OutcomeMiss Outcome = "miss"
	// OutcomeNetwork is a network response served ahead of any cached copy.
	OutcomeNetwork Outcome = "network"
	// OutcomeFallback is a cached response served because the network failed.
	OutcomeFallback Outcome = "fallback"
	// OutcomeBypass is a request passed through without caching.
	OutcomeBypass Outcome = "bypass"
	// OutcomeError is a request that produced no response.
	OutcomeError Outcome = "error"
)

// serve classifies req and dispatches it to the route's strategy.
func (g *Gateway) serve(req *http.Request) (*http.Response, error) {
	route := g.router.Classify(req)
	strategy := route.Strategy()

	ctx, span := g.tracer.Start(req.Context(), "gateway.RoundTrip",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("gateway.route", route.String()),
			attribute.String("gateway.strategy", strategy.String()),
			attribute.String("gateway.version", g.version),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	var (
		resp    *http.Response
		outcome Outcome
		err     error
	)
	if strategy == StrategyNetworkOnly {
		resp, err = g.transport.RoundTrip(req)
		outcome = OutcomeBypass
	} else if id, idErr := cache.IdentityOf(req); idErr != nil {
		g.log().Debug("request has no cache identity", "url", req.URL.String(), "error", idErr)
		resp, err = g.transport.RoundTrip(req)
		outcome = OutcomeBypass
	} else {
		switch strategy {
		case StrategyAppShell:
			resp, outcome, err = g.appShell(req)
		case StrategyNetworkFirst:
			resp, outcome, err = g.networkFirst(req, id)
		case StrategyStaleWhileRevalidate:
			resp, outcome, err = g.staleWhileRevalidate(req, id)
		case StrategyCacheFirst:
			resp, outcome, err = g.cacheFirst(req, id)
		}
	}
	if err != nil {
		outcome = OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("gateway.outcome", string(outcome)))
	g.metrics.request(route, outcome)

	if resp != nil && outcome != OutcomeBypass {
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		resp.Header.Set(CacheStatusHeader, string(outcome))
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	return resp, err
}

// appShell serves navigations from the network. When the network fails or
// answers with a server error, the cached shell document is served instead.
func (g *Gateway) appShell(req *http.Request) (*http.Response, Outcome, error) {
	resp, err := g.transport.RoundTrip(req)
	if err == nil && resp.StatusCode < http.StatusInternalServerError {
		return resp, OutcomeNetwork, nil
	}

	shell, ok := g.matchShell(req.Context())
	if !ok {
		if err != nil {
			return nil, OutcomeError, err
		}
		return resp, OutcomeNetwork, nil
	}
	if resp != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	g.log().Info("serving cached shell", "url", req.URL.String(), "error", err)
	return shell.Response(req), OutcomeFallback, nil
}

func (g *Gateway) matchShell(ctx context.Context) (cache.Snapshot, bool) {
	id, err := cache.NewIdentity(http.MethodGet, g.router.Resolve(g.shellPath))
	if err != nil {
		g.log().Warn("invalid shell path", "path", g.shellPath, "error", err)
		return cache.Snapshot{}, false
	}
	return g.match(ctx, cache.AnyPartition, id)
}

// networkFirst fetches from the network and records 2xx responses in the
// runtime partition. On network failure the last recorded response is served.
func (g *Gateway) networkFirst(req *http.Request, id cache.Identity) (*http.Response, Outcome, error) {
	f, err := g.fetch(req, id)
	if err != nil {
		snap, ok := g.match(req.Context(), g.runtime, id)
		if !ok {
			return nil, OutcomeError, err
		}
		g.log().Debug("network failed, serving cached response", "key", id.Key(), "error", err)
		return snap.Response(req), OutcomeFallback, nil
	}
	if f.ok() {
		g.put(req.Context(), g.runtime, id, f.snapshot())
	}
	return f.response(req), OutcomeNetwork, nil
}

// staleWhileRevalidate serves a snapshot and refreshes it in the background.
// The runtime partition holds the freshest copy and is checked first, then
// every partition. Without a snapshot the caller waits for the network.
func (g *Gateway) staleWhileRevalidate(req *http.Request, id cache.Identity) (*http.Response, Outcome, error) {
	snap, ok := g.match(req.Context(), g.runtime, id)
	if !ok {
		snap, ok = g.match(req.Context(), cache.AnyPartition, id)
	}
	if ok {
		g.revalidate(req, id)
		return snap.Response(req), OutcomeHit, nil
	}
	f, err := g.fetch(req, id)
	if err != nil {
		return nil, OutcomeError, err
	}
	if f.ok() {
		g.put(req.Context(), g.runtime, id, f.snapshot())
	}
	return f.response(req), OutcomeMiss, nil
}

// revalidate refreshes id in the background. The fetch outlives the caller's
// context so an abandoned request still updates the cache.
func (g *Gateway) revalidate(req *http.Request, id cache.Identity) {
	ctx := context.WithoutCancel(req.Context())
	bg := req.Clone(ctx)

	g.background.Add(1)
	go func() {
		defer g.background.Done()

		ctx, span := g.tracer.Start(ctx, "gateway.revalidate",
			trace.WithAttributes(attribute.String("url.full", id.URL)))
		defer span.End()

		f, err := g.fetch(bg.WithContext(ctx), id)
		if err != nil {
			span.RecordError(err)
			g.metrics.revalidation("error")
			g.log().Debug("revalidation failed", "key", id.Key(), "error", err)
			return
		}
		if !f.ok() {
			g.metrics.revalidation("skipped")
			g.log().Debug("revalidation returned non-success status", "key", id.Key(), "status", f.resp.StatusCode)
			return
		}
		g.put(ctx, g.runtime, id, f.snapshot())
		g.metrics.revalidation("updated")
	}()
}

// cacheFirst serves from the static partition and fetches on a miss,
// storing 2xx responses for next time.
func (g *Gateway) cacheFirst(req *http.Request, id cache.Identity) (*http.Response, Outcome, error) {
	if snap, ok := g.match(req.Context(), g.static, id); ok {
		return snap.Response(req), OutcomeHit, nil
	}
	f, err := g.fetch(req, id)
	if err != nil {
		return nil, OutcomeError, err
	}
	if f.ok() {
		g.put(req.Context(), g.static, id, f.snapshot())
	}
	return f.response(req), OutcomeMiss, nil
}
