package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Gateway.
type Option func(*Gateway) error

// WithTransport sets the transport used to reach the network.
// Defaults to [http.DefaultTransport].
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) error {
		if rt == nil {
			return errors.New("gateway: transport is nil")
		}
		g.transport = rt
		return nil
	}
}

// WithCoreAssets sets the same-origin paths fetched during install.
func WithCoreAssets(paths ...string) Option {
	return func(g *Gateway) error {
		assets := make([]string, 0, len(paths))
		for _, p := range paths {
			if strings.TrimSpace(p) == "" {
				return errors.New("gateway: empty core asset path")
			}
			assets = append(assets, p)
		}
		g.coreAssets = assets
		return nil
	}
}

// WithShellPath sets the path of the application shell served to offline
// navigations. The shell should also be listed as a core asset.
func WithShellPath(path string) Option {
	return func(g *Gateway) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("gateway: empty shell path")
		}
		g.shellPath = path
		return nil
	}
}

// WithInstallConcurrency bounds parallel fetches during install.
func WithInstallConcurrency(n int) Option {
	return func(g *Gateway) error {
		if n < 1 {
			return errors.New("gateway: install concurrency must be positive")
		}
		g.installConcurrency = n
		return nil
	}
}

// WithFetchDedup collapses concurrent identical network fetches into one.
// Requests are identical when they share method, URL and credentials.
// Disabled by default.
func WithFetchDedup(enabled bool) Option {
	return func(g *Gateway) error {
		g.dedup = enabled
		return nil
	}
}

// WithLogger sets the logger for gateway operations.
// By default, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithMetrics reports request outcomes and lifecycle events to m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}

// WithTracerProvider sets the provider used to create spans.
// Defaults to the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) error {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
		return nil
	}
}
