// Command gateway runs the offline caching gateway as an HTTP proxy in front
// of a web application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/gateway"
	"github.com/meigma/gateway/cache"
	"github.com/meigma/gateway/cache/disk"
	"github.com/meigma/gateway/cache/memory"
	"github.com/meigma/gateway/cache/sqlite"
	"github.com/meigma/gateway/internal/config"
	"github.com/meigma/gateway/internal/telemetry"
	"github.com/meigma/gateway/internal/versionwatch"
)

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("gateway: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		config.Exitf("gateway: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := cfg.Logger()

	version := cfg.Version
	if version == "" {
		v, err := versionwatch.Read(cfg.VersionFile)
		if err != nil {
			return err
		}
		version = v
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:       cfg.OTelEndpoint,
		Disabled:       !cfg.OTelEnabled,
		ServiceName:    "gateway",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	var routes config.Routes
	if cfg.RoutesFile != "" {
		if routes, err = config.LoadRoutes(cfg.RoutesFile); err != nil {
			return err
		}
	}
	var routerOpts []gateway.RouterOption
	if len(routes.API) > 0 {
		routerOpts = append(routerOpts, gateway.WithAPIPatterns(routes.API...))
	}
	if len(routes.Assets) > 0 {
		routerOpts = append(routerOpts, gateway.WithAssetPatterns(routes.Assets...))
	}
	router, err := gateway.NewRouter(cfg.Origin, routerOpts...)
	if err != nil {
		return err
	}

	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := gateway.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithFetchDedup(cfg.FetchDedup),
	}
	if len(routes.CoreAssets) > 0 {
		opts = append(opts, gateway.WithCoreAssets(routes.CoreAssets...))
	}
	if routes.Shell != "" {
		opts = append(opts, gateway.WithShellPath(routes.Shell))
	}
	ctrl, err := gateway.NewController(store, router, opts...)
	if err != nil {
		return err
	}
	if err := ctrl.Deploy(ctx, version); err != nil {
		return fmt.Errorf("deploy %s: %w", version, err)
	}
	defer ctrl.Wait()

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           ctrl,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if cfg.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           adminMux(reg, ctrl),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		eg.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	if cfg.VersionFile != "" {
		w, err := versionwatch.New(cfg.VersionFile, versionwatch.WithLogger(logger))
		if err != nil {
			return err
		}
		defer w.Close()
		eg.Go(func() error {
			return w.Run(egCtx, version, ctrl.Deploy)
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egCtx), cfg.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})
	return eg.Wait()
}

// openStore builds the configured cache backend.
func openStore(ctx context.Context, cfg config.Config) (cache.Store, io.Closer, error) {
	switch cfg.Store {
	case config.StoreDisk:
		s, err := disk.New(cfg.CacheDir,
			disk.WithCompression(cfg.CacheCompress),
			disk.WithMaxBytes(cfg.CacheMaxBytes),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open disk store: %w", err)
		}
		return s, s, nil
	case config.StoreSQLite:
		if err := os.MkdirAll(cfg.CacheDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create cache dir: %w", err)
		}
		s, err := sqlite.Open(ctx, filepath.Join(cfg.CacheDir, "gateway.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return memory.New(), closerFunc(func() error { return nil }), nil
	}
}

func adminMux(reg *prometheus.Registry, ctrl *gateway.Controller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		g := ctrl.Current()
		if g == nil || g.State() != gateway.StateActive {
			http.Error(w, "no active version", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, g.Version()+"\n")
	})
	return mux
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
