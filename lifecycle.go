package gateway

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/gateway/cache"
)

// State is the lifecycle position of a Gateway.
type State int32

// Lifecycle states. Transitions only move forward:
// new, installing, installed, activating, active. A failed install
// moves the gateway to redundant, as does replacement by a newer version.
// A replaced gateway returns to active only if its successor fails to
// activate.
const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

var stateNames = [...]string{
	StateNew:        "new",
	StateInstalling: "installing",
	StateInstalled:  "installed",
	StateActivating: "activating",
	StateActive:     "active",
	StateRedundant:  "redundant",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

func (g *Gateway) transition(from, to State) bool {
	return g.state.CompareAndSwap(int32(from), int32(to))
}

func (g *Gateway) setState(s State) {
	g.state.Store(int32(s))
}

// Install pre-caches the core assets into the static partition.
//
// Every asset is fetched before any is written, and each must answer 2xx.
// If a fetch fails nothing is written. If a write fails the static partition
// is deleted so no partial install remains. In both cases the gateway becomes
// [StateRedundant] and the error wraps [ErrInstallFailed].
//
// Install may be repeated before activation. Writes overwrite by identity so
// the static partition never holds duplicates.
func (g *Gateway) Install(ctx context.Context) (err error) {
	if !g.transition(StateNew, StateInstalling) && !g.transition(StateInstalled, StateInstalling) {
		return fmt.Errorf("%w: cannot install from %s", ErrInvalidState, g.State())
	}
	log := g.log().With("version", g.version, "partition", g.static)
	defer func() {
		g.metrics.lifecycleEvent("install", err)
		if err != nil {
			g.setState(StateRedundant)
			log.Error("install failed", "error", err)
			err = fmt.Errorf("%w: %w", ErrInstallFailed, err)
			return
		}
		g.setState(StateInstalled)
		log.Info("installed", "assets", len(g.coreAssets))
	}()

	log.Info("installing", "assets", len(g.coreAssets))
	ids := make([]cache.Identity, len(g.coreAssets))
	snaps := make([]cache.Snapshot, len(g.coreAssets))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.installConcurrency)
	for i, path := range g.coreAssets {
		eg.Go(func() error {
			id, snap, err := g.fetchCoreAsset(egCtx, path)
			if err != nil {
				return err
			}
			ids[i], snaps[i] = id, snap
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if err := g.store.Open(ctx, g.static); err != nil {
		return fmt.Errorf("open %s: %w", g.static, err)
	}
	for i, id := range ids {
		if err := g.store.Put(ctx, g.static, id, snaps[i]); err != nil {
			if _, delErr := g.store.DeletePartition(ctx, g.static); delErr != nil {
				log.Warn("discard partial install", "error", delErr)
			}
			return fmt.Errorf("store %s: %w", id.URL, err)
		}
	}
	if err := g.store.Open(ctx, g.runtime); err != nil {
		return fmt.Errorf("open %s: %w", g.runtime, err)
	}
	return nil
}

func (g *Gateway) fetchCoreAsset(ctx context.Context, path string) (cache.Identity, cache.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.router.Resolve(path), nil)
	if err != nil {
		return cache.Identity{}, cache.Snapshot{}, fmt.Errorf("core asset %s: %w", path, err)
	}
	id, err := cache.IdentityOf(req)
	if err != nil {
		return cache.Identity{}, cache.Snapshot{}, fmt.Errorf("core asset %s: %w", path, err)
	}
	f, err := g.fetchOnce(req)
	if err != nil {
		return cache.Identity{}, cache.Snapshot{}, fmt.Errorf("core asset %s: %w", path, err)
	}
	if !f.ok() {
		return cache.Identity{}, cache.Snapshot{}, fmt.Errorf("core asset %s: unexpected status %s", path, f.resp.Status)
	}
	return id, f.snapshot(), nil
}

// Activate evicts every partition except this version's static and runtime
// partitions, then starts serving requests through the caching strategies.
//
// If eviction fails the gateway returns to [StateInstalled] so activation can
// be retried, and the error wraps [ErrActivateFailed].
func (g *Gateway) Activate(ctx context.Context) (err error) {
	if !g.transition(StateInstalled, StateActivating) {
		return fmt.Errorf("%w: cannot activate from %s", ErrInvalidState, g.State())
	}
	log := g.log().With("version", g.version)
	defer func() {
		g.metrics.lifecycleEvent("activate", err)
		if err != nil {
			g.setState(StateInstalled)
			log.Error("activate failed", "error", err)
			err = fmt.Errorf("%w: %w", ErrActivateFailed, err)
			return
		}
		g.setState(StateActive)
		log.Info("activated")
	}()

	names, err := g.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	for _, name := range names {
		if name == g.static || name == g.runtime {
			continue
		}
		existed, err := g.store.DeletePartition(ctx, name)
		if err != nil {
			return fmt.Errorf("evict %s: %w", name, err)
		}
		if existed {
			g.metrics.evicted()
			log.Info("evicted partition", "partition", name)
		}
	}
	return nil
}

// retire marks a replaced gateway redundant. It waits for cache writes in
// progress, and later writes are skipped. Background revalidations already
// in flight are allowed to finish.
func (g *Gateway) retire() {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.setState(StateRedundant)
}

// reinstate returns a retired gateway to service after its replacement
// failed to activate.
func (g *Gateway) reinstate() {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.transition(StateRedundant, StateActive)
}
