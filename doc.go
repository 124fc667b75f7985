// Package gateway provides an offline-capable caching gateway for a web
// application and its third-party assets.
//
// A [Gateway] sits between a client and the network as an [http.RoundTripper].
// Each request is classified by a [Router] into a [Route], and each route is
// served by one caching [Strategy]:
//
//   - Navigations fetch from the network and fall back to the cached
//     application shell when the network is unavailable.
//   - API calls are network-first with a fallback to the last good response.
//   - Map tiles, fonts and images are stale-while-revalidate.
//   - Other same-origin resources are cache-first.
//   - Non-GET and unmatched cross-origin requests pass through untouched.
//
// Responses are persisted in a [cache.Store] under version-scoped partitions
// named "static-<version>" and "runtime-<version>". Installing a version
// pre-fetches the core assets into its static partition. Activating it evicts
// every partition of other versions.
//
// # Quick Start
//
//	store := memory.New()
//	router, err := gateway.NewRouter("https://app.example")
//	if err != nil {
//	    return err
//	}
//	ctrl, err := gateway.NewController(store, router)
//	if err != nil {
//	    return err
//	}
//	if err := ctrl.Deploy(ctx, "v2"); err != nil {
//	    return err
//	}
//	client := &http.Client{Transport: ctrl}
//
// [Controller] also implements [http.Handler], acting as a reverse proxy for
// the origin and a forward proxy for absolute-URI requests. The proxy does not
// forward Accept-Encoding, so snapshots hold identity-encoded bodies that any
// client can be served.
//
// # Storage Backends
//
// The cache package defines the store contract. Implementations live in
// cache/memory, cache/disk (one file per entry, optional zstd) and
// cache/sqlite.
package gateway
