package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
)

// newProxy returns a reverse proxy that sends requests through rt.
//
// Accept-Encoding is dropped so the network transport negotiates and
// decodes compression itself. Snapshots are shared across clients and do
// not honor Vary.
func newProxy(router *Router, rt http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	origin := router.Origin()
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if pr.In.URL.IsAbs() {
				pr.Out.Host = pr.Out.URL.Host
			} else {
				pr.SetURL(origin)
			}
			pr.Out.Header.Del("Accept-Encoding")
			pr.SetXForwarded()
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("proxy request failed", "method", r.Method, "url", r.URL.String(), "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
