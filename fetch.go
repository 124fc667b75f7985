package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/gateway/cache"
)

// fetched is a network response with its body fully read.
type fetched struct {
	resp *http.Response
	body []byte
}

// response returns an independent copy of the fetched response bound to req.
func (f *fetched) response(req *http.Request) *http.Response {
	out := *f.resp
	out.Header = f.resp.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Body = io.NopCloser(bytes.NewReader(f.body))
	out.ContentLength = int64(len(f.body))
	out.TransferEncoding = nil
	out.Request = req
	return &out
}

// ok reports whether the response status is 2xx.
func (f *fetched) ok() bool {
	return f.resp.StatusCode >= 200 && f.resp.StatusCode < 300
}

// snapshot captures the fetched response for storage.
func (f *fetched) snapshot() cache.Snapshot {
	return cache.Capture(f.resp, f.body)
}

// fetch performs req on the network and buffers the body.
// With dedup enabled, concurrent fetches of the same identity and credentials
// share one network round trip.
func (g *Gateway) fetch(req *http.Request, id cache.Identity) (*fetched, error) {
	if !g.dedup {
		return g.fetchOnce(req)
	}
	v, err, shared := g.fetchGroup.Do(dedupKey(req, id), func() (any, error) {
		return g.fetchOnce(req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		g.log().Debug("shared in-flight fetch", "key", id.Key())
	}
	return v.(*fetched), nil
}

func (g *Gateway) fetchOnce(req *http.Request) (*fetched, error) {
	resp, err := g.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &fetched{resp: resp, body: body}, nil
}

// dedupKey identifies requests that may share a fetch. Credentials are
// folded in as a digest so responses never cross authorization boundaries.
func dedupKey(req *http.Request, id cache.Identity) string {
	auth := req.Header.Get("Authorization")
	cookie := req.Header.Get("Cookie")
	if auth == "" && cookie == "" {
		return id.Key()
	}
	return id.Key() + " " + digest.FromString(auth+"\x00"+cookie).Encoded()
}
