package cache

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Identity is the lookup key of a cache entry.
type Identity struct {
	Method string
	URL    string
}

// NewIdentity normalizes method and rawURL into an Identity.
//
// The URL must be absolute. Scheme and host are lower-cased, default ports
// and fragments are dropped, and an empty path becomes "/".
func NewIdentity(method, rawURL string) (Identity, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	normalized, err := normalizeURL(u)
	if err != nil {
		return Identity{}, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return Identity{Method: strings.ToUpper(method), URL: normalized}, nil
}

// IdentityOf returns the identity of req.
func IdentityOf(req *http.Request) (Identity, error) {
	if req == nil || req.URL == nil {
		return Identity{}, fmt.Errorf("%w: nil request", ErrInvalidIdentity)
	}
	normalized, err := normalizeURL(req.URL)
	if err != nil {
		return Identity{}, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return Identity{Method: strings.ToUpper(method), URL: normalized}, nil
}

// Key returns the canonical string form "<METHOD> <URL>".
func (id Identity) Key() string {
	return id.Method + " " + id.URL
}

// Digest returns the sha256 digest of Key.
func (id Identity) Digest() digest.Digest {
	return digest.FromString(id.Key())
}

// Cacheable reports whether entries for this identity may be stored.
func (id Identity) Cacheable() bool {
	return id.Method == http.MethodGet && id.URL != ""
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return id.Key()
}

func normalizeURL(in *url.URL) (string, error) {
	if in.Scheme == "" || in.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidIdentity, in.String())
	}
	u := *in
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = CanonicalHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// CanonicalHost lower-cases host and drops the port when it is the default
// for scheme.
func CanonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	scheme = strings.ToLower(scheme)
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return host
}
