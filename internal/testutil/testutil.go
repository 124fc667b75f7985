// Package testutil provides fakes shared by gateway tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/meigma/gateway/cache"
)

// ErrOffline is returned by an offline Origin.
var ErrOffline = errors.New("testutil: network unreachable")

// Reply is a canned origin response.
type Reply struct {
	Status int
	Header http.Header
	Body   string
}

// Origin is an in-memory network implementing http.RoundTripper.
// Unknown URLs answer 404.
type Origin struct {
	mu      sync.Mutex
	replies map[string]Reply
	calls   map[string]int
	headers map[string]http.Header
	offline bool
	gate    chan struct{}
	gated   map[string]bool
}

// NewOrigin returns an online origin with no content.
func NewOrigin() *Origin {
	return &Origin{
		replies: make(map[string]Reply),
		calls:   make(map[string]int),
		headers: make(map[string]http.Header),
	}
}

// Set serves body with status at url.
func (o *Origin) Set(url string, status int, body string) {
	o.SetReply(url, Reply{Status: status, Body: body})
}

// SetReply serves r at url.
func (o *Origin) SetReply(url string, r Reply) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replies[url] = r
}

// SetOffline makes every round trip fail with ErrOffline.
func (o *Origin) SetOffline(offline bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = offline
}

// Block holds round trips until the returned release function is called.
// With urls, only round trips to those URLs are held.
// Calls are still counted while blocked.
func (o *Origin) Block(urls ...string) (release func()) {
	gate := make(chan struct{})
	var gated map[string]bool
	if len(urls) > 0 {
		gated = make(map[string]bool, len(urls))
		for _, u := range urls {
			gated[u] = true
		}
	}
	o.mu.Lock()
	o.gate = gate
	o.gated = gated
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			if o.gate == gate {
				o.gate = nil
				o.gated = nil
			}
			o.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many round trips reached url.
func (o *Origin) Calls(url string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[url]
}

// LastHeader returns the request header of the latest round trip to url.
func (o *Origin) LastHeader(url string) http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.headers[url].Clone()
}

// TotalCalls returns the number of round trips to any URL.
func (o *Origin) TotalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.calls {
		total += n
	}
	return total
}

// RoundTrip implements http.RoundTripper.
func (o *Origin) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	o.mu.Lock()
	o.calls[url]++
	o.headers[url] = req.Header.Clone()
	gate := o.gate
	if o.gated != nil && !o.gated[url] {
		gate = nil
	}
	o.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	o.mu.Lock()
	offline := o.offline
	reply, ok := o.replies[url]
	o.mu.Unlock()

	if offline {
		return nil, ErrOffline
	}
	if !ok {
		reply = Reply{Status: http.StatusNotFound, Body: "not found"}
	}
	header := reply.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	return &http.Response{
		Status:        strconv.Itoa(reply.Status) + " " + http.StatusText(reply.Status),
		StatusCode:    reply.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(reply.Body)),
		ContentLength: int64(len(reply.Body)),
		Request:       req,
	}, nil
}

// FailingStore wraps a store and fails writes selected by FailPut.
type FailingStore struct {
	cache.Store

	mu      sync.Mutex
	failPut func(partition string, id cache.Identity) bool
}

// ErrInjected is returned by FailingStore for failed writes.
var ErrInjected = errors.New("testutil: injected store failure")

// NewFailingStore wraps s.
func NewFailingStore(s cache.Store) *FailingStore {
	return &FailingStore{Store: s}
}

// FailPuts sets the predicate choosing which writes fail. Nil disables failures.
func (f *FailingStore) FailPuts(pred func(partition string, id cache.Identity) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = pred
}

// Put implements cache.Store.
func (f *FailingStore) Put(ctx context.Context, partition string, id cache.Identity, snap cache.Snapshot) error {
	f.mu.Lock()
	pred := f.failPut
	f.mu.Unlock()
	if pred != nil && pred(partition, id) {
		return ErrInjected
	}
	return f.Store.Put(ctx, partition, id, snap)
}

// ReadBody reads and closes resp.Body.
func ReadBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}
