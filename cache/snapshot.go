package cache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Snapshot is an immutable copy of a response.
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// hopHeaders apply to a single connection and are never stored.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Capture builds a snapshot from resp and its fully read body.
// The header is cloned and stripped of hop-by-hop fields; body is copied.
func Capture(resp *http.Response, body []byte) Snapshot {
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return Snapshot{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     bytes.Clone(body),
		StoredAt: time.Now().UTC(),
	}
}

// OK reports whether the snapshot holds a 2xx response.
func (s Snapshot) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Status:   s.Status,
		Header:   s.Header.Clone(),
		Body:     bytes.Clone(s.Body),
		StoredAt: s.StoredAt,
	}
}

// Response materializes the snapshot as a fresh response to req.
// Each call returns an independent body reader.
func (s Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(s.Body)))
	return &http.Response{
		Status:        strconv.Itoa(s.Status) + " " + http.StatusText(s.Status),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}
