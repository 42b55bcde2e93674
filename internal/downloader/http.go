package downloader

import (
	"net"
	"net/http"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 16,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	IdleConnTimeout:       90 * time.Second,
}

func CloseIdleConnections() {
	sharedTransport.CloseIdleConnections()
}

// consistentTransport fills in browser-like headers so origins that gate on
// User-Agent serve segments the same way they serve players.
type consistentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *consistentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the shared client for playlist and segment fetches.
// No retry layer here: per-segment retry bookkeeping belongs to the
// coordinator, and the per-attempt timeout rides on the request context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &consistentTransport{
			base:      sharedTransport,
			userAgent: defaultUserAgent,
		},
	}
}
