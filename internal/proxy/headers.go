package proxy

import (
	"net/http"
)

// allowedHeaders defines the HTTP headers permitted to pass through to the upstream API.
// Client credentials (Authorization, Cookie) never pass: the bearer token is set by the
// oauth2 transport underneath.
var allowedHeaders = map[string]bool{
	"Content-Type":      true,
	"Content-Length":    true,
	"Accept":            true,
	"Accept-Encoding":   true,
	"Accept-Language":   true,
	"If-None-Match":     true,
	"If-Modified-Since": true,

	// W3C Trace Context for distributed tracing correlation.
	// Baggage is excluded - it propagates application-level context rather than
	// tracing data.
	"Traceparent": true,
	"Tracestate":  true,
}

// HeaderFilterTransport is an http.RoundTripper that drops every request header not
// in the allow list before handing the request to Base.
type HeaderFilterTransport struct {
	Base http.RoundTripper
}

// Compile-time check that HeaderFilterTransport implements http.RoundTripper.
var _ http.RoundTripper = (*HeaderFilterTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *HeaderFilterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Clone request for modification
	newReq := req.Clone(req.Context())

	newReq.Header = make(http.Header, len(allowedHeaders))
	for key, values := range req.Header {
		if allowedHeaders[key] {
			newReq.Header[key] = values
		}
	}

	return base.RoundTrip(newReq)
}
