package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// maxRecordedBody caps how much of a token response is kept in memory.
const maxRecordedBody = 1 << 20

// recordingTransport keeps a copy of the token endpoint's response body.
// One instance serves a single exchange.
type recordingTransport struct {
	base http.RoundTripper

	mu  sync.Mutex
	raw []byte
}

// Compile-time check that recordingTransport implements http.RoundTripper.
var _ http.RoundTripper = (*recordingTransport)(nil)

// RoundTrip buffers the response body and hands the caller an identical replacement.
func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordedBody))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	t.mu.Lock()
	t.raw = body
	t.mu.Unlock()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *recordingTransport) body() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.raw
}

// jsonRequestTransport converts oauth2's form-encoded token requests to JSON
// for providers that only accept JSON bodies.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type jsonRequestTransport struct {
	base http.RoundTripper
}

// Compile-time check that jsonRequestTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonRequestTransport)(nil)

// RoundTrip intercepts token requests and converts them from form-encoded to JSON.
func (t *jsonRequestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		return t.base.RoundTrip(req)
	}

	// We consume the body entirely and send a new one, so the original is closed here.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // OAuth2 defines single-value parameters
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return t.base.RoundTrip(newReq)
}
