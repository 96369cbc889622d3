package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every token exchange.
const DefaultTimeout = 30 * time.Second

// Credentials identifies the OAuth2 client. Scope order is kept in the authorization URL.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Option configures a Client.
type Option func(*clientConfig)

// clientConfig holds configuration for NewClient.
type clientConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	jsonRequests  bool
}

// WithTransport sets a custom base transport for token requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each token request. A timed-out request fails like any other exchange.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithJSONRequests sends token requests JSON-encoded instead of form-encoded.
func WithJSONRequests() Option {
	return func(c *clientConfig) {
		c.jsonRequests = true
	}
}

// Response is a successful token endpoint response.
type Response struct {
	Token *oauth2.Token
	// ExpiresIn is the provider-reported lifetime in seconds.
	ExpiresIn int64
	// Raw is the response body exactly as the provider sent it.
	Raw json.RawMessage
}

// Client performs authorization-code and refresh-token exchanges against one provider.
type Client struct {
	creds    Credentials
	endpoint oauth2.Endpoint
	cfg      clientConfig
}

// NewClient creates a Client for the given credentials and endpoint.
func NewClient(creds Credentials, endpoint oauth2.Endpoint, opts ...Option) *Client {
	cfg := clientConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		creds:    creds,
		endpoint: endpoint,
		cfg:      cfg,
	}
}

// AuthorizationURL formats the provider's authorization endpoint for the code grant.
// oauth2.Config.AuthCodeURL is not used because it encodes scope separators as "+"
// and reorders parameters.
func (c *Client) AuthorizationURL(redirectURI string) string {
	scopes := make([]string, len(c.creds.Scopes))
	for i, scope := range c.creds.Scopes {
		scopes[i] = url.QueryEscape(scope)
	}

	var sb strings.Builder
	sb.WriteString(c.endpoint.AuthURL)
	if strings.Contains(c.endpoint.AuthURL, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	sb.WriteString("client_id=")
	sb.WriteString(url.QueryEscape(c.creds.ClientID))
	sb.WriteString("&response_type=code&redirect_uri=")
	sb.WriteString(url.QueryEscape(redirectURI))
	sb.WriteString("&scope=")
	sb.WriteString(strings.Join(scopes, "%20"))
	return sb.String()
}

// Exchange trades an authorization code for a token pair.
// The redirect URI must match the one used to obtain the code.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (*Response, error) {
	recorder := c.recorder()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient(recorder))

	token, err := c.oauth2Config(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, newExchangeError(GrantAuthorizationCode, err, recorder.body())
	}

	return newResponse(token, recorder.body()), nil
}

// Refresh trades a refresh token for a new token pair. If the provider omits a new
// refresh token, the returned token carries the one that was sent.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Response, error) {
	recorder := c.recorder()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient(recorder))

	// A token without access token is always invalid, so the source refreshes immediately
	source := c.oauth2Config("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, newExchangeError(GrantRefreshToken, err, recorder.body())
	}

	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}

	return newResponse(token, recorder.body()), nil
}

func (c *Client) oauth2Config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       c.creds.Scopes,
	}
}

func (c *Client) recorder() *recordingTransport {
	var base http.RoundTripper = c.cfg.baseTransport
	if c.cfg.jsonRequests {
		base = &jsonRequestTransport{base: base}
	}
	return &recordingTransport{base: base}
}

// httpClient builds a per-exchange client. oauth2 picks it up from the context
// (oauth2.HTTPClient key).
func (c *Client) httpClient(transport http.RoundTripper) *http.Client {
	return &http.Client{
		Timeout:   c.cfg.timeout,
		Transport: transport,
	}
}

func newResponse(token *oauth2.Token, raw []byte) *Response {
	return &Response{
		Token:     token,
		ExpiresIn: expiresIn(token, raw),
		Raw:       json.RawMessage(raw),
	}
}

// expiresIn returns the provider-reported lifetime in seconds, or 0 if absent.
func expiresIn(token *oauth2.Token, raw []byte) int64 {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn
	}

	var body struct {
		ExpiresIn json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0
	}
	n, err := strconv.ParseInt(body.ExpiresIn.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
