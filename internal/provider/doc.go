// Package provider talks to the OAuth2 provider's authorization and token endpoints.
//
// It covers the two exchanges the token manager needs, both sent under HTTP basic
// authentication with the client credentials:
//   - authorization code → token pair (grant_type=authorization_code)
//   - refresh token → token pair (grant_type=refresh_token)
//
// Exchanges go through golang.org/x/oauth2. Every response body is recorded so callers
// can forward the provider's raw JSON, and rejections surface as *ExchangeError with the
// provider's error payload attached.
//
// # Authorization URL
//
// Scopes are joined with a literal %20 and the parameters keep a fixed order:
//
//	client := provider.NewClient(provider.Credentials{ClientID: "id", ClientSecret: "secret", Scopes: scopes}, provider.Spotify)
//	url := client.AuthorizationURL("http://127.0.0.1:8888/callback")
//
// # JSON token requests
//
// Some providers reject form-encoded token requests. WithJSONRequests converts oauth2's
// form bodies to JSON before they leave the process:
//
//	client := provider.NewClient(creds, endpoint, provider.WithJSONRequests())
package provider
