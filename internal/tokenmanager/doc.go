// Package tokenmanager keeps one OAuth2 access/refresh token pair valid for a host
// application.
//
// A Manager owns the client credentials and a pre-opened loopback listener. Its HTTP
// surface completes the authorization-code grant:
//
//	GET  /login         302 to the provider's authorization page
//	GET  /callback      exchanges ?code=, persists the token, returns it as JSON
//	POST /refreshToken  stateless refresh exchange, returns the provider's JSON
//
// A background loop refreshes the token before it expires. Expiry is computed once,
// when a token is received, with SafetyMargin subtracted. While a refresh cycle runs,
// GetToken blocks, so callers see either the old token or the new one. A failed
// refresh keeps the old token and is retried on the next tick.
//
//	m, err := tokenmanager.New(creds, listener, store)
//	errCh, err := m.StartServer(ctx)
//	token, err := m.GetToken(ctx)
//
// The /callback response reports expires_in as an absolute epoch timestamp rather
// than a lifetime, matching the format existing consumers expect.
package tokenmanager
