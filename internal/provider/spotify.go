package provider

import (
	"golang.org/x/oauth2"
)

// Spotify defines the OAuth2 endpoints of the Spotify accounts service.
// The token endpoint expects client credentials in a basic auth header.
var Spotify = oauth2.Endpoint{
	AuthURL:   "https://accounts.spotify.com/authorize",
	TokenURL:  "https://accounts.spotify.com/api/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}
