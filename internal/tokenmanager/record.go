package tokenmanager

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/florianilch/tokenkeeper/internal/provider"
)

// TokenRecord is the managed token pair. ExpiresAt is absolute and already has
// SafetyMargin subtracted. A record is never mutated once built; refreshes replace it.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// storedRecord is the persisted form of TokenRecord.
type storedRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"` // epoch seconds
}

// MarshalJSON encodes the record with expires_at in epoch seconds.
func (r TokenRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(storedRecord{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    r.ExpiresAt.Unix(),
	})
}

// UnmarshalJSON decodes a record written by MarshalJSON.
func (r *TokenRecord) UnmarshalJSON(data []byte) error {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.AccessToken == "" {
		return fmt.Errorf("token record without access_token")
	}

	*r = TokenRecord{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		ExpiresAt:    time.Unix(stored.ExpiresAt, 0),
	}
	return nil
}

// Expired reports whether the record must be refreshed at now.
func (r *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// newRecord builds a record from a token endpoint response received at now.
func newRecord(resp *provider.Response, now time.Time) *TokenRecord {
	return &TokenRecord{
		AccessToken:  resp.Token.AccessToken,
		RefreshToken: resp.Token.RefreshToken,
		TokenType:    resp.Token.TokenType,
		ExpiresAt:    ComputeExpiry(now, resp.ExpiresIn),
	}
}

// callbackResponse is the /callback response body.
//
// ExpiresIn carries the absolute expiry in epoch seconds, not a lifetime. Existing
// consumers read the field under this name, so it deviates from standard OAuth2 on purpose.
type callbackResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

func newCallbackResponse(r *TokenRecord) callbackResponse {
	return callbackResponse{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		ExpiresIn:    r.ExpiresAt.Unix(),
		RefreshToken: r.RefreshToken,
	}
}
