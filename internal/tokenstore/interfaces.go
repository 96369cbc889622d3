package tokenstore

import (
	"context"
	"errors"
)

// Well-known keys used by the token manager. There is no namespacing: one store holds
// exactly one token pair.
const (
	KeyTokenDetails = "token_details"
	KeyToken        = "token"
)

// ErrNotFound is returned by Read when no value has been written for the key.
var ErrNotFound = errors.New("tokenstore: key not found")

// TokenStore reads and writes string values under fixed keys in persistent storage.
type TokenStore interface {
	// Read returns the value stored under key, or ErrNotFound if nothing was written yet.
	Read(ctx context.Context, key string) (string, error)

	// Write persists value under key, replacing any previous value.
	Write(ctx context.Context, key string, value string) error
}
