package tokenstore

import (
	"context"
	"errors"
)

// Tokens exposes the token manager's persistence contract on top of a TokenStore.
// All failures are returned as *StorageError.
type Tokens struct {
	store TokenStore
}

// NewTokens wraps store.
func NewTokens(store TokenStore) *Tokens {
	return &Tokens{store: store}
}

// StoreTokenDetails persists the serialized token record.
func (t *Tokens) StoreTokenDetails(ctx context.Context, serialized string) error {
	return t.write(ctx, KeyTokenDetails, serialized)
}

// StoreToken persists the bare access token.
func (t *Tokens) StoreToken(ctx context.Context, accessToken string) error {
	return t.write(ctx, KeyToken, accessToken)
}

// GetToken returns the access token. ok is false if no token was ever stored.
func (t *Tokens) GetToken(ctx context.Context) (token string, ok bool, err error) {
	return t.read(ctx, KeyToken)
}

// GetTokenDetails returns the serialized token record. ok is false if none was stored.
func (t *Tokens) GetTokenDetails(ctx context.Context) (serialized string, ok bool, err error) {
	return t.read(ctx, KeyTokenDetails)
}

func (t *Tokens) read(ctx context.Context, key string) (string, bool, error) {
	value, err := t.store.Read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Op: "read", Key: key, Err: err}
	}
	return value, true, nil
}

func (t *Tokens) write(ctx context.Context, key, value string) error {
	if err := t.store.Write(ctx, key, value); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}
	return nil
}
