package tokenmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var errNoRefreshToken = errors.New("no refresh token available")

// refreshLoop runs until ctx is canceled. The guard is held on entry and released
// once housekeeping is done.
func (m *Manager) refreshLoop(ctx context.Context) {
	defer close(m.loopDone)

	m.housekeeping(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// housekeeping loads the persisted record and refreshes it if it is already due.
func (m *Manager) housekeeping(ctx context.Context) {
	defer m.guard.Release()

	serialized, ok, err := m.tokens.GetTokenDetails(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load persisted token", "error", err)
		return
	}
	if !ok {
		slog.InfoContext(ctx, "no persisted token, waiting for authorization", "redirect_uri", m.redirectURI)
		return
	}

	var record TokenRecord
	if err := json.Unmarshal([]byte(serialized), &record); err != nil {
		slog.ErrorContext(ctx, "ignoring unreadable persisted token", "error", err)
		return
	}
	m.setRecord(&record, false)
	slog.InfoContext(ctx, "loaded persisted token", "expires_at", record.ExpiresAt)

	m.repairAccessToken(ctx, &record)

	if !m.refreshDue() {
		return
	}
	if err := m.refreshLocked(ctx); err != nil {
		slog.WarnContext(ctx, "initial token refresh failed, keeping current token", "error", err)
	}
}

// repairAccessToken rewrites the token key when an earlier persist stopped after the
// details write. Caller must hold the guard.
func (m *Manager) repairAccessToken(ctx context.Context, record *TokenRecord) {
	token, ok, err := m.tokens.GetToken(ctx)
	if err == nil && ok && token == record.AccessToken {
		return
	}

	slog.WarnContext(ctx, "stored access token does not match the persisted record, rewriting it")
	if err := m.tokens.StoreToken(ctx, record.AccessToken); err != nil {
		// tick rewrites both keys
		m.setRecord(record, true)
		slog.ErrorContext(ctx, "failed to rewrite stored access token", "error", err)
	}
}

// tick retries a pending persist and starts a refresh cycle when the token is due.
func (m *Manager) tick(ctx context.Context) {
	if m.isDirty() {
		if err := m.persistCycle(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to persist refreshed token", "error", err)
		}
	}

	if !m.refreshDue() {
		return
	}
	if err := m.refreshCycle(ctx); err != nil {
		slog.WarnContext(ctx, "token refresh failed, keeping current token", "error", err)
	}
}

// refreshDue reports whether the record expires within one tick.
func (m *Manager) refreshDue() bool {
	record := m.currentRecord()
	if record == nil || record.RefreshToken == "" {
		return false
	}
	return record.Expired(m.now().Add(m.interval))
}

func (m *Manager) isDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// refreshCycle holds the guard for one refresh. The guard is released on every path.
func (m *Manager) refreshCycle(ctx context.Context) error {
	if err := m.guard.Acquire(ctx); err != nil {
		return err
	}
	defer m.guard.Release()

	return m.refreshLocked(ctx)
}

// refreshLocked exchanges the refresh token and installs the result. On failure the
// current record and the store are left untouched. Caller must hold the guard.
func (m *Manager) refreshLocked(ctx context.Context) error {
	current := m.currentRecord()
	if current == nil || current.RefreshToken == "" {
		return errNoRefreshToken
	}

	resp, err := m.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return err
	}

	next := newRecord(resp, m.now())
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	// The provider may have revoked the old refresh token, so the new record is kept
	// in memory even if persisting fails. tick retries the write.
	m.setRecord(next, true)
	if err := m.persistRecord(ctx, next); err != nil {
		return err
	}

	slog.InfoContext(ctx, "token refreshed", "expires_at", next.ExpiresAt)
	return nil
}

// persistCycle writes a dirty record under the guard.
func (m *Manager) persistCycle(ctx context.Context) error {
	if err := m.guard.Acquire(ctx); err != nil {
		return err
	}
	defer m.guard.Release()

	record := m.currentRecord()
	if record == nil || !m.isDirty() {
		return nil
	}
	return m.persistRecord(ctx, record)
}

// persistRecord writes the serialized record, then the bare access token. A record
// that is still current afterwards is marked clean. Caller must hold the guard.
func (m *Manager) persistRecord(ctx context.Context, record *TokenRecord) error {
	serialized, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serializing token record: %w", err)
	}

	if err := m.tokens.StoreTokenDetails(ctx, string(serialized)); err != nil {
		return err
	}
	if err := m.tokens.StoreToken(ctx, record.AccessToken); err != nil {
		return err
	}

	m.mu.Lock()
	if m.record == record {
		m.dirty = false
	}
	m.mu.Unlock()
	return nil
}

// RefreshRaw exchanges refreshToken at the provider and returns the provider's raw JSON
// response. It is independent of the managed token: the guard, the current record and
// the store are not touched.
func (m *Manager) RefreshRaw(ctx context.Context, refreshToken string) (json.RawMessage, error) {
	resp, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return resp.Raw, nil
}
