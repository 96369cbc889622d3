package tokenmanager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	errCodeRedeemed = errors.New("authorization code was already redeemed")
	errCodeInFlight = errors.New("authorization code is already being exchanged")
)

// codeLedger makes sure an authorization code leads to at most one successful exchange.
type codeLedger struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	redeemed map[string]struct{}
}

func newCodeLedger() *codeLedger {
	return &codeLedger{
		pending:  make(map[string]struct{}),
		redeemed: make(map[string]struct{}),
	}
}

// claim reserves code for one exchange attempt.
func (l *codeLedger) claim(code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.redeemed[code]; ok {
		return errCodeRedeemed
	}
	if _, ok := l.pending[code]; ok {
		return errCodeInFlight
	}
	l.pending[code] = struct{}{}
	return nil
}

// settle ends an attempt. A failed attempt frees the code again.
func (l *codeLedger) settle(code string, redeemed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.pending, code)
	if redeemed {
		l.redeemed[code] = struct{}{}
	}
}

// authorize exchanges an authorization code and installs the resulting record.
// The record becomes current only after it has been persisted.
func (m *Manager) authorize(ctx context.Context, code string) (*TokenRecord, error) {
	if err := m.codes.claim(code); err != nil {
		return nil, err
	}

	resp, err := m.client.Exchange(ctx, code, m.redirectURI)
	m.codes.settle(code, err == nil)
	if err != nil {
		return nil, err
	}

	record := newRecord(resp, m.now())

	// The code is spent now, so a client that goes away must not discard the token
	ctx = context.WithoutCancel(ctx)

	if err := m.guard.Acquire(ctx); err != nil {
		return nil, err
	}
	defer m.guard.Release()

	if err := m.persistRecord(ctx, record); err != nil {
		return nil, err
	}
	m.setRecord(record, false)

	slog.InfoContext(ctx, "authorization completed", "expires_at", record.ExpiresAt)
	return record, nil
}
