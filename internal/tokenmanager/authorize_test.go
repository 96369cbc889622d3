package tokenmanager

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/florianilch/tokenkeeper/internal/tokenstore"
)

func (l *codeLedger) isRedeemed(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.redeemed[code]
	return ok
}

func TestAuthorizeSurvivesCanceledRequest(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	endpoint := newMockProvider(t, func(w http.ResponseWriter, form url.Values) {
		writeProviderJSON(w, http.StatusOK, `{"access_token":"AT1","refresh_token":"RT1","token_type":"Bearer","expires_in":3600}`)
	})
	m := newTestManager(t, endpoint, store)
	waitHousekeeping(t, m)

	// A refresh cycle holds the guard while the code is exchanged
	if err := m.guard.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		record *TokenRecord
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := m.authorize(ctx, "abc123")
		done <- result{record, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !m.codes.isRedeemed("abc123") {
		if time.Now().After(deadline) {
			t.Fatal("code never exchanged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The client goes away while authorize waits for the guard
	cancel()
	time.Sleep(blockedFor)
	m.guard.Release()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("authorize() error = %v", res.err)
		}
		if res.record.AccessToken != "AT1" {
			t.Errorf("record access token = %q, want AT1", res.record.AccessToken)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("authorize() did not return after the guard was released")
	}

	if got := readStore(t, store, tokenstore.KeyToken); got != "AT1" {
		t.Errorf("stored token = %q, want AT1", got)
	}
	if record := m.currentRecord(); record == nil || record.AccessToken != "AT1" {
		t.Errorf("current record = %+v, want AT1", record)
	}
}

func TestCodeLedger(t *testing.T) {
	l := newCodeLedger()

	if err := l.claim("c1"); err != nil {
		t.Fatalf("claim() error = %v", err)
	}
	if err := l.claim("c1"); err != errCodeInFlight {
		t.Errorf("second claim() error = %v, want errCodeInFlight", err)
	}

	l.settle("c1", false)
	if err := l.claim("c1"); err != nil {
		t.Fatalf("claim() after failed attempt error = %v", err)
	}

	l.settle("c1", true)
	if err := l.claim("c1"); err != errCodeRedeemed {
		t.Errorf("claim() after redemption error = %v, want errCodeRedeemed", err)
	}
}
