package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

var testCreds = Credentials{
	ClientID:     "client-id",
	ClientSecret: "client-secret",
	Scopes:       []string{"user-read-private", "playlist-read-private"},
}

// newProviderServer starts a mock token endpoint. handle receives the parsed form values.
func newProviderServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, form map[string]string)) (*httptest.Server, oauth2.Endpoint) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != testCreds.ClientID || pass != testCreds.ClientSecret {
			t.Errorf("basic auth = (%q, %q, %v), want client credentials", user, pass, ok)
		}

		form := make(map[string]string)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
				t.Errorf("decoding JSON body: %v", err)
			}
		} else {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parsing form: %v", err)
			}
			for key := range r.PostForm {
				form[key] = r.PostForm.Get(key)
			}
		}

		handle(w, r, form)
	}))
	t.Cleanup(srv.Close)

	return srv, oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/api/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

func writeTokenJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestAuthorizationURL(t *testing.T) {
	tests := []struct {
		name     string
		authURL  string
		creds    Credentials
		redirect string
		want     string
	}{
		{
			name:     "scopes joined with escaped space",
			authURL:  "https://accounts.spotify.com/authorize",
			creds:    testCreds,
			redirect: "http://127.0.0.1:8888/callback",
			want: "https://accounts.spotify.com/authorize?client_id=client-id&response_type=code" +
				"&redirect_uri=http%3A%2F%2F127.0.0.1%3A8888%2Fcallback&scope=user-read-private%20playlist-read-private",
		},
		{
			name:     "no scopes",
			authURL:  "https://example.com/oauth/authorize",
			creds:    Credentials{ClientID: "abc"},
			redirect: "http://localhost/callback",
			want:     "https://example.com/oauth/authorize?client_id=abc&response_type=code&redirect_uri=http%3A%2F%2Flocalhost%2Fcallback&scope=",
		},
		{
			name:     "auth URL with existing query",
			authURL:  "https://example.com/authorize?prompt=consent",
			creds:    Credentials{ClientID: "abc", Scopes: []string{"a:b"}},
			redirect: "http://localhost/callback",
			want:     "https://example.com/authorize?prompt=consent&client_id=abc&response_type=code&redirect_uri=http%3A%2F%2Flocalhost%2Fcallback&scope=a%3Ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.creds, oauth2.Endpoint{AuthURL: tt.authURL})
			if got := client.AuthorizationURL(tt.redirect); got != tt.want {
				t.Errorf("AuthorizationURL() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestExchange(t *testing.T) {
	const body = `{"access_token":"AT1","refresh_token":"RT1","token_type":"Bearer","expires_in":3600,"scope":"user-read-private"}`

	_, endpoint := newProviderServer(t, func(w http.ResponseWriter, r *http.Request, form map[string]string) {
		if form["grant_type"] != "authorization_code" {
			t.Errorf("grant_type = %q", form["grant_type"])
		}
		if form["code"] != "abc123" {
			t.Errorf("code = %q", form["code"])
		}
		if form["redirect_uri"] != "http://127.0.0.1:8888/callback" {
			t.Errorf("redirect_uri = %q", form["redirect_uri"])
		}
		writeTokenJSON(w, http.StatusOK, body)
	})

	client := NewClient(testCreds, endpoint)
	resp, err := client.Exchange(context.Background(), "abc123", "http://127.0.0.1:8888/callback")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if resp.Token.AccessToken != "AT1" || resp.Token.RefreshToken != "RT1" || resp.Token.TokenType != "Bearer" {
		t.Errorf("token = %+v", resp.Token)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}
	if string(resp.Raw) != body {
		t.Errorf("Raw = %s, want %s", resp.Raw, body)
	}
}

func TestExchangeErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "provider rejects code",
			status:     http.StatusBadRequest,
			body:       `{"error":"invalid_grant","error_description":"Invalid authorization code"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "invalid_grant: Invalid authorization code",
		},
		{
			name:       "malformed success body",
			status:     http.StatusOK,
			body:       `not json`,
			wantStatus: 0,
			wantMsg:    "not json",
		},
		{
			name:       "missing access token",
			status:     http.StatusOK,
			body:       `{"token_type":"Bearer"}`,
			wantStatus: 0,
			wantMsg:    `{"token_type":"Bearer"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, endpoint := newProviderServer(t, func(w http.ResponseWriter, r *http.Request, form map[string]string) {
				writeTokenJSON(w, tt.status, tt.body)
			})

			client := NewClient(testCreds, endpoint)
			_, err := client.Exchange(context.Background(), "abc123", "http://localhost/callback")

			var exchangeErr *ExchangeError
			if !errors.As(err, &exchangeErr) {
				t.Fatalf("Exchange() error = %v, want *ExchangeError", err)
			}
			if exchangeErr.Grant != GrantAuthorizationCode {
				t.Errorf("Grant = %q", exchangeErr.Grant)
			}
			if exchangeErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", exchangeErr.StatusCode, tt.wantStatus)
			}
			if got := exchangeErr.ProviderMessage(); got != tt.wantMsg {
				t.Errorf("ProviderMessage() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	tests := []struct {
		name             string
		body             string
		wantRefreshToken string
	}{
		{
			name:             "rotated refresh token",
			body:             `{"access_token":"AT2","refresh_token":"RT2","token_type":"Bearer","expires_in":3600}`,
			wantRefreshToken: "RT2",
		},
		{
			name:             "refresh token omitted keeps the old one",
			body:             `{"access_token":"AT2","token_type":"Bearer","expires_in":3600}`,
			wantRefreshToken: "RT1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, endpoint := newProviderServer(t, func(w http.ResponseWriter, r *http.Request, form map[string]string) {
				if form["grant_type"] != "refresh_token" {
					t.Errorf("grant_type = %q", form["grant_type"])
				}
				if form["refresh_token"] != "RT1" {
					t.Errorf("refresh_token = %q", form["refresh_token"])
				}
				writeTokenJSON(w, http.StatusOK, tt.body)
			})

			client := NewClient(testCreds, endpoint)
			resp, err := client.Refresh(context.Background(), "RT1")
			if err != nil {
				t.Fatalf("Refresh() error = %v", err)
			}
			if resp.Token.AccessToken != "AT2" {
				t.Errorf("AccessToken = %q", resp.Token.AccessToken)
			}
			if resp.Token.RefreshToken != tt.wantRefreshToken {
				t.Errorf("RefreshToken = %q, want %q", resp.Token.RefreshToken, tt.wantRefreshToken)
			}
			if string(resp.Raw) != tt.body {
				t.Errorf("Raw = %s", resp.Raw)
			}
		})
	}
}

func TestRefreshRejected(t *testing.T) {
	_, endpoint := newProviderServer(t, func(w http.ResponseWriter, r *http.Request, form map[string]string) {
		writeTokenJSON(w, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid refresh token"}`)
	})

	client := NewClient(testCreds, endpoint)
	_, err := client.Refresh(context.Background(), "bad")

	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("Refresh() error = %v, want *ExchangeError", err)
	}
	if exchangeErr.Grant != GrantRefreshToken {
		t.Errorf("Grant = %q", exchangeErr.Grant)
	}
	if !strings.Contains(err.Error(), "Invalid refresh token") {
		t.Errorf("Error() = %q, want provider description", err.Error())
	}
}

func TestRefreshTimeout(t *testing.T) {
	release := make(chan struct{})
	_, endpoint := newProviderServer(t, func(w http.ResponseWriter, r *http.Request, form map[string]string) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := NewClient(testCreds, endpoint, WithTimeout(50*time.Millisecond))
	_, err := client.Refresh(context.Background(), "RT1")

	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("Refresh() error = %v, want *ExchangeError", err)
	}
	if exchangeErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", exchangeErr.StatusCode)
	}
}

func TestJSONRequests(t *testing.T) {
	_, endpoint := newProviderServer(t, func(w http.ResponseWriter, r *http.Request, form map[string]string) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if form["grant_type"] != "refresh_token" || form["refresh_token"] != "RT1" {
			t.Errorf("form = %v", form)
		}
		writeTokenJSON(w, http.StatusOK, `{"access_token":"AT2","token_type":"Bearer","expires_in":60}`)
	})

	client := NewClient(testCreds, endpoint, WithJSONRequests())
	resp, err := client.Refresh(context.Background(), "RT1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if resp.ExpiresIn != 60 {
		t.Errorf("ExpiresIn = %d, want 60", resp.ExpiresIn)
	}
}
