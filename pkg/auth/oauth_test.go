package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTokenEndpoint(t *testing.T, refreshes *int32, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(refreshes, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint: parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
}

func TestOAuthRefreshAuth_RefreshesAndCaches(t *testing.T) {
	var refreshes int32
	srv := newTokenEndpoint(t, &refreshes, http.StatusOK,
		`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	a, err := NewOAuthRefreshAuth(context.Background(), OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
		TokenURL:     srv.URL + "/oauth/token",
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewOAuthRefreshAuth() error = %v", err)
	}

	h, err := a.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer fresh-token" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer fresh-token")
	}

	// A second call within the expiry window must reuse the cached token.
	if _, err := a.Headers(context.Background()); err != nil {
		t.Fatalf("Headers() second call error = %v", err)
	}
	if n := atomic.LoadInt32(&refreshes); n != 1 {
		t.Errorf("token endpoint called %d times, want 1", n)
	}
}

func TestOAuthRefreshAuth_RefreshFailure(t *testing.T) {
	var refreshes int32
	srv := newTokenEndpoint(t, &refreshes, http.StatusBadRequest,
		`{"error":"invalid_grant"}`)
	defer srv.Close()

	a, err := NewOAuthRefreshAuth(context.Background(), OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "revoked-token",
		TokenURL:     srv.URL + "/oauth/token",
		HTTPClient:   srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewOAuthRefreshAuth() error = %v", err)
	}

	_, err = a.Headers(context.Background())
	if !errors.Is(err, ErrTokenRefresh) {
		t.Errorf("Headers() error = %v, want ErrTokenRefresh", err)
	}
}

func TestOAuthRefreshAuth_Validation(t *testing.T) {
	valid := OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
		TokenURL:     "https://auth.example.com/oauth/token",
	}

	tests := []struct {
		name   string
		mutate func(cfg *OAuthConfig)
	}{
		{"missing_client_id", func(c *OAuthConfig) { c.ClientID = "" }},
		{"missing_client_secret", func(c *OAuthConfig) { c.ClientSecret = "" }},
		{"missing_refresh_token", func(c *OAuthConfig) { c.RefreshToken = "" }},
		{"missing_token_url", func(c *OAuthConfig) { c.TokenURL = "" }},
		{"refresh_token_equals_secret", func(c *OAuthConfig) { c.RefreshToken = c.ClientSecret }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			_, err := NewOAuthRefreshAuth(context.Background(), cfg)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("NewOAuthRefreshAuth() error = %v, want *ConfigError", err)
			}
		})
	}
}
