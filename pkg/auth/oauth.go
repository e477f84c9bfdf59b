package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// OAuthConfig holds the credentials for an OAuth 2.0 refresh-token exchange.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// TokenURL is the token endpoint of the authorization server.
	TokenURL string

	Scopes []string

	// HTTPClient is used for the token refresh exchange (optional,
	// defaults to http.DefaultClient).
	HTTPClient *http.Client
}

// OAuthRefreshAuth emits a Bearer Authorization header backed by a cached,
// lazily refreshed access token. The first Headers call and every call after
// the cached token expires perform a refresh exchange against the token
// endpoint; concurrent callers share a single refresh via the underlying
// oauth2.TokenSource.
type OAuthRefreshAuth struct {
	source oauth2.TokenSource
}

// NewOAuthRefreshAuth creates an OAuthRefreshAuth credential. The context
// bounds the lifetime of token refresh exchanges performed on behalf of
// later Headers calls.
func NewOAuthRefreshAuth(ctx context.Context, cfg OAuthConfig) (*OAuthRefreshAuth, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, &ConfigError{Reason: "client id is required"}
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, &ConfigError{Reason: "client secret is required"}
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return nil, &ConfigError{Reason: "refresh token is required"}
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, &ConfigError{Reason: "token url is required"}
	}
	// A refresh token identical to the client secret means the two values
	// were swapped or pasted into the wrong field. Refuse up front instead
	// of burning a request on a refresh that can never succeed.
	if cfg.RefreshToken == cfg.ClientSecret {
		return nil, &ConfigError{Reason: "refresh token is identical to the client secret"}
	}

	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}

	// Config.TokenSource caches the access token until expiry and
	// serializes concurrent refreshes.
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	return &OAuthRefreshAuth{source: source}, nil
}

// Headers returns a Bearer Authorization header from the cached access
// token, refreshing it first if it is empty or expired.
func (a *OAuthRefreshAuth) Headers(_ context.Context) (http.Header, error) {
	tok, err := a.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	return h, nil
}
