// Package auth produces per-request authentication materials for the
// Atlassian APIs. Four credential schemes are supported: bearer tokens
// supplied by a callback, Basic email+API-token pairs, raw session cookies,
// and OAuth 2.0 refresh-token credentials that rotate their own access token.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrTokenRefresh is returned when an OAuth access token refresh fails.
// Refresh failures are fatal for the request; the rate-limit retry policy
// never re-attempts them.
var ErrTokenRefresh = errors.New("oauth token refresh failed")

// ConfigError reports malformed or contradictory credential configuration.
// It is returned at construction time so a broken setup fails before any
// request is attempted.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("auth configuration error: %s", e.Reason)
}

// Provider produces the header set to attach to an outgoing request.
// Implementations must be safe for concurrent use; Headers is called once
// per request attempt.
type Provider interface {
	Headers(ctx context.Context) (http.Header, error)
}

// TokenAuth emits a Bearer Authorization header from a caller-supplied
// token function. The function is invoked on every call so rotated tokens
// are picked up between requests.
type TokenAuth struct {
	token func() string
}

// NewTokenAuth creates a TokenAuth from a token supplier function.
func NewTokenAuth(token func() string) (*TokenAuth, error) {
	if token == nil {
		return nil, &ConfigError{Reason: "token function is required"}
	}
	return &TokenAuth{token: token}, nil
}

// Headers returns the Authorization header for the current token.
func (a *TokenAuth) Headers(_ context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.token())
	return h, nil
}

// BasicAuth emits a Basic Authorization header from an account email and
// an Atlassian API token.
type BasicAuth struct {
	encoded string
}

// NewBasicAuth creates a BasicAuth credential.
func NewBasicAuth(email, apiToken string) (*BasicAuth, error) {
	if strings.TrimSpace(email) == "" {
		return nil, &ConfigError{Reason: "email is required"}
	}
	if strings.TrimSpace(apiToken) == "" {
		return nil, &ConfigError{Reason: "api token is required"}
	}
	raw := email + ":" + apiToken
	return &BasicAuth{
		encoded: base64.StdEncoding.EncodeToString([]byte(raw)),
	}, nil
}

// Headers returns the Basic Authorization header.
func (a *BasicAuth) Headers(_ context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Authorization", "Basic "+a.encoded)
	return h, nil
}

// CookieAuth emits a Cookie header built from name=value pairs. Cookie
// names are sorted so the emitted header is deterministic.
type CookieAuth struct {
	header string
}

// NewCookieAuth creates a CookieAuth from a set of cookie pairs.
func NewCookieAuth(cookies map[string]string) (*CookieAuth, error) {
	if len(cookies) == 0 {
		return nil, &ConfigError{Reason: "at least one cookie is required"}
	}

	names := make([]string, 0, len(cookies))
	for name := range cookies {
		if strings.TrimSpace(name) == "" {
			return nil, &ConfigError{Reason: "cookie names must be non-empty"}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}

	return &CookieAuth{header: strings.Join(pairs, "; ")}, nil
}

// Headers returns the Cookie header.
func (a *CookieAuth) Headers(_ context.Context) (http.Header, error) {
	h := http.Header{}
	h.Set("Cookie", a.header)
	return h, nil
}
