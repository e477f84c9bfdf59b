// Package ratelimit coordinates server-declared rate-limit backoff across
// processes. When one worker receives a 429 with a Retry-After instant,
// every worker sharing the same Redis-backed state can hold off until that
// instant instead of each burning its own retry budget.
package ratelimit

import (
	"time"
)

// Redis keys for shared backoff state storage.
const (
	RedisKeyRetryAt    = "atlassian:rate_limit:retry_at"
	RedisKeyHeader     = "atlassian:rate_limit:header"
	RedisKeyLastUpdate = "atlassian:rate_limit:last_update"
)

// BackoffState is the shared record of the most recent server-declared
// rate limit for a tenant.
type BackoffState struct {
	// RetryAt is the instant the server asked clients to retry at.
	// Zero when no backoff window has been recorded.
	RetryAt time.Time `json:"retry_at"`

	// HeaderValue is the raw Retry-After header that produced RetryAt.
	HeaderValue string `json:"header_value"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether the backoff window is still open at now.
func (s *BackoffState) Active(now time.Time) bool {
	return !s.RetryAt.IsZero() && now.Before(s.RetryAt)
}

// TimeUntilRetry returns the duration until the backoff window closes.
// Returns 0 if the window has already closed or none was recorded.
func (s *BackoffState) TimeUntilRetry(now time.Time) time.Duration {
	if s.RetryAt.IsZero() {
		return 0
	}
	remaining := s.RetryAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsStale returns true if the state is older than the given duration.
func (s *BackoffState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
