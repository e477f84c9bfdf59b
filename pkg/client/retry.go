package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RetryConfig holds the configuration for server rate-limit recovery.
// Only 429 responses are retried; every other failure is terminal for the
// call. Retries are capped by attempt count, not wall-clock alone, so a
// server returning very short Retry-After values cannot keep a call alive
// indefinitely.
type RetryConfig struct {
	// MaxRetries429 is the number of re-attempts after the initial request.
	MaxRetries429 int

	// RetryAfterCap is the upper bound applied to a single Retry-After wait.
	RetryAfterCap time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries429: 3,
		RetryAfterCap: 60 * time.Second,
	}
}

// ParseRetryAfter parses a Retry-After header value. RFC3339 timestamps are
// tried first, then the HTTP-date formats. The result is normalized to UTC.
func ParseRetryAfter(value string) (time.Time, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return time.Time{}, fmt.Errorf("Retry-After header is empty")
	}

	if parsed, err := time.Parse(time.RFC3339, candidate); err == nil {
		return parsed.UTC(), nil
	}

	if parsed, err := http.ParseTime(candidate); err == nil {
		return parsed.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unable to parse Retry-After header: %q", candidate)
}

// retryWait computes how long to sleep before re-attempting a rate-limited
// request, clamped to [0, cap].
func retryWait(now, retryAt time.Time, cap time.Duration) time.Duration {
	wait := retryAt.Sub(now)
	if wait < 0 {
		return 0
	}
	if wait > cap {
		return cap
	}
	return wait
}

// sleepCtx blocks for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
