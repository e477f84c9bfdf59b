// Package throttle implements a thread-safe token bucket that smooths the
// outgoing request rate before any network call is attempted, independent of
// what the server reports.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for local throttling.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlassian_throttle_wait_seconds",
		Help:    "Time spent waiting for local token bucket budget",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	throttleRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlassian_throttle_rejections_total",
		Help: "Requests refused because the token bucket could not be satisfied in time",
	})
)

// LocalRateLimitError is returned when the bucket cannot satisfy the
// requested cost within the allowed wait.
type LocalRateLimitError struct {
	// Cost is the estimated cost that was requested.
	Cost float64

	// Wait is the additional wait that would have been needed.
	Wait time.Duration

	// MaxWait is the configured maximum wait.
	MaxWait time.Duration

	// Err carries the context error when a cancellation cut the wait short.
	Err error
}

// Error implements the error interface.
func (e *LocalRateLimitError) Error() string {
	msg := fmt.Sprintf("local rate limit exceeded; estimated_cost=%g; wait_seconds=%.3f exceeds max_wait_seconds=%g",
		e.Cost, e.Wait.Seconds(), e.MaxWait.Seconds())
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LocalRateLimitError) Unwrap() error {
	return e.Err
}

// Clock returns the current time. Injectable for deterministic tests.
type Clock func() time.Time

// Sleeper blocks for the given duration or until the context is done.
// Injectable for deterministic tests.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock replaces the wall clock.
func WithClock(now Clock) Option {
	return func(b *Bucket) { b.now = now }
}

// WithSleeper replaces the blocking sleep.
func WithSleeper(sleep Sleeper) Option {
	return func(b *Bucket) { b.sleep = sleep }
}

// WithLogger sets the bucket logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bucket) { b.logger = logger }
}

// Bucket is a token bucket. Tokens refill proportionally to elapsed
// wall-clock time and are consumed per request. Safe for concurrent use;
// sleeping never happens while the lock is held.
type Bucket struct {
	capacity     float64
	refillPerSec float64

	now    Clock
	sleep  Sleeper
	logger zerolog.Logger

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// New creates a Bucket that starts full.
func New(capacity, refillPerSec float64, opts ...Option) (*Bucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive (got %g)", capacity)
	}
	if refillPerSec <= 0 {
		return nil, fmt.Errorf("refill rate must be positive (got %g)", refillPerSec)
	}

	b := &Bucket{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		now:          time.Now,
		sleep:        defaultSleep,
		logger:       zerolog.Nop(),
		tokens:       capacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.now()

	return b, nil
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Tokens reports the current token count after refill. The value is always
// within [0, capacity].
func (b *Bucket) Tokens() float64 {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	return b.tokens
}

// refillLocked accrues tokens for the elapsed time, clamped to capacity.
// Must be called with the lock held.
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+elapsed*b.refillPerSec)
	b.lastRefill = now
}

// Consume takes cost tokens from the bucket, waiting for refill when the
// budget is short. It returns the total time spent waiting. A cost of zero
// is a no-op. If the deadline (entry time + maxWait) would pass before
// enough tokens accrue, or the context is cancelled while waiting, Consume
// fails with a *LocalRateLimitError instead of blocking further.
func (b *Bucket) Consume(ctx context.Context, cost float64, maxWait time.Duration) (time.Duration, error) {
	if cost == 0 {
		return 0, nil
	}
	if cost < 0 {
		return 0, fmt.Errorf("cost must be positive (got %g)", cost)
	}
	if maxWait <= 0 {
		return 0, fmt.Errorf("max wait must be positive (got %v)", maxWait)
	}

	deadline := b.now().Add(maxWait)
	var waited time.Duration

	for {
		now := b.now()

		b.mu.Lock()
		// Accrued tokens may exceed capacity only inside this atomic
		// step, where a pending cost absorbs the overflow. Observed
		// token counts stay within [0, capacity].
		elapsed := now.Sub(b.lastRefill).Seconds()
		available := b.tokens
		if elapsed > 0 {
			available += elapsed * b.refillPerSec
		}
		if available >= cost {
			b.tokens = min(b.capacity, available-cost)
			b.lastRefill = now
			b.mu.Unlock()
			if waited > 0 {
				throttleWaitSeconds.Observe(waited.Seconds())
				b.logger.Debug().
					Float64("cost", cost).
					Dur("waited", waited).
					Msg("Token bucket satisfied after wait")
			}
			return waited, nil
		}
		b.tokens = min(b.capacity, available)
		b.lastRefill = now
		needed := time.Duration((cost - available) / b.refillPerSec * float64(time.Second))
		b.mu.Unlock()

		remaining := deadline.Sub(b.now())
		if remaining <= 0 || needed <= 0 {
			throttleRejectionsTotal.Inc()
			b.logger.Warn().
				Str("event", "local_rate_limit").
				Float64("cost", cost).
				Dur("wait", needed).
				Dur("max_wait", maxWait).
				Msg("Local rate limit exceeded")
			return waited, &LocalRateLimitError{Cost: cost, Wait: needed, MaxWait: maxWait}
		}

		sleepFor := min(needed, remaining)
		if err := b.sleep(ctx, sleepFor); err != nil {
			// External cancellation is treated like the deadline passing.
			throttleRejectionsTotal.Inc()
			b.logger.Warn().
				Str("event", "local_rate_limit").
				Float64("cost", cost).
				Dur("wait", needed).
				Dur("max_wait", maxWait).
				Msg("Cancelled while waiting for token budget")
			return waited, &LocalRateLimitError{Cost: cost, Wait: needed, MaxWait: maxWait, Err: err}
		}
		waited += sleepFor
	}
}
