package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared backoff tracking.
var (
	sharedBackoffSecondsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlassian_shared_backoff_seconds_remaining",
		Help: "Seconds remaining in the shared server-declared backoff window",
	})

	sharedBackoffRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlassian_shared_backoff_records_total",
		Help: "Total number of server rate-limit windows recorded to shared state",
	})
)

// stateMargin keeps recorded state alive slightly past the window so late
// readers still see why they were held back.
const stateMargin = 30 * time.Second

// Tracker stores and reads the shared backoff window in Redis.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new shared backoff tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// State retrieves the current shared backoff state. Returns an empty state
// if nothing has been recorded (or the record expired).
func (t *Tracker) State(ctx context.Context) (*BackoffState, error) {
	retryAtUnix, err := t.redis.Get(ctx, RedisKeyRetryAt).Int64()
	if err == redis.Nil {
		return &BackoffState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retry at: %w", err)
	}

	headerValue, err := t.redis.Get(ctx, RedisKeyHeader).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get header value: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return &BackoffState{
		RetryAt:     time.Unix(retryAtUnix, 0).UTC(),
		HeaderValue: headerValue,
		LastUpdate:  lastUpdate,
	}, nil
}

// RecordRetryAfter stores a server-declared retry-at instant. The record
// expires on its own shortly after the window closes. Later windows replace
// earlier ones; an instant before the currently stored one is kept anyway,
// because the server's latest word wins.
func (t *Tracker) RecordRetryAfter(ctx context.Context, retryAt time.Time, headerValue string) error {
	now := time.Now()
	ttl := retryAt.Sub(now) + stateMargin
	if ttl <= 0 {
		ttl = stateMargin
	}

	lastUpdateJSON, err := json.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRetryAt, retryAt.Unix(), ttl)
	pipe.Set(ctx, RedisKeyHeader, headerValue, ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store backoff state in redis: %w", err)
	}

	remaining := time.Until(retryAt)
	if remaining < 0 {
		remaining = 0
	}
	sharedBackoffSecondsRemaining.Set(remaining.Seconds())
	sharedBackoffRecordsTotal.Inc()

	t.logger.Warn().
		Time("retry_at", retryAt).
		Str("header_value", headerValue).
		Dur("remaining", remaining).
		Msg("Recorded shared rate-limit backoff window")

	return nil
}
