// Package client provides the core Atlassian HTTP transport with
// authentication, local throttling, and recovery from server-declared rate
// limits. It executes single GraphQL and REST operations; multi-page
// retrieval is layered on top by pkg/pagination.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/syncwell/atlassian-go/pkg/auth"
	"github.com/syncwell/atlassian-go/pkg/logging"
	"github.com/syncwell/atlassian-go/pkg/ratelimit"
	"github.com/syncwell/atlassian-go/pkg/throttle"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlassian_requests_total",
		Help: "Total requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlassian_request_duration_seconds",
		Help:    "Request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"operation"})

	serverRateLimitEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlassian_server_rate_limit_events_total",
		Help: "Total 429 responses received from the server",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlassian_retries_total",
		Help: "Total number of rate-limit retry attempts",
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlassian_retry_exhausted_total",
		Help: "Total number of times the rate-limit retry budget was exhausted",
	})
)

// defaultGraphQLPath is the Atlassian cloud GraphQL gateway path.
const defaultGraphQLPath = "/gateway/api/graphql"

// Config holds the client configuration.
type Config struct {
	// BaseURL is the site root, e.g. "https://api.atlassian.com".
	BaseURL string

	// Auth produces per-request authentication headers (required).
	Auth auth.Provider

	// HTTPClient sends the requests (default: 30s timeout client).
	HTTPClient *http.Client

	// Bucket throttles outgoing request rate locally (optional).
	Bucket *throttle.Bucket

	// Tracker shares server-declared backoff windows across processes
	// (optional).
	Tracker *ratelimit.Tracker

	// Retry controls recovery from 429 responses.
	Retry RetryConfig

	// EstimatedCost is the token-bucket cost charged per request.
	EstimatedCost float64

	// MaxThrottleWait bounds how long a request waits on the local bucket
	// or a shared backoff window before failing.
	MaxThrottleWait time.Duration

	// GraphQLPath overrides the GraphQL endpoint path.
	GraphQLPath string

	// ExperimentalAPIs lists opt-in feature names; each is sent as its own
	// X-ExperimentalApi header on every request.
	ExperimentalAPIs []string

	// UserAgent identifies this client to the server.
	UserAgent string

	// Logger overrides the component logger (optional).
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string, provider auth.Provider) Config {
	return Config{
		BaseURL:         baseURL,
		Auth:            provider,
		Retry:           DefaultRetryConfig(),
		EstimatedCost:   1,
		MaxThrottleWait: 30 * time.Second,
		GraphQLPath:     defaultGraphQLPath,
		UserAgent:       "atlassian-go/0.1.0",
	}
}

// Client executes single logical operations against the Atlassian APIs.
// Safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth provider is required")
	}
	if cfg.EstimatedCost < 0 {
		return nil, fmt.Errorf("estimated cost must not be negative (got %g)", cfg.EstimatedCost)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry.RetryAfterCap <= 0 {
		cfg.Retry.RetryAfterCap = DefaultRetryConfig().RetryAfterCap
	}
	if cfg.MaxThrottleWait <= 0 {
		cfg.MaxThrottleWait = 30 * time.Second
	}
	if cfg.GraphQLPath == "" {
		cfg.GraphQLPath = defaultGraphQLPath
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "atlassian-go/0.1.0"
	}

	logger := logging.NewLogger("atlassian-client")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		config:     cfg,
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}, nil
}

// Execute runs one GraphQL operation. A response carrying errors returns an
// *OperationError alongside the decoded result, so partial data stays
// accessible; a response with neither data nor errors returns a
// *SerializationError.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, operationName string, experimental ...string) (*GraphQLResult, error) {
	payload := map[string]any{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	if operationName != "" {
		payload["operationName"] = operationName
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode GraphQL request: %w", err)
	}

	operation := operationName
	if operation == "" {
		operation = "graphql"
	}

	respBody, err := c.do(ctx, operation, experimental, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.GraphQLPath, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return decodeGraphQLResult(respBody)
}

// GetJSON performs a REST GET and returns the raw JSON body.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	target := c.config.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, err := c.do(ctx, path, nil, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// do executes one logical request: authentication, local throttling, shared
// backoff gating, the HTTP exchange, and bounded 429 recovery. Every path
// other than a 429 with retry budget remaining is terminal.
func (c *Client) do(ctx context.Context, operation string, experimental []string, build func() (*http.Request, error)) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())
	}()

	for attempt := 0; ; attempt++ {
		headers, err := c.config.Auth.Headers(ctx)
		if err != nil {
			requestsTotal.WithLabelValues(operation, "auth_error").Inc()
			return nil, fmt.Errorf("authenticate request: %w", err)
		}

		if c.config.Bucket != nil && c.config.EstimatedCost > 0 {
			if _, err := c.config.Bucket.Consume(ctx, c.config.EstimatedCost, c.config.MaxThrottleWait); err != nil {
				requestsTotal.WithLabelValues(operation, "local_rate_limited").Inc()
				return nil, err
			}
		}

		if err := c.waitSharedBackoff(ctx, operation); err != nil {
			return nil, err
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for key, vals := range headers {
			for _, val := range vals {
				req.Header.Add(key, val)
			}
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")
		for _, feature := range c.config.ExperimentalAPIs {
			req.Header.Add("X-ExperimentalApi", feature)
		}
		for _, feature := range experimental {
			req.Header.Add("X-ExperimentalApi", feature)
		}

		c.logger.Debug().
			Str("operation", operation).
			Str("method", req.Method).
			Int("attempt", attempt+1).
			Interface("headers", logging.SanitizeHeaders(req.Header)).
			Msg("Executing request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues(operation, "network_error").Inc()
			return nil, fmt.Errorf("execute request: %w", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			requestsTotal.WithLabelValues(operation, "read_error").Inc()
			return nil, fmt.Errorf("read response body: %w", readErr)
		}
		requestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryErr := c.handleRateLimited(ctx, operation, resp, attempt)
			if retryErr != nil {
				return nil, retryErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Warn().
				Str("operation", operation).
				Int("status", resp.StatusCode).
				Msg("Request failed with non-success status")
			return nil, &TransportError{
				StatusCode:  resp.StatusCode,
				BodySnippet: truncateBody(body),
			}
		}

		return body, nil
	}
}

// handleRateLimited processes a 429 response. It returns nil when the
// caller should re-attempt, or the terminal error otherwise.
func (c *Client) handleRateLimited(ctx context.Context, operation string, resp *http.Response, attempt int) error {
	serverRateLimitEventsTotal.Inc()

	headerValue := resp.Header.Get("Retry-After")
	retryAt, parseErr := ParseRetryAfter(headerValue)
	if parseErr != nil {
		return &RateLimitError{
			Attempts:    attempt + 1,
			HeaderValue: headerValue,
			Err:         parseErr,
		}
	}

	wait := retryWait(time.Now(), retryAt, c.config.Retry.RetryAfterCap)

	c.logger.Warn().
		Str("event", "server_rate_limit").
		Str("operation", operation).
		Int("attempt", attempt+1).
		Str("retry_after", headerValue).
		Dur("wait", wait).
		Msg("Server declared rate limit")

	if c.config.Tracker != nil {
		if err := c.config.Tracker.RecordRetryAfter(ctx, retryAt, headerValue); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record shared backoff state")
		}
	}

	if attempt >= c.config.Retry.MaxRetries429 {
		retryExhaustedTotal.Inc()
		c.logger.Warn().
			Str("operation", operation).
			Int("attempts", attempt+1).
			Msg("Rate-limit retry budget exhausted")
		return &RateLimitError{
			RetryAt:     retryAt,
			Attempts:    attempt + 1,
			HeaderValue: headerValue,
			Wait:        wait,
		}
	}

	retriesTotal.Inc()
	if err := sleepCtx(ctx, wait); err != nil {
		return &RateLimitError{
			RetryAt:     retryAt,
			Attempts:    attempt + 1,
			HeaderValue: headerValue,
			Wait:        wait,
			Err:         err,
		}
	}
	return nil
}

// waitSharedBackoff holds the request while another process's 429 window is
// still open. Tracker failures degrade to no coordination rather than
// failing the request.
func (c *Client) waitSharedBackoff(ctx context.Context, operation string) error {
	if c.config.Tracker == nil {
		return nil
	}

	state, err := c.config.Tracker.State(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Shared backoff state unavailable")
		return nil
	}

	remaining := state.TimeUntilRetry(time.Now())
	if remaining <= 0 {
		return nil
	}

	wait := min(remaining, c.config.MaxThrottleWait)
	c.logger.Info().
		Str("event", "shared_backoff_wait").
		Str("operation", operation).
		Dur("wait", wait).
		Msg("Waiting out shared rate-limit backoff window")

	return sleepCtx(ctx, wait)
}
