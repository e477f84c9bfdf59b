// Package metrics provides the centralized Prometheus metrics registry for
// the Atlassian client. All metrics are defined in their respective packages
// (client, throttle, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the Atlassian client.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - atlassian_requests_total{operation, status} (Counter): Total requests by operation and outcome
//   - atlassian_request_duration_seconds{operation} (Histogram): Request duration by operation
//
// Retry Metrics (pkg/client):
//   - atlassian_server_rate_limit_events_total (Counter): 429 responses received from the server
//   - atlassian_retries_total (Counter): Rate-limit retry attempts
//   - atlassian_retry_exhausted_total (Counter): Requests that exhausted the retry budget
//
// Local Throttle Metrics (pkg/throttle):
//   - atlassian_throttle_wait_seconds (Histogram): Time spent waiting for token bucket budget
//   - atlassian_throttle_rejections_total (Counter): Requests refused by the local token bucket
//
// Shared Backoff Metrics (pkg/ratelimit):
//   - atlassian_shared_backoff_seconds_remaining (Gauge): Remaining shared backoff window
//   - atlassian_shared_backoff_records_total (Counter): Server backoff windows recorded to Redis
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   sum(rate(atlassian_requests_total{status!~"2.."}[5m])) /
//   sum(rate(atlassian_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(atlassian_request_duration_seconds_bucket[5m]))
//
//   # Server Rate-Limit Pressure
//   rate(atlassian_server_rate_limit_events_total[5m])
//
//   # Local Throttle Saturation
//   rate(atlassian_throttle_rejections_total[5m])
