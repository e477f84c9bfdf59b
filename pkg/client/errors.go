package client

import (
	"fmt"
	"strings"
	"time"
)

// bodySnippetLimit bounds how much of an error response body is retained.
// Bodies may contain sensitive data and are never logged in full.
const bodySnippetLimit = 512

// TransportError reports a non-success HTTP status outside the rate-limit
// path. It carries the status code and a bounded snippet of the body.
type TransportError struct {
	StatusCode  int
	BodySnippet string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// RateLimitError reports that the server declared a rate limit (HTTP 429)
// and the retry budget was exhausted, or the Retry-After header could not
// be parsed.
type RateLimitError struct {
	// RetryAt is the parsed instant the server asked us to retry at.
	// Zero when the header could not be parsed.
	RetryAt time.Time

	// Attempts is the number of attempts made, including the first.
	Attempts int

	// HeaderValue is the raw Retry-After header value.
	HeaderValue string

	// Wait is the wait that was computed from the header.
	Wait time.Duration

	// Err carries a header parse failure or a cancellation, when present.
	Err error
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if !e.RetryAt.IsZero() {
		msg = fmt.Sprintf("%s; retry_at=%s", msg, e.RetryAt.Format(time.RFC3339))
	}
	if e.HeaderValue != "" {
		msg = fmt.Sprintf("%s; Retry-After=%s", msg, e.HeaderValue)
	}
	msg = fmt.Sprintf("%s; attempts=%d", msg, e.Attempts)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// OperationError reports a GraphQL response that carried errors. Partial
// data accompanying the errors is preserved, not discarded.
type OperationError struct {
	Errors      []GraphQLErrorItem
	PartialData map[string]any
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if len(e.Errors) == 0 {
		return "GraphQL operation failed"
	}
	return e.Errors[0].Message
}

// SerializationError reports a response whose shape violates the expected
// contract, or a pagination run that detected an inconsistent or looping
// server.
type SerializationError struct {
	Reason string
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %s", e.Reason)
}

// truncateBody bounds a response body for inclusion in a TransportError.
func truncateBody(body []byte) string {
	s := strings.ToValidUTF8(string(body), "")
	if len(s) <= bodySnippetLimit {
		return s
	}
	return s[:bodySnippetLimit] + "...(truncated)"
}
