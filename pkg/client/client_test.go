package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/syncwell/atlassian-go/internal/testutil"
	"github.com/syncwell/atlassian-go/pkg/auth"
	"github.com/syncwell/atlassian-go/pkg/throttle"
)

func bearerAuth(t *testing.T) auth.Provider {
	t.Helper()
	provider, err := auth.NewTokenAuth(func() string { return "test-token" })
	if err != nil {
		t.Fatalf("NewTokenAuth() error = %v", err)
	}
	return provider
}

func newTestClient(t *testing.T, mock *testutil.MockAtlassian, mutate func(cfg *Config)) (*Client, *bytes.Buffer) {
	t.Helper()

	logBuf := &bytes.Buffer{}
	logger := zerolog.New(logBuf)

	cfg := DefaultConfig(mock.URL(), bearerAuth(t))
	cfg.HTTPClient = mock.Client()
	cfg.Logger = &logger
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, logBuf
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Auth: bearerAuth(t)}); err == nil {
		t.Error("New() without base url: error = nil, want error")
	}
	if _, err := New(Config{BaseURL: "https://example.com"}); err == nil {
		t.Error("New() without auth: error = nil, want error")
	}
}

func TestExecute_Success(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.SetResponse(defaultGraphQLPath, testutil.NewGraphQLResponse(
		`{"data": {"me": {"name": "tester"}}}`))

	c, _ := newTestClient(t, mock, nil)

	result, err := c.Execute(context.Background(), "query { me { name } }", nil, "Me")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	me, ok := result.Data["me"].(map[string]any)
	if !ok || me["name"] != "tester" {
		t.Errorf("Data = %v, want me.name=tester", result.Data)
	}
}

func TestExecute_AppliesAuthAndExperimentalHeaders(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	c, _ := newTestClient(t, mock, func(cfg *Config) {
		cfg.ExperimentalAPIs = []string{"featureA"}
	})

	if _, err := c.Execute(context.Background(), "query { ok }", nil, "", "featureB", "featureC"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := mock.HeaderValues("Authorization"); len(got) != 1 || got[0] != "Bearer test-token" {
		t.Errorf("Authorization = %v, want Bearer test-token", got)
	}

	// One repeated header per declared feature name, config-level first.
	want := []string{"featureA", "featureB", "featureC"}
	got := mock.HeaderValues("X-Experimentalapi")
	if len(got) != len(want) {
		t.Fatalf("X-ExperimentalApi values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("X-ExperimentalApi values = %v, want %v", got, want)
			break
		}
	}
}

func TestExecute_RetriesOnceThenSucceeds(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	retryAt := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	mock.SetResponseSequence(defaultGraphQLPath, []testutil.MockResponse{
		testutil.NewRateLimitResponse(retryAt),
		testutil.NewGraphQLResponse(`{"data": {"ok": true}}`),
	})

	c, logBuf := newTestClient(t, mock, nil)

	result, err := c.Execute(context.Background(), "query { ok }", nil, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Data["ok"] != true {
		t.Errorf("Data = %v, want ok=true", result.Data)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}

	// Exactly one server rate-limit event is logged for the one 429.
	if got := strings.Count(logBuf.String(), `"event":"server_rate_limit"`); got != 1 {
		t.Errorf("server_rate_limit log events = %d, want 1\nlog: %s", got, logBuf.String())
	}
}

func TestExecute_RetriesExhausted(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	headerValue := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	mock.SetResponse(defaultGraphQLPath, testutil.NewRateLimitResponse(headerValue))

	c, _ := newTestClient(t, mock, func(cfg *Config) {
		cfg.Retry.MaxRetries429 = 1
	})

	_, err := c.Execute(context.Background(), "query { ok }", nil, "")

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("Execute() error = %v, want *RateLimitError", err)
	}
	if rlErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (initial + one retry)", rlErr.Attempts)
	}
	if rlErr.HeaderValue != headerValue {
		t.Errorf("HeaderValue = %q, want %q", rlErr.HeaderValue, headerValue)
	}
	if rlErr.RetryAt.IsZero() {
		t.Error("RetryAt is zero, want parsed instant")
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestExecute_UnparseableRetryAfterIsTerminal(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.SetResponse(defaultGraphQLPath, testutil.NewRateLimitResponse("soon"))

	c, _ := newTestClient(t, mock, nil)

	_, err := c.Execute(context.Background(), "query { ok }", nil, "")

	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("Execute() error = %v, want *RateLimitError", err)
	}
	if rlErr.Err == nil {
		t.Error("Err = nil, want parse failure")
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1 (no retry on unparseable header)", got)
	}
}

func TestExecute_TransportErrorWithTruncatedBody(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	longBody := strings.Repeat("x", 4096)
	mock.SetResponse(defaultGraphQLPath, testutil.MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       longBody,
	})

	c, _ := newTestClient(t, mock, nil)

	_, err := c.Execute(context.Background(), "query { ok }", nil, "")

	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("Execute() error = %v, want *TransportError", err)
	}
	if tErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", tErr.StatusCode)
	}
	if len(tErr.BodySnippet) >= len(longBody) {
		t.Errorf("BodySnippet is %d bytes, want truncated", len(tErr.BodySnippet))
	}
}

func TestExecute_OperationErrorCarriesPartialData(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.SetResponse(defaultGraphQLPath, testutil.NewGraphQLResponse(`{
		"data": {"issues": [{"key": "PROJ-1"}]},
		"errors": [{"message": "worklogs unavailable"}]
	}`))

	c, _ := newTestClient(t, mock, nil)

	result, err := c.Execute(context.Background(), "query { issues }", nil, "")

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("Execute() error = %v, want *OperationError", err)
	}
	if opErr.PartialData == nil {
		t.Error("PartialData = nil, want preserved partial payload")
	}
	if result == nil || result.Data == nil {
		t.Error("result.Data = nil, want partial data accessible on the result")
	}
}

func TestExecute_MissingDataAndErrors(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.SetResponse(defaultGraphQLPath, testutil.NewGraphQLResponse(`{}`))

	c, _ := newTestClient(t, mock, nil)

	_, err := c.Execute(context.Background(), "query { ok }", nil, "")

	var serErr *SerializationError
	if !errors.As(err, &serErr) {
		t.Errorf("Execute() error = %v, want *SerializationError", err)
	}
}

func TestExecute_LocalThrottleRefusalIsTerminal(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()

	// A bucket whose refill can never satisfy the cost inside the allowed
	// wait refuses deterministically.
	bucket, err := throttle.New(1, 0.0001)
	if err != nil {
		t.Fatalf("throttle.New() error = %v", err)
	}
	if _, err := bucket.Consume(context.Background(), 1, time.Second); err != nil {
		t.Fatalf("priming Consume() error = %v", err)
	}

	c, _ := newTestClient(t, mock, func(cfg *Config) {
		cfg.Bucket = bucket
		cfg.EstimatedCost = 1
		cfg.MaxThrottleWait = 10 * time.Millisecond
	})

	_, err = c.Execute(context.Background(), "query { ok }", nil, "")

	var lre *throttle.LocalRateLimitError
	if !errors.As(err, &lre) {
		t.Fatalf("Execute() error = %v, want *throttle.LocalRateLimitError", err)
	}
	if got := mock.GetRequestCount(); got != 0 {
		t.Errorf("requests = %d, want 0 (refused before sending)", got)
	}
}

func TestGetJSON(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.SetHandler("/rest/api/3/myself", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("expand"); got != "groups" {
			t.Errorf("expand = %q, want groups", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accountId": "abc"}`))
	})

	c, _ := newTestClient(t, mock, nil)

	raw, err := c.GetJSON(context.Background(), "/rest/api/3/myself", url.Values{"expand": []string{"groups"}})
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if !strings.Contains(string(raw), "accountId") {
		t.Errorf("body = %s, want accountId", raw)
	}
}

func TestGetJSON_NotFound(t *testing.T) {
	mock := testutil.NewMockAtlassian()
	defer mock.Close()
	mock.SetResponse("/rest/api/3/missing", testutil.MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"errorMessages": ["Issue does not exist"]}`,
	})

	c, _ := newTestClient(t, mock, nil)

	_, err := c.GetJSON(context.Background(), "/rest/api/3/missing", nil)

	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("GetJSON() error = %v, want *TransportError", err)
	}
	if tErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", tErr.StatusCode)
	}
}
