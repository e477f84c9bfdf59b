package client

import (
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries429 != 3 {
		t.Errorf("MaxRetries429 = %d, want 3", config.MaxRetries429)
	}
	if config.RetryAfterCap != 60*time.Second {
		t.Errorf("RetryAfterCap = %v, want 60s", config.RetryAfterCap)
	}
}

func TestParseRetryAfter(t *testing.T) {
	wantInstant := time.Date(2025, 10, 21, 7, 28, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
	}{
		{"rfc3339", "2025-10-21T07:28:00Z"},
		{"rfc3339_offset", "2025-10-21T09:28:00+02:00"},
		{"http_date", "Tue, 21 Oct 2025 07:28:00 GMT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRetryAfter(tt.value)
			if err != nil {
				t.Fatalf("ParseRetryAfter(%q) error = %v", tt.value, err)
			}
			if !got.Equal(wantInstant) {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, wantInstant)
			}
		})
	}
}

func TestParseRetryAfter_BothFormatsSameInstant(t *testing.T) {
	fromTimestamp, err := ParseRetryAfter("2025-10-21T07:28:00Z")
	if err != nil {
		t.Fatalf("RFC3339 parse error = %v", err)
	}
	fromHTTPDate, err := ParseRetryAfter("Tue, 21 Oct 2025 07:28:00 GMT")
	if err != nil {
		t.Fatalf("HTTP-date parse error = %v", err)
	}

	if !fromTimestamp.Equal(fromHTTPDate) {
		t.Errorf("parsed instants differ: %v vs %v", fromTimestamp, fromHTTPDate)
	}
}

func TestParseRetryAfter_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"garbage", "soon"},
		{"delta_seconds_unsupported", "120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRetryAfter(tt.value); err == nil {
				t.Errorf("ParseRetryAfter(%q) error = nil, want error", tt.value)
			}
		})
	}
}

func TestRetryWait(t *testing.T) {
	now := time.Date(2025, 10, 21, 7, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		retryAt time.Time
		cap     time.Duration
		want    time.Duration
	}{
		{"in_the_future", now.Add(5 * time.Second), time.Minute, 5 * time.Second},
		{"already_passed", now.Add(-5 * time.Second), time.Minute, 0},
		{"capped", now.Add(10 * time.Minute), time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryWait(now, tt.retryAt, tt.cap); got != tt.want {
				t.Errorf("retryWait() = %v, want %v", got, tt.want)
			}
		})
	}
}
