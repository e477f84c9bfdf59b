package ratelimit

import (
	"testing"
	"time"
)

func TestBackoffState_Active(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		retryAt time.Time
		want    bool
	}{
		{"no_window_recorded", time.Time{}, false},
		{"window_open", now.Add(10 * time.Second), true},
		{"window_closed", now.Add(-10 * time.Second), false},
		{"window_closes_exactly_now", now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BackoffState{RetryAt: tt.retryAt}
			if got := state.Active(now); got != tt.want {
				t.Errorf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffState_TimeUntilRetry(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		retryAt time.Time
		want    time.Duration
	}{
		{"no_window_recorded", time.Time{}, 0},
		{"window_open", now.Add(42 * time.Second), 42 * time.Second},
		{"window_closed", now.Add(-time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &BackoffState{RetryAt: tt.retryAt}
			if got := state.TimeUntilRetry(now); got != tt.want {
				t.Errorf("TimeUntilRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackoffState_IsStale(t *testing.T) {
	fresh := &BackoffState{LastUpdate: time.Now()}
	if fresh.IsStale(time.Minute) {
		t.Error("IsStale() = true for a fresh state, want false")
	}

	old := &BackoffState{LastUpdate: time.Now().Add(-2 * time.Minute)}
	if !old.IsStale(time.Minute) {
		t.Error("IsStale() = false for an old state, want true")
	}
}
