package prc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RateLimitPolicy(3), func() error {
		attempts++
		if attempts < 3 {
			return &RetryableError{Err: errors.New("429"), RetryAfter: time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	want := errors.New("bad request")
	err := Retry(context.Background(), RateLimitPolicy(3), func() error {
		attempts++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ExhaustedReturnsRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RateLimitPolicy(2), func() error {
		attempts++
		return &RetryableError{Err: errors.New("429")}
	})
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RateLimitPolicy(3), func() error {
		return &RetryableError{Err: errors.New("429"), RetryAfter: time.Second}
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestRetry_WaitsOnlyForHint(t *testing.T) {
	tests := []struct {
		name    string
		hint    time.Duration
		minWait time.Duration
		maxWait time.Duration
	}{
		{"no hint retries immediately", 0, 0, 500 * time.Millisecond},
		{"hint is honored", 30 * time.Millisecond, 30 * time.Millisecond, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			start := time.Now()
			err := Retry(context.Background(), RateLimitPolicy(1), func() error {
				attempts++
				if attempts == 1 {
					return &RetryableError{Err: errors.New("429"), RetryAfter: tt.hint}
				}
				return nil
			})
			elapsed := time.Since(start)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if elapsed < tt.minWait || elapsed > tt.maxWait {
				t.Errorf("waited %v, want between %v and %v", elapsed, tt.minWait, tt.maxWait)
			}
		})
	}
}
