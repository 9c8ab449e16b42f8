package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

func TestRetry(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "scorer down")
	invalid := status.Error(codes.InvalidArgument, "bad tensor")

	tests := []struct {
		name      string
		failFirst int // attempts that fail before success
		err       error
		wantCalls int
		wantErr   error
	}{
		{"first attempt", 0, nil, 1, nil},
		{"recovers", 2, unavailable, 3, nil},
		{"exhausted", 10, unavailable, 3, unavailable},
		{"not retryable", 10, invalid, 1, invalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
			calls := 0
			err := Retry(context.Background(), cfg, func() error {
				calls++
				if calls <= tt.failFirst {
					return tt.err
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Retry() = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	calls := 0

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		calls++
		return status.Error(codes.Unavailable, "fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), true},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "x"), true},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "x"), true},
		{"grpc aborted", status.Error(codes.Aborted, "x"), true},
		{"grpc internal", status.Error(codes.Internal, "x"), false},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "x"), false},
		{"app unavailable", apperrors.New(apperrors.CodeUnavailable, "x"), true},
		{"app inference failed", apperrors.New(apperrors.CodeInferenceFailed, "x"), false},
		{"app model load", apperrors.New(apperrors.CodeModelLoadFailed, "x"), false},
		{"breaker open", ErrOpen, false},
		{"wrapped breaker open", fmt.Errorf("score: %w", ErrOpen), false},
		{"context canceled", context.Canceled, false},
		{"plain error", errors.New("conn reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestScorerRetryConfig(t *testing.T) {
	cfg := ScorerRetryConfig()
	if cfg.MaxRetries != ScorerMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, ScorerMaxRetries)
	}
	if cfg.MaxDelay != ScorerMaxDelay {
		t.Errorf("MaxDelay = %v, want %v", cfg.MaxDelay, ScorerMaxDelay)
	}
	if cfg.IsRetryable == nil {
		t.Error("IsRetryable should be set")
	}
}

func TestRetryStopsOnOpenBreaker(t *testing.T) {
	b := New(Config{Threshold: 1, ResetTimeout: time.Hour, HalfOpenSuccesses: 1})
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		return b.Execute(func() error {
			calls++
			return status.Error(codes.Unavailable, "down")
		})
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("Retry() = %v, want ErrOpen", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the breaker opened", calls)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0}

	d0 := backoffDelay(cfg, 0)
	d1 := backoffDelay(cfg, 1)
	d2 := backoffDelay(cfg, 2)

	if d0 != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %v, want 100ms", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Errorf("attempt 1 delay = %v, want 200ms", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Errorf("attempt 2 delay = %v, want 400ms", d2)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, JitterFactor: 0}

	d5 := backoffDelay(cfg, 5)
	if d5 != 300*time.Millisecond {
		t.Errorf("attempt 5 delay = %v, want 300ms (capped)", d5)
	}
}
