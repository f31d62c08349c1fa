package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerTrips(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2, Timeout: time.Hour})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected %v, got %v", i, boom, err)
		}
	}
	if !b.IsOpen() {
		t.Fatal("expected breaker to be open")
	}
	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected %v, got %v", ErrCircuitOpen, err)
	}
	if called {
		t.Error("expected call to be rejected")
	}
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, Timeout: time.Hour})
	for i := 0; i < 5; i++ {
		_ = b.Execute(func() error { return context.Canceled })
	}
	if b.IsOpen() {
		t.Error("expected breaker to stay closed")
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retryable func(error) bool
		wantCalls int
		wantErr   bool
	}{
		{name: "succeeds after failures", failures: 2, wantCalls: 3},
		{name: "gives up", failures: 5, wantCalls: 3, wantErr: true},
		{name: "not retryable", failures: 5, retryable: func(error) bool { return false }, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, Retryable: tt.retryable}, func(ctx context.Context) error {
				calls++
				if calls <= tt.failures {
					return errors.New("transient")
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, RetryConfig{Attempts: 5, BaseDelay: time.Second}, func(ctx context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected %v, got %v", context.Canceled, err)
	}
}
