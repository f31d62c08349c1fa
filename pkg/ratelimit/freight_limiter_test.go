package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(2, 2)
	b.now = func() time.Time { return now }
	b.last = now

	for i := 0; i < 2; i++ {
		if ok, _ := b.Allow(); !ok {
			t.Fatalf("expected token %d to be available", i)
		}
	}
	ok, wait := b.Allow()
	if ok {
		t.Fatal("expected bucket to be empty")
	}
	if wait != 500*time.Millisecond {
		t.Errorf("expected %v, got %v", 500*time.Millisecond, wait)
	}

	now = now.Add(500 * time.Millisecond)
	if ok, _ := b.Allow(); !ok {
		t.Error("expected refilled token")
	}
}

func TestLimiterConcurrency(t *testing.T) {
	l := New(nil, Config{MaxConcurrent: 1, RequestsPerSecond: 100, MaxWait: 20 * time.Millisecond})

	release, err := l.Wait(context.Background(), "oracle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := l.Wait(context.Background(), "oracle"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected %v, got %v", ErrRateLimited, err)
	}
	release()

	release, err = l.Wait(context.Background(), "oracle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()
}
