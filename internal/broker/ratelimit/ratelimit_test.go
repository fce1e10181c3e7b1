package ratelimit

import (
	"context"
	"testing"
	"time"

	"tradecore/internal/config"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("unexpected error on token %d: %v", i, err)
		}
	}
}

func TestTokenBucketBlocksWhenExhausted(t *testing.T) {
	tb := NewTokenBucket(1, 1000) // fast refill so the test doesn't hang
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if time.Since(start) <= 0 {
		t.Fatalf("expected second wait to take positive time")
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	tb := NewTokenBucket(1, 0.001) // effectively no refill within the test window
	tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestLimiterFallsBackToDefaultsWhenUnconfigured(t *testing.T) {
	l := New(config.RateLimits{})
	if err := l.Wait(context.Background(), Order); err != nil {
		t.Fatalf("expected order bucket to have default capacity, got %v", err)
	}
	if err := l.Wait(context.Background(), Cancel); err != nil {
		t.Fatalf("expected cancel bucket to have default capacity, got %v", err)
	}
	if err := l.Wait(context.Background(), Fetch); err != nil {
		t.Fatalf("expected fetch bucket to have default capacity, got %v", err)
	}
}
