package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, rate, burst float64) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, "pricehawk:ratelimit:test", rate, burst)
}

func TestAllow_WithinBurst(t *testing.T) {
	l := newTestLimiter(t, 1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
}

func TestAllow_RejectsWhenExhausted(t *testing.T) {
	l := newTestLimiter(t, 1, 2)
	ctx := context.Background()

	l.Allow(ctx)
	l.Allow(ctx)

	allowed, err := l.Allow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("request beyond burst should be rejected")
	}
}

func TestAllow_RefillsOverTime(t *testing.T) {
	// 高速率，耗尽后很快补满
	l := newTestLimiter(t, 100, 1)
	ctx := context.Background()

	l.Allow(ctx)
	if allowed, _ := l.Allow(ctx); allowed {
		t.Fatal("bucket should be empty immediately after consuming the burst")
	}

	time.Sleep(50 * time.Millisecond)

	allowed, err := l.Allow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("bucket should refill after waiting")
	}
}

func TestAcquire_BlocksUntilToken(t *testing.T) {
	l := newTestLimiter(t, 50, 1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire should pass: %v", err)
	}

	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire should eventually pass: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("expected acquire to wait for a token, waited only %v", elapsed)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := newTestLimiter(t, 0.1, 1)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire should pass: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	if err := l.Acquire(timeoutCtx); err != ErrRateLimitTimeout {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	l := newTestLimiter(t, 0, 0)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := l.Allow(ctx)
		if err != nil || !allowed {
			t.Fatalf("disabled limiter must always allow, got allowed=%v err=%v", allowed, err)
		}
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("disabled limiter must not block: %v", err)
	}
}
