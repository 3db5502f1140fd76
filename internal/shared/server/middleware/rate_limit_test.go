package middleware

import (
	"testing"
	"time"
)

func TestAllowDeniesSecondRequestInWindow(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })

	// RPM=1: one token, refilled at 1/60 per second.
	if ok, _ := limiter.Allow("tenant-a", 1.0/60.0, 1); !ok {
		t.Fatalf("first request should pass")
	}
	ok, retryAfter := limiter.Allow("tenant-a", 1.0/60.0, 1)
	if ok {
		t.Fatalf("second request in the same window should be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %v", retryAfter)
	}
}

func TestAllowRefillsAfterWindow(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })

	if ok, _ := limiter.Allow("tenant-a", 1.0/60.0, 1); !ok {
		t.Fatalf("first request should pass")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := limiter.Allow("tenant-a", 1.0/60.0, 1); !ok {
		t.Fatalf("request after the window should pass")
	}
}

func TestAllowIsPerIdentity(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })

	if ok, _ := limiter.Allow("tenant-a", 1.0/60.0, 1); !ok {
		t.Fatalf("tenant-a should pass")
	}
	if ok, _ := limiter.Allow("tenant-b", 1.0/60.0, 1); !ok {
		t.Fatalf("tenant-b has its own bucket and should pass")
	}
}

func TestZeroRateDisablesLimiting(t *testing.T) {
	limiter := NewRateLimiter(nil)
	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow("tenant-a", 0, 0); !ok {
			t.Fatalf("zero rate must never deny")
		}
	}
}
