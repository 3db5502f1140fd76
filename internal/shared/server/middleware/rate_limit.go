package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/apperr"
	"agent-backend/internal/shared/server/respond"
)

// RateLimiter is a token-bucket limiter keyed by caller identity. The clock
// is injected so tests can drive refill deterministically.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	now     func() time.Time
}

type rateBucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter constructs a RateLimiter; a nil clock defaults to time.Now.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
		now:     now,
	}
}

// RateLimit enforces a requests-per-minute ceiling per identity. The
// identity is the resolved tenant, falling back to the client address.
// An rpm of zero disables limiting.
func RateLimit(limiter *RateLimiter, rpm int) gin.HandlerFunc {
	if limiter == nil {
		limiter = NewRateLimiter(nil)
	}
	return func(c *gin.Context) {
		if rpm <= 0 {
			c.Next()
			return
		}
		identity := strings.TrimSpace(TenantFromContext(c))
		if identity == "" {
			identity = strings.TrimSpace(c.ClientIP())
		}
		allowed, retryAfter := limiter.Allow(identity, float64(rpm)/60.0, rpm)
		if allowed {
			c.Next()
			return
		}
		retryAfterSeconds := int(math.Ceil(retryAfter.Seconds()))
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		respond.Error(c, http.StatusTooManyRequests, string(apperr.CodeRateLimited), "too many requests", map[string]any{
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

// Allow consumes one token from the identity's bucket if available and
// otherwise reports how long until the next token accrues.
func (l *RateLimiter) Allow(key string, ratePerSec float64, burst int) (bool, time.Duration) {
	if l == nil || ratePerSec <= 0 || burst <= 0 {
		return true, 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &rateBucket{
			tokens: float64(burst),
			last:   now,
		}
		l.buckets[key] = bucket
	}
	elapsed := now.Sub(bucket.last).Seconds()
	if elapsed > 0 {
		bucket.tokens = math.Min(float64(burst), bucket.tokens+elapsed*ratePerSec)
		bucket.last = now
	}
	if bucket.tokens >= 1 {
		bucket.tokens -= 1
		return true, 0
	}
	waitSec := (1 - bucket.tokens) / ratePerSec
	if waitSec < 0 {
		waitSec = 0
	}
	return false, time.Duration(math.Ceil(waitSec*1000.0)) * time.Millisecond
}
