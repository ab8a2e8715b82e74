package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// IPRateLimiter is an in-memory per-client token bucket. State is local to
// the process; a multi-instance deployment would move this to Redis.
type IPRateLimiter struct {
	burst     int
	perMinute int

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewIPRateLimiter allows perMinute requests sustained with bursts up to
// burst. A non-positive burst defaults to perMinute.
func NewIPRateLimiter(burst, perMinute int) *IPRateLimiter {
	if burst <= 0 {
		burst = perMinute
	}
	return &IPRateLimiter{
		burst:     burst,
		perMinute: perMinute,
		buckets:   make(map[string]*bucket),
		swept:     time.Now(),
	}
}

// Middleware rejects over-limit requests with 429.
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !l.allow(key, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *IPRateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop buckets idle for over an hour so the map does not grow unbounded.
	if now.Sub(l.swept) > time.Hour {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > time.Hour {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: float64(l.burst) - 1, seen: now}
		return true
	}
	b.tokens += now.Sub(b.seen).Minutes() * float64(l.perMinute)
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
