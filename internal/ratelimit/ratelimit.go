// Package ratelimit provides per-source token-bucket rate limiting for the
// UDP and HTTP front ends.
package ratelimit

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	// idleExpiry is how long a source's bucket survives without traffic.
	idleExpiry = 10 * time.Minute
	// cleanupInterval is how often expired buckets are purged.
	cleanupInterval = 5 * time.Minute
)

// Limiter tracks one token bucket per source key. Buckets for sources that
// go quiet expire and are purged in the background.
type Limiter struct {
	rps     rate.Limit
	burst   int
	buckets *cache.Cache
}

// New returns a Limiter allowing rps steady-state events per second per
// source, with bursts up to burst. rps <= 0 disables limiting.
func New(rps, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: cache.New(idleExpiry, cleanupInterval),
	}
}

// Allow reports whether an event from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		b := v.(*rate.Limiter)
		// Touch to push expiry forward.
		l.buckets.SetDefault(key, b)
		return b
	}
	b := rate.NewLimiter(l.rps, l.burst)
	if err := l.buckets.Add(key, b, cache.DefaultExpiration); err != nil {
		// Lost a race with another goroutine creating the same bucket.
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return b
}

// Sources returns the number of tracked sources.
func (l *Limiter) Sources() int {
	return l.buckets.ItemCount()
}

// Middleware returns a Gin middleware enforcing the limiter per client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
