package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateTier separates bucket families. Every submit calls a paid inference
// endpoint, so submits draw from their own, smaller bucket per caller while
// reads share a roomier one.
type RateTier string

const (
	TierRead   RateTier = "read"
	TierSubmit RateTier = "submit"
)

// RateLimit is one tier's token-bucket shape.
type RateLimit struct {
	RPS   float64
	Burst int
}

const (
	bucketIdleTTL  = 10 * time.Minute
	sweepEveryHits = 5000
)

type bucketKey struct {
	tier   RateTier
	caller string
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps process-local buckets per (tier, caller). The caller is
// the authenticated user, or the client IP for anonymous requests. Idle
// buckets are swept every few thousand lookups.
type RateLimiter struct {
	limits map[RateTier]RateLimit
	now    func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	hits    int
}

// NewRateLimiter builds a limiter for the given tiers. A burst below 1 is
// raised to 1.
func NewRateLimiter(limits map[RateTier]RateLimit) *RateLimiter {
	norm := make(map[RateTier]RateLimit, len(limits))
	for t, l := range limits {
		if l.Burst < 1 {
			l.Burst = 1
		}
		norm[t] = l
	}
	return &RateLimiter{
		limits:  norm,
		now:     time.Now,
		buckets: map[bucketKey]*bucket{},
	}
}

// callerKey is the bucket identity of the request.
func callerKey(c *gin.Context) string {
	if uid := UserID(c); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

func (rl *RateLimiter) limiter(k bucketKey, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before the lookup so a stale bucket is rebuilt, not refreshed.
	if rl.hits++; rl.hits >= sweepEveryHits {
		for key, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= bucketIdleTTL {
				delete(rl.buckets, key)
			}
		}
		rl.hits = 0
	}
	b, ok := rl.buckets[k]
	if !ok {
		l := rl.limits[k.tier]
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.RPS), l.Burst)}
		rl.buckets[k] = b
	}
	b.lastSeen = now
	return b.lim
}

// IsRateBypass reports whether IdempotencyValidator found a completed request
// for this key; replays are served without spending tokens.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Limit charges one token from tier's bucket for the caller. Unknown tiers
// pass through. A rejection is a 429 whose Retry-After is the wait for the
// next token in whole seconds.
func (rl *RateLimiter) Limit(tier RateTier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.limits[tier]; !ok || IsRateBypass(c) {
			c.Next()
			return
		}
		now := rl.now()
		res := rl.limiter(bucketKey{tier: tier, caller: callerKey(c)}, now).ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		httpRateLimited.WithLabelValues(routeLabel(c)).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res.OK(), delay)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
			"details":    gin.H{"tier": string(tier)},
		})
	}
}

// retryAfterSeconds rounds delay up to a whole second, at least 1. A
// reservation that can never succeed (zero rate) asks for a minute.
func retryAfterSeconds(ok bool, delay time.Duration) int {
	if !ok || delay == rate.InfDuration {
		return 60
	}
	return max(1, int(math.Ceil(delay.Seconds())))
}
