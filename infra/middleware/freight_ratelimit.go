package middleware

import (
	"strconv"
	"sync"
	"time"

	"freight_server/pkg/apperr"
	"freight_server/pkg/logger"
	"freight_server/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter limits requests per client IP. It uses a Redis sliding window
// shared across instances and falls back to local token buckets.
type RateLimiter struct {
	shared *ratelimit.SlidingWindowLimiter
	rate   int
	burst  int

	mu     sync.Mutex
	local  map[string]*ratelimit.TokenBucket
	prefix string
}

func NewRateLimiter(redisClient *redis.Client, prefix string, ratePerSec, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:   ratePerSec,
		burst:  burst,
		local:  make(map[string]*ratelimit.TokenBucket),
		prefix: prefix,
	}
	if redisClient != nil {
		rl.shared = ratelimit.NewSlidingWindowLimiter(redisClient, ratePerSec, burst)
	}
	return rl
}

func (rl *RateLimiter) bucket(key string) *ratelimit.TokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.local[key]
	if !ok {
		b = ratelimit.NewTokenBucket(rl.rate, rl.rate+rl.burst)
		rl.local[key] = b
	}
	return b
}

func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.prefix + ":" + c.IP()

		var (
			allowed    bool
			retryAfter time.Duration
		)
		if rl.shared != nil {
			ok, wait, err := rl.shared.Allow(c.Context(), key)
			if err == nil {
				allowed, retryAfter = ok, wait
			} else {
				logger.WithError(err).Warn("rate limit redis unavailable, using local bucket")
				allowed, retryAfter = rl.bucket(key).Allow()
			}
		} else {
			allowed, retryAfter = rl.bucket(key).Allow()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.rate+rl.burst))
		if !allowed {
			seconds := int(retryAfter.Seconds() + 0.999)
			if seconds < 1 {
				seconds = 1
			}
			c.Set("Retry-After", strconv.Itoa(seconds))
			return apperr.New(apperr.CodeRateLimited, "rate limit exceeded", fiber.StatusTooManyRequests).
				WithDetail("retry_after", seconds)
		}
		return c.Next()
	}
}
