// Package ratelimit throttles calls to paid external APIs across worker processes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter configuration.
type Config struct {
	MaxConcurrent     int           // 프로세스당 최대 동시 요청 수
	RequestsPerSecond int           // 초당 요청 수
	BurstSize         int           // 버스트 허용량
	MaxWait           time.Duration // Wait 최대 대기 시간
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     8,
		RequestsPerSecond: 5,
		BurstSize:         5,
		MaxWait:           30 * time.Second,
	}
}

// ErrRateLimited is returned when Wait gives up.
var ErrRateLimited = fmt.Errorf("rate limit exceeded")

// Limiter admits a request only with a free concurrency slot and window capacity.
// The window is shared through Redis; without Redis a local token bucket is used.
type Limiter struct {
	cfg       Config
	semaphore chan struct{}
	window    *SlidingWindowLimiter
	bucket    *TokenBucket
}

// New creates a Limiter. redisClient may be nil.
func New(redisClient *redis.Client, cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}

	l := &Limiter{
		cfg:       cfg,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		bucket:    NewTokenBucket(cfg.RequestsPerSecond, cfg.RequestsPerSecond+cfg.BurstSize),
	}
	if redisClient != nil {
		l.window = NewSlidingWindowLimiter(redisClient, cfg.RequestsPerSecond, cfg.BurstSize)
	}
	return l
}

// Wait blocks until key may be called, then returns the release function for the
// concurrency slot.
func (l *Limiter) Wait(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.MaxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRateLimited, key, ctx.Err())
	}
	release := func() { <-l.semaphore }

	for {
		allowed, wait := l.allow(ctx, key)
		if allowed {
			return release, nil
		}
		select {
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %s: %v", ErrRateLimited, key, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (l *Limiter) allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.window != nil {
		allowed, wait, err := l.window.Allow(ctx, key)
		if err == nil {
			return allowed, wait
		}
		// Redis 장애 시 로컬 버킷으로 fallback
	}
	return l.bucket.Allow()
}

// =============================================================================
// SlidingWindowLimiter - Redis 기반 Sliding Window Rate Limiter
// =============================================================================

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(redisClient *redis.Client, requestsPerSecond, burstSize int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redisClient,
		limit:  requestsPerSecond + burstSize,
		window: time.Second,
	}
}

// Allow records a request for key when the window has room. Otherwise it
// returns how long until the oldest request leaves the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{"ratelimit:" + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, 0, err
	}

	switch {
	case result == 1:
		return true, 0, nil
	case result < 0:
		return false, time.Duration(-result) * time.Millisecond, nil
	default:
		return false, l.window, nil
	}
}

// =============================================================================
// TokenBucket - 로컬 fallback
// =============================================================================

// TokenBucket is an in-process token bucket.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket creates a full bucket refilled at ratePerSecond.
func NewTokenBucket(ratePerSecond, capacity int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(ratePerSecond),
		last:     time.Now(),
		now:      time.Now,
	}
}

// Allow takes one token, or reports how long until one is available.
func (b *TokenBucket) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, time.Second
	}
	missing := 1 - b.tokens
	return false, time.Duration(missing / b.rate * float64(time.Second))
}
