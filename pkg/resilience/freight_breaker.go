// Package resilience wraps calls to external services with a circuit breaker and retries.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"freight_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a breaker. Zero values take the defaults.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32        // Half-open 상태에서 허용할 요청 수
	Interval     time.Duration // Closed 상태에서 카운터 리셋 간격
	Timeout      time.Duration // Open 상태 유지 시간
	MaxFailures  uint32        // 연속 실패 허용 횟수
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the settings used for oracle and provider calls.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MaxFailures:  5,
		FailureRatio: 0.6,
		MinRequests:  10,
	}
}

// Breaker is a named gobreaker circuit breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a Breaker that trips after MaxFailures consecutive failures
// or when FailureRatio of at least MinRequests requests failed.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > cfg.MaxFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about the remote side
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("[CircuitBreaker] state changed")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. Rejections are reported as ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (b *Breaker) Name() string { return b.cb.Name() }

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool { return b.cb.State() == gobreaker.StateOpen }

// =============================================================================
// Retry
// =============================================================================

// RetryConfig controls Retry. Delays grow exponentially with jitter up to MaxDelay.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// DefaultRetryConfig returns three attempts starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
}

// Retry calls fn until it succeeds, the error is not retryable, attempts run out or ctx ends.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			return err
		}
		if attempt == cfg.Attempts-1 {
			break
		}

		delay := cfg.BaseDelay << attempt
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		if delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
