// Package llm implements the classification and extraction oracles on top of
// the OpenAI chat completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"freight_server/core/domain"
	"freight_server/core/port/out"
	"freight_server/pkg/logger"
	"freight_server/pkg/metrics"
	"freight_server/pkg/ratelimit"
	"freight_server/pkg/resilience"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel = "gpt-4o-mini"

	defaultMaxTokens = 1024
	limiterKey       = "openai"
)

// DefaultTierModels maps extraction tiers to models of increasing capability.
func DefaultTierModels() map[domain.ExtractionTier]string {
	return map[domain.ExtractionTier]string{
		domain.TierBase: "gpt-4o-mini",
		domain.TierMid:  "gpt-4o",
		domain.TierTop:  "gpt-4.1",
	}
}

type Config struct {
	APIKey        string
	BaseURL       string
	ClassifyModel string
	TierModels    map[domain.ExtractionTier]string
	MaxTokens     int
	Temperature   float32
	Timeout       time.Duration
}

// Client is both the classification and the extraction oracle.
type Client struct {
	api     *openai.Client
	cfg     Config
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	limiter *ratelimit.Limiter
	audit   out.OracleAuditStore
	costs   *CostTracker
}

var (
	_ out.ClassificationOracle = (*Client)(nil)
	_ out.ExtractionOracle     = (*Client)(nil)
)

type Option func(*Client)

// WithLimiter throttles every completion through l.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithAudit records every raw exchange in store.
func WithAudit(store out.OracleAuditStore) Option {
	return func(c *Client) { c.audit = store }
}

// WithRetry overrides the retry policy. A nil Retryable keeps the default classifier.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		if cfg.Retryable == nil {
			cfg.Retryable = c.retry.Retryable
		}
		c.retry = cfg
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.ClassifyModel == "" {
		cfg.ClassifyModel = DefaultModel
	}
	models := DefaultTierModels()
	for tier, model := range cfg.TierModels {
		if model != "" {
			models[tier] = model
		}
	}
	cfg.TierModels = models
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	retry := resilience.DefaultRetryConfig()
	retry.Retryable = retryable

	c := &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig("openai")),
		retry:   retry,
		costs:   NewCostTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelFor returns the model used for an extraction tier.
func (c *Client) ModelFor(tier domain.ExtractionTier) string {
	if m, ok := c.cfg.TierModels[tier]; ok {
		return m
	}
	return c.cfg.TierModels[domain.TierBase]
}

func (c *Client) Costs() CostStats { return c.costs.Stats() }

// completeJSON runs one JSON-mode completion behind the limiter, breaker and retries.
func (c *Client) completeJSON(ctx context.Context, call *out.OracleCall, system, user string) (string, error) {
	start := time.Now()

	if c.limiter != nil {
		release, err := c.limiter.Wait(ctx, limiterKey)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
		}
		defer release()
	}

	req := openai.ChatCompletionRequest{
		Model: call.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var content string
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			resp, err := c.api.CreateChatCompletion(ctx, req)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("%w: no choices", domain.ErrMalformedOracleOutput)
			}
			content = resp.Choices[0].Message.Content
			c.costs.Track(call.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return nil
		})
	})

	elapsed := time.Since(start)
	metrics.Global().Observe("oracle."+call.Kind+"."+call.Model, elapsed)
	call.Response = content
	call.LatencyMS = elapsed.Milliseconds()
	if err != nil {
		call.Error = err.Error()
	}
	c.record(ctx, call)

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s: %v", domain.ErrOracleUnavailable, call.Model, err)
	}
	return content, nil
}

func (c *Client) record(ctx context.Context, call *out.OracleCall) {
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordCall(ctx, call); err != nil {
		logger.WithError(err).WithField("kind", call.Kind).Warn("[LLMClient.record] failed to store oracle call")
	}
}

// retryable retries rate limits, server errors and transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	return true
}
