package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler processes jobs from streams. A nil return acknowledges the message.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// Consumer consumes messages from Redis Streams.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	batchSize int64
	block     time.Duration

	// Pending 메시지 재처리 설정
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	BatchSize int
	Block     time.Duration

	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		batchSize:            int64(cfg.BatchSize),
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}

	if c.batchSize <= 0 {
		c.batchSize = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.pendingCheckInterval <= 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime <= 0 {
		c.pendingIdleTime = 2 * time.Minute // reconcile 작업보다 길게
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Run starts consuming messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	for _, stream := range c.streams {
		c.createConsumerGroup(ctx, stream)
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.handleAndAck(ctx, stream.Stream, msg)
			}
		}
	}
}

// handleAndAck acknowledges only on success; failures stay pending for reclaim.
func (c *Consumer) handleAndAck(ctx context.Context, stream string, msg redis.XMessage) bool {
	if err := c.processMessage(ctx, stream, msg); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error processing message")
		return false
	}

	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error acknowledging message")
		return false
	}
	return true
}

// processPendingMessages periodically checks and reprocesses stuck pending messages.
func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimAndProcessPending(ctx)
		}
	}
}

// claimAndProcessPending claims idle pending messages, moving those past
// maxRetries to the dead letter stream.
func (c *Consumer) claimAndProcessPending(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Idle:   c.pendingIdleTime,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Str("stream", stream).Msg("error getting pending messages")
			}
			continue
		}

		for _, p := range pending {
			if int(p.RetryCount) >= c.maxRetries {
				c.log.Warn().
					Str("stream", stream).
					Str("id", p.ID).
					Int64("retries", p.RetryCount).
					Msg("message exceeded max retries, moving to DLQ")

				if err := c.moveToDeadLetterQueue(ctx, stream, p.ID); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
					continue
				}
				c.client.XAck(ctx, stream, c.group, p.ID)
				continue
			}

			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
				continue
			}

			for _, msg := range claimed {
				if c.handleAndAck(ctx, stream, msg) {
					c.log.Info().Str("stream", stream).Str("id", msg.ID).Msg("reprocessed pending message")
				}
			}
		}
	}
}

// createConsumerGroup creates a consumer group if it doesn't exist.
func (c *Consumer) createConsumerGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		c.log.Warn().Err(err).Str("stream", stream).Msg("error creating consumer group")
	}
}

// readMessages reads messages from all streams using XREADGROUP.
func (c *Consumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, redis.Nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batchSize,
		Block:    c.block,
	}).Result()
}

// processMessage processes a single message.
func (c *Consumer) processMessage(ctx context.Context, stream string, msg redis.XMessage) error {
	data, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("invalid message format: missing data field")
	}

	dataStr, ok := data.(string)
	if !ok {
		return fmt.Errorf("invalid message format: data is not a string")
	}

	return c.handler.Handle(ctx, stream, []byte(dataStr))
}

// DeadLetterStream returns the DLQ stream name for stream.
func DeadLetterStream(stream string) string {
	return "dlq:" + stream
}

// moveToDeadLetterQueue copies a failed message to dlq:{stream}.
func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, stream string, msgID string) error {
	messages, err := c.client.XRange(ctx, stream, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("failed to read message for DLQ: %w", err)
	}
	if len(messages) == 0 {
		return fmt.Errorf("message %s not found in stream %s", msgID, stream)
	}

	dlqData := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msgID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
	}
	for k, v := range messages[0].Values {
		dlqData["original_"+k] = v
	}

	dlqStream := DeadLetterStream(stream)
	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: dlqStream, Values: dlqData}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}

	c.log.Info().
		Str("dlq_stream", dlqStream).
		Str("original_id", msgID).
		Msg("message moved to DLQ")
	return nil
}
