package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"freight_server/core/domain"
	"freight_server/core/port/out"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// =============================================================================
// Redis Stream change feed
// =============================================================================

// changeStreamMaxLen caps the change stream; XADD trims approximately.
const changeStreamMaxLen = 100000

// RedisChangePublisher appends shipment change events to a Redis stream.
type RedisChangePublisher struct {
	client *redis.Client
	stream string
}

// NewRedisChangePublisher creates a new RedisChangePublisher.
func NewRedisChangePublisher(client *redis.Client, stream string) *RedisChangePublisher {
	return &RedisChangePublisher{client: client, stream: stream}
}

func (p *RedisChangePublisher) PublishShipmentChange(ctx context.Context, event *domain.ShipmentChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: changeStreamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"shipment_id": event.ShipmentID.String(),
			"data":        string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return nil
}

// =============================================================================
// Kafka change feed
// =============================================================================

// KafkaWriter is the subset of kafka.Writer the publisher needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChangePublisher writes change events keyed by shipment id, so one
// shipment's events stay on one partition.
type KafkaChangePublisher struct {
	writer KafkaWriter
}

// NewKafkaChangePublisher creates a publisher writing to topic on brokers.
func NewKafkaChangePublisher(brokers []string, topic string) *KafkaChangePublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaChangePublisher{writer: w}
}

// NewKafkaChangePublisherWithWriter allows injecting a test writer.
func NewKafkaChangePublisherWithWriter(w KafkaWriter) *KafkaChangePublisher {
	return &KafkaChangePublisher{writer: w}
}

func (p *KafkaChangePublisher) PublishShipmentChange(ctx context.Context, event *domain.ShipmentChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.ShipmentID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "document_type", Value: []byte(event.DocumentType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write change event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaChangePublisher) Close() error {
	return p.writer.Close()
}

// =============================================================================
// Fan-out
// =============================================================================

// FanoutPublisher delivers each event to every sink and joins their errors.
type FanoutPublisher struct {
	sinks []out.ChangePublisher
}

// NewFanoutPublisher drops nil sinks.
func NewFanoutPublisher(sinks ...out.ChangePublisher) *FanoutPublisher {
	f := &FanoutPublisher{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of configured sinks.
func (f *FanoutPublisher) Len() int {
	return len(f.sinks)
}

func (f *FanoutPublisher) PublishShipmentChange(ctx context.Context, event *domain.ShipmentChangeEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.PublishShipmentChange(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ out.ChangePublisher = (*RedisChangePublisher)(nil)
	_ out.ChangePublisher = (*KafkaChangePublisher)(nil)
	_ out.ChangePublisher = (*FanoutPublisher)(nil)
)
