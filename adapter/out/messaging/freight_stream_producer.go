// Package messaging provides message queue adapters.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"freight_server/core/domain"
	"freight_server/core/port/out"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamIngest    = "freight:ingest"
	StreamReprocess = "freight:reprocess"
	StreamReconcile = "freight:reconcile"
)

// JobStreams lists the streams the worker consumes.
func JobStreams() []string {
	return []string{StreamIngest, StreamReprocess, StreamReconcile}
}

// IngestJob carries an inbound message to the worker.
type IngestJob struct {
	JobID      string                 `json:"job_id"`
	Message    *domain.InboundMessage `json:"message"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
}

// ReprocessJob asks the worker to rerun a stored document.
type ReprocessJob struct {
	JobID      string    `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ReconcileJob asks the worker to rebuild every shipment.
type ReconcileJob struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisProducer implements out.JobProducer using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishIngest publishes an ingest job.
func (p *RedisProducer) PublishIngest(ctx context.Context, msg *domain.InboundMessage) (string, error) {
	job := &IngestJob{JobID: uuid.NewString(), Message: msg, EnqueuedAt: time.Now().UTC()}
	return job.JobID, p.publish(ctx, StreamIngest, job)
}

// PublishReprocess publishes a reprocess job.
func (p *RedisProducer) PublishReprocess(ctx context.Context, documentID uuid.UUID) (string, error) {
	job := &ReprocessJob{JobID: uuid.NewString(), DocumentID: documentID, EnqueuedAt: time.Now().UTC()}
	return job.JobID, p.publish(ctx, StreamReprocess, job)
}

// PublishReconcile publishes a reconcile job.
func (p *RedisProducer) PublishReconcile(ctx context.Context) (string, error) {
	job := &ReconcileJob{JobID: uuid.NewString(), EnqueuedAt: time.Now().UTC()}
	return job.JobID, p.publish(ctx, StreamReconcile, job)
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

// Ensure RedisProducer implements out.JobProducer
var _ out.JobProducer = (*RedisProducer)(nil)
