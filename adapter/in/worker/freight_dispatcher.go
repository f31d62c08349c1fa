package worker

import (
	"context"
	"fmt"
	"time"

	"freight_server/adapter/out/messaging"
	"freight_server/core/port/in"
	"freight_server/pkg/logger"
	"freight_server/pkg/metrics"
)

// Handler routes jobs to the ingest service.
type Handler struct {
	ingest in.IngestService
}

func NewHandler(ingest in.IngestService) *Handler {
	return &Handler{ingest: ingest}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)
	defer metrics.Global().Since("job."+msg.Type, time.Now())

	switch msg.Type {
	case JobIngest:
		return h.processIngest(ctx, msg)
	case JobReprocess:
		return h.processReprocess(ctx, msg)
	case JobReconcile:
		return h.processReconcile(ctx)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func (h *Handler) processIngest(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[messaging.IngestJob](msg)
	if err != nil {
		return fmt.Errorf("invalid ingest payload: %w", err)
	}
	if job.Message == nil {
		return fmt.Errorf("invalid ingest payload: missing message")
	}

	result, err := h.ingest.Process(ctx, job.Message)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]any{
		"job_id":      job.JobID,
		"document_id": result.DocumentID,
		"type":        result.DocumentType,
		"outcome":     result.Outcome,
	}).Info("[Handler.processIngest] document processed")
	return nil
}

func (h *Handler) processReprocess(ctx context.Context, msg *Message) error {
	job, err := ParsePayload[messaging.ReprocessJob](msg)
	if err != nil {
		return fmt.Errorf("invalid reprocess payload: %w", err)
	}

	result, err := h.ingest.Reprocess(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	logger.Info("[Handler.processReprocess] document %s reprocessed: %s", result.DocumentID, result.Outcome)
	return nil
}

func (h *Handler) processReconcile(ctx context.Context) error {
	summary, err := h.ingest.Reconcile(ctx)
	if err != nil {
		return err
	}
	logger.Info("[Handler.processReconcile] shipments=%d fields=%d states=%d corrections=%d failures=%d",
		summary.Shipments, summary.FieldsChanged, summary.StatesChanged, summary.Corrections, len(summary.Failures))
	return nil
}

// StreamJobType maps Redis stream names to job types.
func StreamJobType(stream string) JobType {
	switch stream {
	case messaging.StreamIngest:
		return JobIngest
	case messaging.StreamReprocess:
		return JobReprocess
	case messaging.StreamReconcile:
		return JobReconcile
	default:
		return stream
	}
}
