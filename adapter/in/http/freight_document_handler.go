package http

import (
	"freight_server/core/domain"
	"freight_server/core/port/in"
	"freight_server/core/port/out"
	"freight_server/pkg/apperr"
	"freight_server/pkg/logger"
	"freight_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// maxBatchSize bounds a synchronous or enqueued batch request.
const maxBatchSize = 500

// DocumentHandler handles document ingestion and reprocessing.
type DocumentHandler struct {
	service  in.IngestService
	producer out.JobProducer
}

// NewDocumentHandler creates a new DocumentHandler. producer may be nil, in
// which case async requests are rejected.
func NewDocumentHandler(service in.IngestService, producer out.JobProducer) *DocumentHandler {
	return &DocumentHandler{service: service, producer: producer}
}

func (h *DocumentHandler) Register(router fiber.Router) {
	docs := router.Group("/documents")
	docs.Post("/", h.Ingest)
	docs.Post("/batch", h.IngestBatch)
	docs.Post("/:id/reprocess", h.Reprocess)
}

type batchRequest struct {
	Messages []*domain.InboundMessage `json:"messages"`
}

type enqueuedResponse struct {
	JobIDs []string `json:"job_ids"`
}

// Ingest processes one message inline, or enqueues it with ?async=true.
func (h *DocumentHandler) Ingest(c *fiber.Ctx) error {
	var msg domain.InboundMessage
	if err := c.BodyParser(&msg); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := validateMessage(&msg); err != nil {
		return err
	}

	if wantsAsync(c) {
		if h.producer == nil {
			return apperr.BadRequest("async ingestion is not configured")
		}
		jobID, err := h.producer.PublishIngest(c.Context(), &msg)
		if err != nil {
			return apperr.InternalWithError(err)
		}
		return response.Accepted(c, enqueuedResponse{JobIDs: []string{jobID}})
	}

	result, err := h.service.Process(c.Context(), &msg)
	if err != nil {
		return toAppError(err)
	}
	return response.OK(c, result)
}

// IngestBatch processes messages concurrently and reports per-message failures.
func (h *DocumentHandler) IngestBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(req.Messages) == 0 {
		return apperr.MissingField("messages")
	}
	if len(req.Messages) > maxBatchSize {
		return apperr.InvalidInput("messages", "batch too large").WithDetail("max", maxBatchSize)
	}

	if !wantsAsync(c) {
		return response.OK(c, h.service.ProcessBatch(c.Context(), req.Messages))
	}

	if h.producer == nil {
		return apperr.BadRequest("async ingestion is not configured")
	}
	for i, msg := range req.Messages {
		if err := validateMessage(msg); err != nil {
			return apperr.AsAppError(err).WithDetail("index", i)
		}
	}

	ids := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		jobID, err := h.producer.PublishIngest(c.Context(), msg)
		if err != nil {
			logger.WithError(err).Error("[DocumentHandler.IngestBatch] enqueue failed after %d jobs", len(ids))
			return apperr.InternalWithError(err).WithDetail("enqueued", len(ids))
		}
		ids = append(ids, jobID)
	}
	return response.Accepted(c, enqueuedResponse{JobIDs: ids})
}

// Reprocess re-runs classification and extraction from stored content.
func (h *DocumentHandler) Reprocess(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}

	if wantsAsync(c) {
		if h.producer == nil {
			return apperr.BadRequest("async reprocessing is not configured")
		}
		jobID, err := h.producer.PublishReprocess(c.Context(), id)
		if err != nil {
			return apperr.InternalWithError(err)
		}
		return response.Accepted(c, enqueuedResponse{JobIDs: []string{jobID}})
	}

	result, err := h.service.Reprocess(c.Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return response.OK(c, result)
}
