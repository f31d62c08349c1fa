package http

import (
	"freight_server/core/port/in"
	"freight_server/pkg/logger"
	"freight_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ReviewHandler exposes the human review queue.
type ReviewHandler struct {
	service in.IngestService
}

func NewReviewHandler(service in.IngestService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

// Register mounts the queue; decide guards approve and reject.
func (h *ReviewHandler) Register(router fiber.Router, decide ...fiber.Handler) {
	reviews := router.Group("/reviews")
	reviews.Get("/", h.List)

	approve := append(append([]fiber.Handler{}, decide...), h.Approve)
	reject := append(append([]fiber.Handler{}, decide...), h.Reject)
	reviews.Post("/:id/approve", approve...)
	reviews.Post("/:id/reject", reject...)
}

// List returns documents held for review, oldest first.
func (h *ReviewHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	records, err := h.service.ListPendingReview(c.Context(), limit)
	if err != nil {
		return toAppError(err)
	}
	return response.OKWithMeta(c, records, &response.Meta{Total: len(records), Limit: limit})
}

// Approve releases a held document and applies its observations.
func (h *ReviewHandler) Approve(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	result, err := h.service.ApproveReview(c.Context(), id)
	if err != nil {
		return toAppError(err)
	}
	logger.WithField("operator", c.Locals("operator")).
		Info("[ReviewHandler.Approve] document %s approved", id)
	return response.OK(c, result)
}

// Reject keeps a held document out of every shipment.
func (h *ReviewHandler) Reject(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.RejectReview(c.Context(), id); err != nil {
		return toAppError(err)
	}
	logger.WithField("operator", c.Locals("operator")).
		Info("[ReviewHandler.Reject] document %s rejected", id)
	return response.NoContent(c)
}
