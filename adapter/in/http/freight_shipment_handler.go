package http

import (
	"freight_server/core/port/in"
	"freight_server/core/port/out"
	"freight_server/pkg/apperr"
	"freight_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ShipmentHandler serves the shipment read model and reconciliation triggers.
type ShipmentHandler struct {
	service  in.IngestService
	producer out.JobProducer
}

func NewShipmentHandler(service in.IngestService, producer out.JobProducer) *ShipmentHandler {
	return &ShipmentHandler{service: service, producer: producer}
}

func (h *ShipmentHandler) Register(router fiber.Router) {
	router.Get("/shipments/:id", h.Get)
	router.Post("/shipments/:id/rebuild", h.Rebuild)
	router.Post("/threads/:id/repair", h.RepairThread)
	router.Post("/reconcile", h.Reconcile)
}

// Get returns fields, workflow, revisions and linked documents of a shipment.
func (h *ShipmentHandler) Get(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	view, err := h.service.GetShipmentView(c.Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return response.OK(c, view)
}

// Rebuild recomputes one shipment from its linked documents.
func (h *ShipmentHandler) Rebuild(c *fiber.Ctx) error {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.service.RebuildShipment(c.Context(), id); err != nil {
		return toAppError(err)
	}
	view, err := h.service.GetShipmentView(c.Context(), id)
	if err != nil {
		return toAppError(err)
	}
	return response.OK(c, view)
}

// RepairThread re-derives a thread's authoritative shipment and relinks replies.
func (h *ShipmentHandler) RepairThread(c *fiber.Ctx) error {
	threadID, err := parseStringParam(c, "id")
	if err != nil {
		return err
	}
	result, err := h.service.RepairThread(c.Context(), threadID)
	if err != nil {
		return toAppError(err)
	}
	return response.OK(c, result)
}

// Reconcile rebuilds every shipment inline, or enqueues a job with ?async=true.
func (h *ShipmentHandler) Reconcile(c *fiber.Ctx) error {
	if wantsAsync(c) {
		if h.producer == nil {
			return apperr.BadRequest("async reconcile is not configured")
		}
		jobID, err := h.producer.PublishReconcile(c.Context())
		if err != nil {
			return apperr.InternalWithError(err)
		}
		return response.Accepted(c, enqueuedResponse{JobIDs: []string{jobID}})
	}

	summary, err := h.service.Reconcile(c.Context())
	if err != nil {
		return toAppError(err)
	}
	return response.OK(c, summary)
}
