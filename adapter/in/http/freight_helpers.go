// Package http exposes the operator API over Fiber.
package http

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"freight_server/core/domain"
	"freight_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// parseUUIDParam reads a UUID path parameter.
func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput(name, "must be a UUID")
	}
	return id, nil
}

// parseStringParam reads and unescapes a free-form path parameter.
func parseStringParam(c *fiber.Ctx, name string) (string, error) {
	raw, err := url.PathUnescape(c.Params(name))
	if err != nil || strings.TrimSpace(raw) == "" {
		return "", apperr.InvalidInput(name, "must not be empty")
	}
	return raw, nil
}

// wantsAsync reports whether the caller asked to enqueue instead of running inline.
func wantsAsync(c *fiber.Ctx) bool {
	return c.QueryBool("async", false)
}

// toAppError maps service errors onto API errors.
func toAppError(err error) error {
	if err == nil || apperr.IsAppError(err) {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		return apperr.NotFound("document").WithError(err)
	case errors.Is(err, domain.ErrShipmentNotFound):
		return apperr.NotFound("shipment").WithError(err)
	case errors.Is(err, domain.ErrNotPendingReview):
		return apperr.InvalidState("document is not pending review", err)
	case errors.Is(err, domain.ErrMissingExternalID):
		return apperr.MissingField("external_id")
	case errors.Is(err, domain.ErrOracleUnavailable):
		return apperr.OracleError("llm", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Timeout("request")
	default:
		return apperr.InternalWithError(err)
	}
}

func validateMessage(msg *domain.InboundMessage) error {
	if msg == nil {
		return apperr.BadRequest("message body is required")
	}
	if strings.TrimSpace(msg.ExternalID) == "" {
		return apperr.MissingField("external_id")
	}
	return nil
}
