// Package response builds the JSON envelope returned by every HTTP handler.
package response

import (
	"freight_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta contains list metadata.
type Meta struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

func OKWithMeta(c *fiber.Ctx, data any, meta *Meta) error {
	return c.JSON(Response{Success: true, Data: data, Meta: meta})
}

// Accepted acknowledges work handed to the queue.
func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Data: data})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Error writes err as an error envelope. Non-AppErrors become 500s without leaking the cause.
func Error(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	return c.Status(appErr.Status).JSON(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}
