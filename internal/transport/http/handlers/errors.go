package handlers

import (
	"errors"

	"github.com/arknas/backend/internal/core/services"
	"github.com/arknas/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

// statusFor maps an orchestrator error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrUpstream):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: err.Error()})
}

// actor returns the identity recorded on tasks started by this request.
func actor(c *fiber.Ctx) string {
	if a, ok := c.Locals("actor").(string); ok && a != "" {
		return a
	}
	return "system"
}
