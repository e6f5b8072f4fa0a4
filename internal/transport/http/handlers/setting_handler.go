package handlers

import (
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type SettingHandler struct {
	integrations ports.IntegrationConfig
	logger       *logger.Logger
}

func NewSettingHandler(integrations ports.IntegrationConfig, logger *logger.Logger) *SettingHandler {
	return &SettingHandler{integrations: integrations, logger: logger}
}

// GetIntegrations returns the integration settings with secrets masked.
func (h *SettingHandler) GetIntegrations(c *fiber.Ctx) error {
	settings, err := h.integrations.Masked(c.UserContext())
	if err != nil {
		h.logger.Errorw("settings_get_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(settings)
}

func (h *SettingHandler) UpdateIntegrations(c *fiber.Ctx) error {
	var req map[string]string
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("settings_update_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	h.logger.Infow("settings_update_request", "keys", len(req))
	if err := h.integrations.Save(c.UserContext(), req); err != nil {
		h.logger.Warnw("settings_update_failed", "error", err)
		return writeError(c, err)
	}
	return h.GetIntegrations(c)
}
