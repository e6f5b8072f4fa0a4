package handlers

import (
	"strconv"

	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
)

type AppHandler struct {
	service ports.AppTaskService
	logger  *logger.Logger
}

func NewAppHandler(service ports.AppTaskService, logger *logger.Logger) *AppHandler {
	return &AppHandler{service: service, logger: logger}
}

func (h *AppHandler) ListApps(c *fiber.Ctx) error {
	apps, err := h.service.ListApps(c.UserContext())
	if err != nil {
		h.logger.Errorw("apps_list_failed", "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.AppListResponse{Apps: apps})
}

func (h *AppHandler) ListBundles(c *fiber.Ctx) error {
	return c.JSON(dto.BundleListResponse{Bundles: h.service.ListBundles()})
}

func (h *AppHandler) InstallBundle(c *fiber.Ctx) error {
	bundleID := c.Params("bundleId")
	h.logger.Infow("bundle_install_request", "bundle_id", bundleID, "actor", actor(c))
	task, err := h.service.CreateBundleInstallTask(c.UserContext(), bundleID, actor(c))
	if err != nil {
		h.logger.Warnw("bundle_install_rejected", "bundle_id", bundleID, "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.TaskAcceptedResponse{OK: true, Task: task})
}

func (h *AppHandler) Install(c *fiber.Ctx) error {
	return h.createTask(c, c.Params("appId"), string(domain.TaskActionInstall))
}

func (h *AppHandler) Uninstall(c *fiber.Ctx) error {
	return h.createTask(c, c.Params("appId"), string(domain.TaskActionUninstall))
}

// Control handles start, stop and restart.
func (h *AppHandler) Control(c *fiber.Ctx) error {
	action := c.Params("action")
	switch domain.TaskAction(action) {
	case domain.TaskActionStart, domain.TaskActionStop, domain.TaskActionRestart:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "unsupported task action"})
	}
	return h.createTask(c, c.Params("appId"), action)
}

func (h *AppHandler) createTask(c *fiber.Ctx, appID, action string) error {
	var req dto.AppActionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Warnw("app_task_body_parse_failed", "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
		}
	}

	h.logger.Infow("app_task_request", "app_id", appID, "action", action, "actor", actor(c))
	task, err := h.service.CreateAppActionTask(c.UserContext(), ports.CreateAppTaskInput{
		AppID:   appID,
		Action:  action,
		Actor:   actor(c),
		Options: req.Options(domain.TaskAction(action)),
	})
	if err != nil {
		h.logger.Warnw("app_task_rejected", "app_id", appID, "action", action, "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.TaskAcceptedResponse{OK: true, Task: task})
}

func (h *AppHandler) ListTasks(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	tasks, err := h.service.ListTasks(c.UserContext(), limit)
	if err != nil {
		h.logger.Errorw("app_tasks_list_failed", "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.TaskListResponse{Tasks: tasks})
}

func (h *AppHandler) GetTask(c *fiber.Ctx) error {
	id, ok := taskID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	task, err := h.service.GetTask(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(task)
}

func (h *AppHandler) GetTaskLogs(c *fiber.Ctx) error {
	id, ok := taskID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	logs, err := h.service.GetTaskLogs(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.TaskLogsResponse{TaskID: id, Logs: logs})
}

func (h *AppHandler) RetryTask(c *fiber.Ctx) error {
	id, ok := taskID(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	h.logger.Infow("app_task_retry_request", "task_id", id, "actor", actor(c))
	task, err := h.service.RetryTask(c.UserContext(), id, actor(c))
	if err != nil {
		h.logger.Warnw("app_task_retry_rejected", "task_id", id, "error", err)
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(dto.TaskAcceptedResponse{OK: true, Task: task})
}

func taskID(c *fiber.Ctx) (uint, bool) {
	raw := c.Params("taskId")
	if raw == "" {
		raw = c.Params("id")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
