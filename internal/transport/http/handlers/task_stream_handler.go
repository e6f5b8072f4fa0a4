package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/core/services"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/internal/transport/http/dto"
	"github.com/gofiber/contrib/websocket"
)

// TaskStreamHandler pushes task progress over a websocket until the task
// reaches a terminal state or the client goes away.
type TaskStreamHandler struct {
	service  ports.AppTaskService
	logger   *logger.Logger
	interval time.Duration
}

func NewTaskStreamHandler(service ports.AppTaskService, logger *logger.Logger, interval time.Duration) *TaskStreamHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &TaskStreamHandler{service: service, logger: logger, interval: interval}
}

func (h *TaskStreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	idStr := c.Params("id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		h.logger.Warnw("task_stream_invalid_id", "id", idStr)
		_ = c.WriteJSON(dto.ErrorResponse{Error: "invalid task id"})
		return
	}

	// Reads only exist to notice the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Infow("task_stream_open", "task_id", id)
	ctx := context.Background()
	sent := 0
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		task, err := h.service.GetTask(ctx, uint(id))
		if err != nil {
			msg := "failed to load task"
			if errors.Is(err, services.ErrTaskNotFound) {
				msg = "task not found"
			}
			_ = c.WriteJSON(dto.ErrorResponse{Error: msg})
			return
		}

		ev := dto.TaskEvent{
			ID:          task.ID,
			Status:      task.Status,
			Progress:    task.Progress,
			Message:     task.Message,
			ErrorDetail: task.ErrorDetail,
		}
		if len(task.LogText) > sent {
			ev.Log = task.LogText[sent:]
			sent = len(task.LogText)
		}
		if err := c.WriteJSON(ev); err != nil {
			h.logger.Infow("task_stream_write_failed", "task_id", id, "error", err)
			return
		}
		if task.Status.IsTerminal() {
			h.logger.Infow("task_stream_done", "task_id", id, "status", task.Status)
			return
		}

		select {
		case <-gone:
			return
		case <-ticker.C:
		}
	}
}
