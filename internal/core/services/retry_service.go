package services

import (
	"context"
	"fmt"

	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
)

// RetryManager turns a failed task into a fresh one and dispatches it.
// The failed task itself is never touched.
type RetryManager struct {
	tasks    *TaskService
	catalog  *Catalog
	launcher *taskLauncher
	logger   *logger.Logger
}

func NewRetryManager(tasks *TaskService, catalog *Catalog, launcher *taskLauncher, log *logger.Logger) *RetryManager {
	return &RetryManager{tasks: tasks, catalog: catalog, launcher: launcher, logger: log}
}

func (r *RetryManager) Retry(ctx context.Context, taskID uint, actor string) (*domain.Task, error) {
	task, err := r.tasks.CloneFailedAsRetry(ctx, taskID, actor)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %d", ErrTaskNotRetryable, taskID)
	}

	if err := r.tasks.AppendLog(ctx, task.ID, fmt.Sprintf("Retry of task #%d", taskID)); err != nil {
		r.logger.Warnw("task_log_append_failed", "task_id", task.ID, "error", err)
	}
	r.logger.Infow("task_retry_created", "task_id", task.ID, "retried_from", taskID, "actor", task.Actor)

	if task.Action == domain.TaskActionInstallBundle || r.catalog.IsBundle(task.AppID) {
		bundleID := task.Options.BundleOpts().BundleID
		if bundleID == "" {
			bundleID = task.AppID
		}
		r.launcher.launchBundle(task, bundleID)
	} else {
		r.launcher.launchApp(task)
	}
	return task, nil
}
