package services

import (
	"context"
	"fmt"

	"github.com/arknas/backend/internal/infrastructure/logger"
)

// progressReporter is how long-running steps surface progress and log
// lines on the task they run for.
type progressReporter interface {
	Progress(ctx context.Context, pct int, message string)
	Log(ctx context.Context, format string, args ...interface{})
}

// taskReporter writes through the task store. Store failures are logged
// and swallowed so a flaky write never aborts the step itself.
type taskReporter struct {
	tasks  *TaskService
	taskID uint
	mute   bool
	log    *logger.Logger
}

func newTaskReporter(tasks *TaskService, taskID uint, log *logger.Logger) *taskReporter {
	return &taskReporter{tasks: tasks, taskID: taskID, log: log}
}

// muted returns a reporter that keeps logging but drops progress updates.
// Nested steps use it so the parent's progress stays monotonic.
func (r *taskReporter) muted() *taskReporter {
	cp := *r
	cp.mute = true
	return &cp
}

func (r *taskReporter) Progress(ctx context.Context, pct int, message string) {
	if r.mute {
		return
	}
	if err := r.tasks.Update(ctx, r.taskID, TaskUpdate{Progress: &pct, Message: &message}); err != nil {
		r.log.Warnw("task_progress_failed", "task_id", r.taskID, "progress", pct, "error", err)
	}
}

func (r *taskReporter) Log(ctx context.Context, format string, args ...interface{}) {
	line := format
	if len(args) > 0 {
		line = fmt.Sprintf(format, args...)
	}
	if err := r.tasks.AppendLog(ctx, r.taskID, line); err != nil {
		r.log.Warnw("task_log_append_failed", "task_id", r.taskID, "error", err)
	}
}
