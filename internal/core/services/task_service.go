package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// TaskService is the task record store. It owns every status, progress and
// log mutation so the task invariants hold regardless of the caller.
type TaskService struct {
	repo   ports.TaskRepository
	logger *logger.Logger
	locks  *keyLocker
	now    func() time.Time
}

func NewTaskService(repo ports.TaskRepository, log *logger.Logger) *TaskService {
	return &TaskService{
		repo:   repo,
		logger: log,
		locks:  newKeyLocker(true),
		now:    time.Now,
	}
}

// TaskUpdate is a partial update. Nil fields are left untouched.
type TaskUpdate struct {
	Progress *int
	Message  *string
}

func taskKey(id uint) string {
	return fmt.Sprintf("task:%d", id)
}

// ==================== Task Management ====================

func (s *TaskService) Create(ctx context.Context, appID string, action domain.TaskAction, actor, message string, opts domain.TaskOptions) (*domain.Task, error) {
	if actor == "" {
		actor = "system"
	}
	now := s.now()
	task := &domain.Task{
		AppID:     appID,
		Action:    action,
		Status:    domain.TaskStatusQueued,
		Progress:  0,
		Message:   message,
		Options:   opts,
		Actor:     actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// AppendLog adds one timestamped line to the task log.
func (s *TaskService) AppendLog(ctx context.Context, id uint, line string) error {
	line = strings.TrimRight(line, "\n")
	text := fmt.Sprintf("%s %s\n", s.now().UTC().Format(time.RFC3339), line)
	if err := s.repo.AppendLog(ctx, id, text); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	return nil
}

func (s *TaskService) Update(ctx context.Context, id uint, upd TaskUpdate) error {
	unlock := s.locks.lockKeys(taskKey(id))
	defer unlock()

	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: task %d is %s", ErrTaskInvalidTransition, id, task.Status)
	}

	fields := map[string]interface{}{}
	if upd.Progress != nil {
		fields["progress"] = clampProgress(task.Progress, *upd.Progress)
	}
	if upd.Message != nil {
		fields["message"] = *upd.Message
	}
	if len(fields) == 0 {
		return nil
	}
	return s.repo.Update(ctx, id, fields)
}

func (s *TaskService) MarkRunning(ctx context.Context, id uint, progress int, message string) error {
	return s.transition(ctx, id, domain.TaskStatusRunning, func(task *domain.Task, fields map[string]interface{}) {
		fields["progress"] = clampProgress(task.Progress, progress)
		fields["message"] = message
	})
}

func (s *TaskService) MarkSuccess(ctx context.Context, id uint, message string) error {
	return s.transition(ctx, id, domain.TaskStatusSuccess, func(_ *domain.Task, fields map[string]interface{}) {
		fields["progress"] = 100
		fields["message"] = message
		fields["finished_at"] = s.now()
	})
}

func (s *TaskService) MarkFailed(ctx context.Context, id uint, errMsg string) error {
	return s.transition(ctx, id, domain.TaskStatusFailed, func(_ *domain.Task, fields map[string]interface{}) {
		fields["message"] = "Task failed"
		fields["error_detail"] = errMsg
		fields["finished_at"] = s.now()
	})
}

func (s *TaskService) Get(ctx context.Context, id uint) (*domain.Task, error) {
	return s.load(ctx, id)
}

func (s *TaskService) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 60
	}
	return s.repo.List(ctx, limit)
}

// CloneFailedAsRetry copies a failed task into a new queued one. It returns
// (nil, nil) when the source exists but is not failed.
func (s *TaskService) CloneFailedAsRetry(ctx context.Context, id uint, actor string) (*domain.Task, error) {
	// Holding the source lock keeps its status stable while we copy it.
	unlock := s.locks.lockKeys(taskKey(id))
	defer unlock()

	src, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if src.Status != domain.TaskStatusFailed {
		return nil, nil
	}

	if actor == "" {
		actor = "system"
	}
	now := s.now()
	srcID := src.ID
	task := &domain.Task{
		AppID:       src.AppID,
		Action:      src.Action,
		Status:      domain.TaskStatusQueued,
		Message:     fmt.Sprintf("Queued retry: %s", src.Action),
		Options:     src.Options.Clone(),
		Actor:       actor,
		RetriedFrom: &srcID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *TaskService) transition(ctx context.Context, id uint, next domain.TaskStatus, apply func(*domain.Task, map[string]interface{})) error {
	unlock := s.locks.lockKeys(taskKey(id))
	defer unlock()

	task, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !task.Status.CanTransition(next) {
		s.logger.Warnw("task_transition_rejected", "task_id", id, "from", task.Status, "to", next)
		return fmt.Errorf("%w: task %d %s -> %s", ErrTaskInvalidTransition, id, task.Status, next)
	}
	fields := map[string]interface{}{"status": next}
	apply(task, fields)
	return s.repo.Update(ctx, id, fields)
}

func (s *TaskService) load(ctx context.Context, id uint) (*domain.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func clampProgress(current, next int) int {
	if next > 100 {
		next = 100
	}
	if next < current {
		return current
	}
	return next
}
