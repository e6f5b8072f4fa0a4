package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
)

// TaskJob identifies a task handed to the scheduler.
type TaskJob struct {
	TaskID uint
	Target string
	Action domain.TaskAction
	Actor  string
	// LockKeys are the application ids the job touches. They are only
	// used when per-application locking is enabled.
	LockKeys []string
}

// TaskOutcome is what a successful executor reports.
type TaskOutcome struct {
	Message string
	Detail  interface{}
}

type TaskExecutor func(ctx context.Context) (TaskOutcome, error)

// TaskScheduler runs each task on its own goroutine and owns the terminal
// state and audit record of every task it accepts.
type TaskScheduler struct {
	tasks  *TaskService
	audit  ports.AuditRepository
	logger *logger.Logger

	mu       sync.Mutex
	inFlight map[uint]struct{}
	wg       sync.WaitGroup
	appLocks *keyLocker
}

func NewTaskScheduler(tasks *TaskService, audit ports.AuditRepository, log *logger.Logger, enableAppLocks bool) *TaskScheduler {
	return &TaskScheduler{
		tasks:    tasks,
		audit:    audit,
		logger:   log,
		inFlight: make(map[uint]struct{}),
		appLocks: newKeyLocker(enableAppLocks),
	}
}

// Dispatch starts exec for job unless the task is already in flight.
// It reports whether a new execution was started.
func (s *TaskScheduler) Dispatch(job TaskJob, exec TaskExecutor) bool {
	s.mu.Lock()
	if _, busy := s.inFlight[job.TaskID]; busy {
		s.mu.Unlock()
		s.logger.Infow("task_dispatch_skipped", "task_id", job.TaskID, "reason", "in_flight")
		return false
	}
	s.inFlight[job.TaskID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Infow("task_dispatched", "task_id", job.TaskID, "target", job.Target, "action", job.Action)
	go func() {
		defer s.wg.Done()
		defer s.release(job.TaskID)

		unlock := s.appLocks.lockKeys(appLockKeys(job.LockKeys)...)
		defer unlock()

		// Tasks outlive the request that created them.
		ctx := context.Background()
		outcome, err := s.execute(ctx, job, exec)
		s.finish(ctx, job, outcome, err)
	}()
	return true
}

// InFlight reports whether taskID is currently executing.
func (s *TaskScheduler) InFlight(taskID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[taskID]
	return ok
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (s *TaskScheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskScheduler) release(taskID uint) {
	s.mu.Lock()
	delete(s.inFlight, taskID)
	s.mu.Unlock()
}

func (s *TaskScheduler) execute(ctx context.Context, job TaskJob, exec TaskExecutor) (outcome TaskOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("task_panic_recovered", "task_id", job.TaskID, "panic", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return exec(ctx)
}

func (s *TaskScheduler) finish(ctx context.Context, job TaskJob, outcome TaskOutcome, runErr error) {
	entry := &domain.AuditLog{
		Action: auditAction(job.Action),
		Actor:  job.Actor,
		Target: job.Target,
	}

	if runErr == nil {
		msg := outcome.Message
		if msg == "" {
			msg = fmt.Sprintf("%s succeeded", job.Action)
		}
		if err := s.tasks.MarkSuccess(ctx, job.TaskID, msg); err != nil {
			s.logger.Errorw("task_mark_success_failed", "task_id", job.TaskID, "error", err)
		}
		s.appendLog(ctx, job.TaskID, "Task completed")
		entry.Status = domain.AuditStatusOK
		entry.Detail = marshalDetail(outcome.Detail)
		s.logger.Infow("task_succeeded", "task_id", job.TaskID, "target", job.Target, "action", job.Action)
	} else {
		msg := runErr.Error()
		if err := s.tasks.MarkFailed(ctx, job.TaskID, msg); err != nil {
			s.logger.Errorw("task_mark_failed_failed", "task_id", job.TaskID, "error", err)
		}
		s.appendLog(ctx, job.TaskID, "Failed: "+msg)
		entry.Status = domain.AuditStatusFailed
		entry.Detail = msg
		s.logger.Warnw("task_failed", "task_id", job.TaskID, "target", job.Target, "action", job.Action, "error", msg)
	}

	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Errorw("task_audit_failed", "task_id", job.TaskID, "error", err)
	}
}

func (s *TaskScheduler) appendLog(ctx context.Context, taskID uint, line string) {
	if err := s.tasks.AppendLog(ctx, taskID, line); err != nil {
		s.logger.Warnw("task_log_append_failed", "task_id", taskID, "error", err)
	}
}

func auditAction(action domain.TaskAction) string {
	if action == domain.TaskActionInstallBundle {
		return "app_bundle_install"
	}
	return "app_" + string(action)
}

func appLockKeys(appIDs []string) []string {
	seen := make(map[string]bool, len(appIDs))
	keys := make([]string, 0, len(appIDs))
	for _, id := range appIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, "app:"+id)
	}
	return keys
}

func marshalDetail(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
