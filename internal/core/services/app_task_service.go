package services

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
)

// openURLHost is the host used for the "open" links shown in the UI.
const openURLHost = "127.0.0.1"

// taskLauncher binds task records to their executors on the scheduler.
type taskLauncher struct {
	scheduler *TaskScheduler
	lifecycle *LifecycleService
	bundles   *BundleInstaller
	catalog   *Catalog
}

func (l *taskLauncher) launchApp(task *domain.Task) bool {
	id, appID, action, opts := task.ID, task.AppID, task.Action, task.Options.Clone()
	return l.scheduler.Dispatch(TaskJob{
		TaskID:   id,
		Target:   appID,
		Action:   action,
		Actor:    task.Actor,
		LockKeys: []string{appID},
	}, func(ctx context.Context) (TaskOutcome, error) {
		res, err := l.lifecycle.Run(ctx, id, appID, action, opts)
		if err != nil {
			return TaskOutcome{}, err
		}
		return TaskOutcome{Message: res.Message, Detail: res}, nil
	})
}

func (l *taskLauncher) launchBundle(task *domain.Task, bundleID string) bool {
	id := task.ID
	keys := task.Options.BundleOpts().Apps
	if b, err := l.catalog.ResolveBundle(bundleID); err == nil {
		keys = b.Apps
	}
	return l.scheduler.Dispatch(TaskJob{
		TaskID:   id,
		Target:   bundleID,
		Action:   domain.TaskActionInstallBundle,
		Actor:    task.Actor,
		LockKeys: keys,
	}, func(ctx context.Context) (TaskOutcome, error) {
		res, err := l.bundles.Run(ctx, id, bundleID)
		if err != nil {
			return TaskOutcome{}, err
		}
		return TaskOutcome{Message: res.Message, Detail: res}, nil
	})
}

// AppTaskService is the orchestrator entry point. Validation happens
// synchronously; execution is handed to the scheduler.
type AppTaskService struct {
	catalog  *Catalog
	tasks    *TaskService
	runtime  ports.ContainerRuntime
	settings ports.IntegrationConfig
	launcher *taskLauncher
	retry    *RetryManager
	limits   config.TasksConfig
	logger   *logger.Logger
}

func NewAppTaskService(
	catalog *Catalog,
	tasks *TaskService,
	runtime ports.ContainerRuntime,
	settings ports.IntegrationConfig,
	scheduler *TaskScheduler,
	lifecycle *LifecycleService,
	bundles *BundleInstaller,
	limits config.TasksConfig,
	log *logger.Logger,
) *AppTaskService {
	launcher := &taskLauncher{scheduler: scheduler, lifecycle: lifecycle, bundles: bundles, catalog: catalog}
	return &AppTaskService{
		catalog:  catalog,
		tasks:    tasks,
		runtime:  runtime,
		settings: settings,
		launcher: launcher,
		retry:    NewRetryManager(tasks, catalog, launcher, log),
		limits:   limits,
		logger:   log,
	}
}

var _ ports.AppTaskService = (*AppTaskService)(nil)

func (s *AppTaskService) CreateAppActionTask(ctx context.Context, input ports.CreateAppTaskInput) (*domain.Task, error) {
	if _, err := s.catalog.ResolveApp(input.AppID); err != nil {
		return nil, err
	}
	action, err := domain.ParseTaskAction(input.Action)
	if err != nil || action == domain.TaskActionInstallBundle {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, input.Action)
	}

	task, err := s.tasks.Create(ctx, input.AppID, action, input.Actor,
		fmt.Sprintf("Queued: %s", action), optionsFor(action, input.Options))
	if err != nil {
		return nil, err
	}
	if err := s.tasks.AppendLog(ctx, task.ID, fmt.Sprintf("Task created: %s %s", input.AppID, action)); err != nil {
		s.logger.Warnw("task_log_append_failed", "task_id", task.ID, "error", err)
	}
	s.logger.Infow("app_task_created", "task_id", task.ID, "app_id", input.AppID, "action", action, "actor", task.Actor)

	s.launcher.launchApp(task)
	return task, nil
}

func (s *AppTaskService) CreateBundleInstallTask(ctx context.Context, bundleID, actor string) (*domain.Task, error) {
	if bundleID == "" {
		bundleID = DefaultBundleID
	}
	bundle, err := s.catalog.ResolveBundle(bundleID)
	if err != nil {
		return nil, err
	}

	opts := domain.TaskOptions{Bundle: &domain.BundleOptions{BundleID: bundle.ID, Apps: bundle.Apps}}
	task, err := s.tasks.Create(ctx, bundle.ID, domain.TaskActionInstallBundle, actor,
		fmt.Sprintf("Queued: install %s", bundle.Name), opts)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.AppendLog(ctx, task.ID, fmt.Sprintf("Task created: bundle %s", bundle.ID)); err != nil {
		s.logger.Warnw("task_log_append_failed", "task_id", task.ID, "error", err)
	}
	s.logger.Infow("bundle_task_created", "task_id", task.ID, "bundle_id", bundle.ID, "actor", task.Actor)

	s.launcher.launchBundle(task, bundle.ID)
	return task, nil
}

func (s *AppTaskService) RetryTask(ctx context.Context, taskID uint, actor string) (*domain.Task, error) {
	return s.retry.Retry(ctx, taskID, actor)
}

func (s *AppTaskService) ListTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = s.limits.DefaultListLimit
	}
	if s.limits.MaxListLimit > 0 && limit > s.limits.MaxListLimit {
		limit = s.limits.MaxListLimit
	}
	return s.tasks.ListRecent(ctx, limit)
}

func (s *AppTaskService) GetTask(ctx context.Context, taskID uint) (*domain.Task, error) {
	return s.tasks.Get(ctx, taskID)
}

func (s *AppTaskService) GetTaskLogs(ctx context.Context, taskID uint) (string, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return task.LogText, nil
}

// ListApps reports the runtime state of every catalog application.
func (s *AppTaskService) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, upstream("load integration settings", err)
	}

	apps := s.catalog.Apps()
	out := make([]domain.AppStatus, 0, len(apps))
	for _, app := range apps {
		st := domain.AppStatus{
			AppDefinition: app,
			Status:        "not_installed",
			Health:        "not_installed",
			HealthState:   "missing",
			OpenURL:       openURL(app, settings),
		}

		summary, err := s.runtime.FindByName(ctx, app.ContainerName)
		if err != nil {
			return nil, upstream("list containers", err)
		}
		if summary != nil {
			st.Installed = true
			st.Running = summary.State == "running"
			st.Status = "stopped"
			if st.Running {
				st.Status = "running"
			}
			st.ContainerID = summary.ID
			st.ContainerStatusText = summary.Status
			s.fillHealth(ctx, &st, summary.ID)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *AppTaskService) ListBundles() []domain.Bundle {
	return s.catalog.Bundles()
}

func (s *AppTaskService) fillHealth(ctx context.Context, st *domain.AppStatus, containerID string) {
	state, err := s.runtime.Inspect(ctx, containerID)
	if err != nil {
		s.logger.Warnw("app_inspect_failed", "app_id", st.ID, "error", err)
		st.Health, st.HealthState = "unknown", "unknown"
		return
	}
	st.HealthState = state.Status
	st.HealthError = state.Error
	st.StartedAt = state.StartedAt
	switch {
	case state.Health != "":
		st.Health = state.Health
	case state.Running:
		st.Health = "running"
	default:
		st.Health = "stopped"
	}
}

// optionsFor keeps only the option variant that applies to action.
func optionsFor(action domain.TaskAction, opts domain.TaskOptions) domain.TaskOptions {
	switch action {
	case domain.TaskActionInstall:
		return domain.TaskOptions{Install: opts.Clone().Install}
	case domain.TaskActionUninstall:
		return domain.TaskOptions{Uninstall: opts.Clone().Uninstall}
	}
	return domain.TaskOptions{}
}

func openURL(app domain.AppDefinition, settings domain.Integrations) string {
	if app.OpenPortKey == "" {
		return ""
	}
	port := settings.Get(app.OpenPortKey)
	if port == "" {
		return ""
	}
	if _, err := strconv.Atoi(port); err != nil {
		return ""
	}
	return "http://" + net.JoinHostPort(openURLHost, port) + app.OpenPath
}
