package services

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/shirou/gopsutil/v3/disk"
)

// ActionResult is the outcome of one application action. It is stored as
// the audit detail of the task.
type ActionResult struct {
	OK          bool              `json:"ok"`
	AppID       string            `json:"appId"`
	Action      domain.TaskAction `json:"action"`
	ContainerID string            `json:"containerId,omitempty"`
	Skipped     bool              `json:"skipped,omitempty"`
	RemovedData bool              `json:"removedData,omitempty"`
	Validation  string            `json:"validation,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// LifecycleService drives install, control and uninstall of one managed
// application against the container runtime.
type LifecycleService struct {
	catalog  *Catalog
	runtime  ports.ContainerRuntime
	settings ports.IntegrationConfig
	prober   *ReadinessProber
	tasks    *TaskService
	docker   config.DockerConfig
	apps     config.AppsConfig
	logger   *logger.Logger

	freeBytes func(ctx context.Context, path string) (uint64, error)
}

func NewLifecycleService(
	catalog *Catalog,
	runtime ports.ContainerRuntime,
	settings ports.IntegrationConfig,
	prober *ReadinessProber,
	tasks *TaskService,
	dockerCfg config.DockerConfig,
	appsCfg config.AppsConfig,
	log *logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		catalog:   catalog,
		runtime:   runtime,
		settings:  settings,
		prober:    prober,
		tasks:     tasks,
		docker:    dockerCfg,
		apps:      appsCfg,
		logger:    log,
		freeBytes: diskFreeBytes,
	}
}

// Run executes action for appID on behalf of taskID, moving the task to
// running and reporting progress along the way. It does not write the
// terminal state.
func (s *LifecycleService) Run(ctx context.Context, taskID uint, appID string, action domain.TaskAction, opts domain.TaskOptions) (*ActionResult, error) {
	app, err := s.catalog.ResolveApp(appID)
	if err != nil {
		return nil, err
	}
	rep := newTaskReporter(s.tasks, taskID, s.logger)

	switch action {
	case domain.TaskActionInstall:
		if err := s.tasks.MarkRunning(ctx, taskID, 8, "Checking install state"); err != nil {
			return nil, err
		}
		res, err := s.Install(ctx, rep, app, opts.InstallOpts())
		if err != nil {
			return nil, err
		}
		rep.Progress(ctx, 96, "Install validated")
		return res, nil

	case domain.TaskActionUninstall:
		if err := s.tasks.MarkRunning(ctx, taskID, 10, "Uninstalling application"); err != nil {
			return nil, err
		}
		res, err := s.Uninstall(ctx, rep, app, opts.UninstallOpts())
		if err != nil {
			return nil, err
		}
		rep.Progress(ctx, 95, "Cleanup finished")
		return res, nil

	case domain.TaskActionStart, domain.TaskActionStop, domain.TaskActionRestart:
		if err := s.tasks.MarkRunning(ctx, taskID, 20, fmt.Sprintf("Running %s", action)); err != nil {
			return nil, err
		}
		res, err := s.Control(ctx, rep, app, action)
		if err != nil {
			return nil, err
		}
		rep.Progress(ctx, 96, "Operation finished")
		return res, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
}

// Install creates and starts the application's container.
func (s *LifecycleService) Install(ctx context.Context, rep progressReporter, app domain.AppDefinition, opts domain.InstallOptions) (*ActionResult, error) {
	existing, err := s.runtime.FindByName(ctx, app.ContainerName)
	if err != nil {
		return nil, upstream("find container", err)
	}
	if existing != nil {
		if opts.SkipIfInstalled {
			rep.Log(ctx, "%s already installed, skipping", app.Name)
			return &ActionResult{
				OK:      true,
				AppID:   app.ID,
				Action:  domain.TaskActionInstall,
				Skipped: true,
				Message: fmt.Sprintf("%s already installed", app.Name),
			}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrAppAlreadyInstalled, app.Name)
	}

	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, upstream("load integration settings", err)
	}

	rep.Progress(ctx, 12, "Checking install environment")
	if err := s.checkEnvironment(ctx, rep, settings); err != nil {
		return nil, err
	}
	if err := s.ensureNetwork(ctx, rep); err != nil {
		return nil, err
	}

	rep.Progress(ctx, 24, "Pulling image")
	rep.Log(ctx, "Pulling image %s", app.Image)
	err = s.runtime.PullImage(ctx, app.Image, func(ev domain.PullEvent) {
		if !isPullLogStatus(ev.Status) {
			return
		}
		if ev.Progress != "" {
			rep.Log(ctx, "%s %s", ev.Status, ev.Progress)
			return
		}
		rep.Log(ctx, "%s", ev.Status)
	})
	if err != nil {
		return nil, upstream("pull image", err)
	}

	rep.Progress(ctx, 50, "Creating container")
	spec, dirs, err := s.catalog.Blueprint(app.ID, BlueprintEnv{
		Settings:       settings,
		Network:        s.docker.InternalNetwork,
		Timezone:       s.apps.Timezone,
		DockerProxyURL: s.docker.ProxyInternalURL,
	})
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, upstream("create host directory", err)
		}
	}
	id, err := s.runtime.Create(ctx, spec)
	if err != nil {
		return nil, upstream("create container", err)
	}
	rep.Log(ctx, "Container created %s", shortID(id))

	rep.Progress(ctx, 70, "Starting container")
	if err := s.runtime.Start(ctx, id); err != nil {
		return nil, upstream("start container", err)
	}
	rep.Log(ctx, "%s started", app.Name)

	rep.Progress(ctx, 84, "Validating installation")
	kind, err := s.prober.Validate(ctx, rep, app, settings)
	if err != nil {
		return nil, err
	}
	rep.Log(ctx, "%s validation passed", app.Name)

	if app.BaseURLKey != "" && settings.Get(app.BaseURLKey) == "" {
		if port := probePort(app.Readiness, settings); port > 0 {
			url := "http://" + net.JoinHostPort(app.ContainerName, strconv.Itoa(port))
			written, err := s.settings.SetIfEmpty(ctx, map[string]string{app.BaseURLKey: url})
			if err != nil {
				return nil, upstream("save integration settings", err)
			}
			if len(written) > 0 {
				rep.Progress(ctx, 92, "Syncing integration settings")
				rep.Log(ctx, "Set %s to %s", app.BaseURLKey, url)
			}
		}
	}

	return &ActionResult{
		OK:          true,
		AppID:       app.ID,
		Action:      domain.TaskActionInstall,
		ContainerID: id,
		Validation:  kind,
		Message:     fmt.Sprintf("%s installed and started", app.Name),
	}, nil
}

// Control starts, stops or restarts an installed application.
func (s *LifecycleService) Control(ctx context.Context, rep progressReporter, app domain.AppDefinition, action domain.TaskAction) (*ActionResult, error) {
	existing, err := s.runtime.FindByName(ctx, app.ContainerName)
	if err != nil {
		return nil, upstream("find container", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrAppNotInstalled, app.Name)
	}

	res := &ActionResult{OK: true, AppID: app.ID, Action: action, ContainerID: existing.ID}
	rep.Log(ctx, "%s: %s", app.Name, action)

	switch action {
	case domain.TaskActionStart:
		rep.Progress(ctx, 45, "Starting container")
		if err := s.runtime.Start(ctx, existing.ID); err != nil {
			return nil, upstream("start container", err)
		}
		if res.Validation, err = s.validateAfter(ctx, rep, app, "Validating after start"); err != nil {
			return nil, err
		}
	case domain.TaskActionStop:
		rep.Progress(ctx, 45, "Stopping container")
		if err := s.runtime.Stop(ctx, existing.ID, s.docker.StopGracePeriod); err != nil {
			return nil, upstream("stop container", err)
		}
	case domain.TaskActionRestart:
		rep.Progress(ctx, 45, "Restarting container")
		if err := s.runtime.Restart(ctx, existing.ID); err != nil {
			return nil, upstream("restart container", err)
		}
		if res.Validation, err = s.validateAfter(ctx, rep, app, "Validating after restart"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}

	rep.Log(ctx, "%s %s completed", app.Name, action)
	res.Message = fmt.Sprintf("%s %s completed", app.Name, action)
	return res, nil
}

// Uninstall removes the container and, when asked, its host data.
func (s *LifecycleService) Uninstall(ctx context.Context, rep progressReporter, app domain.AppDefinition, opts domain.UninstallOptions) (*ActionResult, error) {
	existing, err := s.runtime.FindByName(ctx, app.ContainerName)
	if err != nil {
		return nil, upstream("find container", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrAppNotInstalled, app.Name)
	}

	state, err := s.runtime.Inspect(ctx, existing.ID)
	if err != nil {
		return nil, upstream("inspect container", err)
	}
	if state.Running {
		rep.Log(ctx, "Stopping container")
		if err := s.runtime.Stop(ctx, existing.ID, s.docker.StopGracePeriod); err != nil {
			return nil, upstream("stop container", err)
		}
	}
	rep.Log(ctx, "Removing container")
	if err := s.runtime.Remove(ctx, existing.ID, true); err != nil {
		return nil, upstream("remove container", err)
	}

	if opts.RemoveData {
		settings, err := s.settings.Snapshot(ctx)
		if err != nil {
			return nil, upstream("load integration settings", err)
		}
		if dir := s.catalog.DataDir(app, settings); dir != "" {
			rep.Log(ctx, "Removing data directory %s", dir)
			if err := os.RemoveAll(dir); err != nil {
				return nil, upstream("remove data directory", err)
			}
		}
	}

	return &ActionResult{
		OK:          true,
		AppID:       app.ID,
		Action:      domain.TaskActionUninstall,
		ContainerID: existing.ID,
		RemovedData: opts.RemoveData,
		Message:     fmt.Sprintf("%s uninstalled", app.Name),
	}, nil
}

func (s *LifecycleService) validateAfter(ctx context.Context, rep progressReporter, app domain.AppDefinition, message string) (string, error) {
	rep.Progress(ctx, 78, message)
	settings, err := s.settings.Snapshot(ctx)
	if err != nil {
		return "", upstream("load integration settings", err)
	}
	return s.prober.Validate(ctx, rep, app, settings)
}

func (s *LifecycleService) checkEnvironment(ctx context.Context, rep progressReporter, settings domain.Integrations) error {
	root := hostPath(settings.Get(domain.KeyDockerDataPath))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return upstream("create data root", err)
	}
	if s.apps.MinFreeBytes == 0 || s.freeBytes == nil {
		return nil
	}
	free, err := s.freeBytes(ctx, root)
	if err != nil {
		return upstream("read free space", err)
	}
	if free < s.apps.MinFreeBytes {
		return fmt.Errorf("%w: %s has %d bytes free, need %d", ErrInsufficientSpace, root, free, s.apps.MinFreeBytes)
	}
	rep.Log(ctx, "Free space on %s: %d MiB", root, free>>20)
	return nil
}

func (s *LifecycleService) ensureNetwork(ctx context.Context, rep progressReporter) error {
	name := s.docker.InternalNetwork
	if name == "" {
		return nil
	}
	exists, err := s.runtime.NetworkExists(ctx, name)
	if err != nil {
		return upstream("inspect network", err)
	}
	if exists {
		rep.Log(ctx, "Network check passed: %s", name)
		return nil
	}

	rep.Log(ctx, "Network %s not found, creating", name)
	err = s.runtime.CreateNetwork(ctx, name, map[string]string{domain.LabelManaged: "true"})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			rep.Log(ctx, "Network already exists: %s", name)
			return nil
		}
		return upstream("create network", err)
	}
	rep.Log(ctx, "Network created: %s", name)
	return nil
}

func isPullLogStatus(status string) bool {
	return strings.Contains(status, "Pulling") ||
		strings.Contains(status, "Downloading") ||
		strings.Contains(status, "Extracting")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func diskFreeBytes(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
