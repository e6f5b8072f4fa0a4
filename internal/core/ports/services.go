package ports

import (
	"context"
	"time"

	"github.com/arknas/backend/internal/domain"
)

// ContainerRuntime is the subset of the container engine the orchestrator
// drives. FindByName returns (nil, nil) when no container has the name.
type ContainerRuntime interface {
	FindByName(ctx context.Context, name string) (*domain.ContainerSummary, error)
	Inspect(ctx context.Context, id string) (*domain.ContainerState, error)
	Create(ctx context.Context, spec *domain.ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Restart(ctx context.Context, id string) error
	Remove(ctx context.Context, id string, force bool) error
	PullImage(ctx context.Context, image string, onProgress func(domain.PullEvent)) error
	// NetworkExists reports false (and no error) only for a missing network.
	NetworkExists(ctx context.Context, name string) (bool, error)
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	Ping(ctx context.Context) error
}

// IntegrationConfig reads and writes application endpoint settings.
type IntegrationConfig interface {
	// Snapshot returns every known key with defaults applied and secrets
	// in clear text.
	Snapshot(ctx context.Context) (domain.Integrations, error)
	// Masked is Snapshot with secret values replaced by a placeholder.
	Masked(ctx context.Context) (domain.Integrations, error)
	Save(ctx context.Context, values map[string]string) error
	// SetIfEmpty stores only the keys that have no saved or default value,
	// and returns the ones it wrote.
	SetIfEmpty(ctx context.Context, values map[string]string) (map[string]string, error)
}

// AppTaskService is the orchestrator surface consumed by the HTTP layer.
type AppTaskService interface {
	CreateAppActionTask(ctx context.Context, input CreateAppTaskInput) (*domain.Task, error)
	CreateBundleInstallTask(ctx context.Context, bundleID, actor string) (*domain.Task, error)
	RetryTask(ctx context.Context, taskID uint, actor string) (*domain.Task, error)
	ListTasks(ctx context.Context, limit int) ([]domain.Task, error)
	GetTask(ctx context.Context, taskID uint) (*domain.Task, error)
	GetTaskLogs(ctx context.Context, taskID uint) (string, error)
	ListApps(ctx context.Context) ([]domain.AppStatus, error)
	ListBundles() []domain.Bundle
}

type CreateAppTaskInput struct {
	AppID   string
	Action  string
	Actor   string
	Options domain.TaskOptions
}
