package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
)

type runtime struct {
	cli *client.Client
	log *logger.Logger
}

// NewRuntime connects to the engine at host, e.g. "unix:///var/run/docker.sock"
// or "tcp://docker-proxy:2375". An empty host falls back to DOCKER_HOST.
func NewRuntime(host string, log *logger.Logger) (ports.ContainerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &runtime{cli: cli, log: log}, nil
}

func (r *runtime) FindByName(ctx context.Context, name string) (*domain.ContainerSummary, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	c := list[0]
	summary := &domain.ContainerSummary{
		ID:     c.ID,
		Image:  c.Image,
		State:  c.State,
		Status: c.Status,
	}
	if len(c.Names) > 0 {
		summary.Name = strings.TrimPrefix(c.Names[0], "/")
	}
	return summary, nil
}

func (r *runtime) Inspect(ctx context.Context, id string) (*domain.ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, err
	}
	state := &domain.ContainerState{Status: "unknown"}
	if info.ContainerJSONBase == nil || info.State == nil {
		return state, nil
	}
	state.Status = info.State.Status
	state.Running = info.State.Running
	state.StartedAt = info.State.StartedAt
	state.Error = info.State.Error
	if info.State.Health != nil {
		state.Health = info.State.Health.Status
	}
	return state, nil
}

func (r *runtime) Create(ctx context.Context, spec *domain.ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Cmd:          spec.Cmd,
		Labels:       spec.Labels,
		ExposedPorts: spec.ExposedPorts,
	}
	hostCfg := &container.HostConfig{
		Binds:         spec.Binds,
		PortBindings:  spec.PortBindings,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: {}},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		r.log.Warnw("docker_create_warning", "name", spec.Name, "warning", w)
	}
	return resp.ID, nil
}

func (r *runtime) Start(ctx context.Context, id string) error {
	return r.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (r *runtime) Stop(ctx context.Context, id string, grace time.Duration) error {
	opts := container.StopOptions{}
	if grace > 0 {
		secs := int(grace.Seconds())
		opts.Timeout = &secs
	}
	return r.cli.ContainerStop(ctx, id, opts)
}

func (r *runtime) Restart(ctx context.Context, id string) error {
	return r.cli.ContainerRestart(ctx, id, container.StopOptions{})
}

func (r *runtime) Remove(ctx context.Context, id string, force bool) error {
	return r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
}

// PullImage blocks until the pull stream ends. Each decoded message is
// handed to onProgress; an error message in the stream fails the pull.
func (r *runtime) PullImage(ctx context.Context, ref string, onProgress func(domain.PullEvent)) error {
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode pull stream: %w", err)
		}
		if msg.Error != nil {
			return errors.New(msg.Error.Message)
		}
		if onProgress == nil {
			continue
		}
		ev := domain.PullEvent{ID: msg.ID, Status: msg.Status}
		if msg.Progress != nil {
			ev.Progress = msg.Progress.String()
			if msg.Progress.Total > 0 {
				ev.Percent = float64(msg.Progress.Current) / float64(msg.Progress.Total) * 100
			}
		}
		onProgress(ev)
	}
}

func (r *runtime) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (r *runtime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	return err
}

func (r *runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}
