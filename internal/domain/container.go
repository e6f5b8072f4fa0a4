package domain

import "github.com/docker/go-connections/nat"

const (
	RestartPolicyUnlessStopped = "unless-stopped"

	LabelManaged = "arknas.managed"
	LabelApp     = "arknas.app"
)

// ContainerSpec is the runtime-neutral blueprint of a managed container.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Cmd           []string
	Labels        map[string]string
	Binds         []string
	ExposedPorts  nat.PortSet
	PortBindings  nat.PortMap
	RestartPolicy string
	Network       string
}

// ContainerSummary is a list entry returned by a name lookup.
type ContainerSummary struct {
	ID     string
	Name   string
	Image  string
	State  string
	Status string
}

// ContainerState is the subset of inspect output the orchestrator uses.
type ContainerState struct {
	Status    string
	Running   bool
	Health    string
	StartedAt string
	Error     string
}

// PullEvent is one progress message from an image pull.
type PullEvent struct {
	ID       string
	Status   string
	Progress string
	Percent  float64
}
