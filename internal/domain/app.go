package domain

import "time"

type ReadinessKind string

const (
	// ReadinessContainer only waits for the container to report running.
	ReadinessContainer ReadinessKind = ""
	// ReadinessRuntime additionally pings an auxiliary runtime dependency.
	ReadinessRuntime ReadinessKind = "runtime"
	// ReadinessHTTP additionally probes the application's web listener.
	ReadinessHTTP ReadinessKind = "http"
)

// ReadinessPlan describes how an application proves it is usable after
// start. Port wins over PortKey when both are set.
type ReadinessPlan struct {
	Kind    ReadinessKind
	Host    string
	Port    int
	PortKey string
	Paths   []string
	Timeout time.Duration
}

// AppDefinition is a static catalog entry.
type AppDefinition struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContainerName string `json:"container_name"`
	Image         string `json:"image"`
	Category      string `json:"category"`
	Description   string `json:"description"`
	OpenPortKey   string `json:"open_port_key,omitempty"`
	OpenPath      string `json:"open_path,omitempty"`

	// DataSubdir is the directory under the docker data root that holds the
	// application's state. Empty means the application keeps no host data.
	DataSubdir string `json:"-"`
	// BaseURLKey is the integration setting backfilled after install.
	BaseURLKey string        `json:"-"`
	Readiness  ReadinessPlan `json:"-"`
}

// Bundle is a named, ordered group of applications installed together.
type Bundle struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Apps []string `json:"apps"`
}

// AppStatus is the runtime view of a catalog entry.
type AppStatus struct {
	AppDefinition
	Installed           bool   `json:"installed"`
	Running             bool   `json:"running"`
	Status              string `json:"status"`
	ContainerID         string `json:"container_id,omitempty"`
	ContainerStatusText string `json:"container_status_text,omitempty"`
	OpenURL             string `json:"open_url"`
	Health              string `json:"health"`
	HealthState         string `json:"health_state"`
	HealthError         string `json:"health_error,omitempty"`
	StartedAt           string `json:"started_at,omitempty"`
}
