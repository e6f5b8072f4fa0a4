package services

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/arknas/backend/internal/domain"
	"github.com/docker/go-connections/nat"
)

// BlueprintEnv is everything outside the catalog a blueprint depends on.
type BlueprintEnv struct {
	Settings       domain.Integrations
	Network        string
	Timezone       string
	DockerProxyURL string
}

type blueprintFunc func(app domain.AppDefinition, env BlueprintEnv) (*domain.ContainerSpec, []string, error)

func commonSpec(app domain.AppDefinition, env BlueprintEnv) *domain.ContainerSpec {
	return &domain.ContainerSpec{
		Name:          app.ContainerName,
		Image:         app.Image,
		RestartPolicy: domain.RestartPolicyUnlessStopped,
		Network:       env.Network,
		Labels: map[string]string{
			domain.LabelManaged: "true",
			domain.LabelApp:     app.ID,
		},
	}
}

// publish exposes containerPort/proto and binds it to hostPort.
func publish(spec *domain.ContainerSpec, proto string, containerPort, hostPort int) error {
	port, err := nat.NewPort(proto, strconv.Itoa(containerPort))
	if err != nil {
		return fmt.Errorf("%w: port %d/%s: %v", ErrValidation, containerPort, proto, err)
	}
	if spec.ExposedPorts == nil {
		spec.ExposedPorts = nat.PortSet{}
		spec.PortBindings = nat.PortMap{}
	}
	spec.ExposedPorts[port] = struct{}{}
	spec.PortBindings[port] = append(spec.PortBindings[port], nat.PortBinding{HostPort: strconv.Itoa(hostPort)})
	return nil
}

func timezone(env BlueprintEnv) string {
	if env.Timezone == "" {
		return "Asia/Shanghai"
	}
	return env.Timezone
}

func jellyfinBlueprint(app domain.AppDefinition, env BlueprintEnv) (*domain.ContainerSpec, []string, error) {
	media := hostPath(env.Settings.Get(domain.KeyMediaPath))
	dataRoot := hostPath(env.Settings.Get(domain.KeyDockerDataPath))
	configDir := filepath.Join(dataRoot, "jellyfin", "config")
	cacheDir := filepath.Join(dataRoot, "jellyfin", "cache")

	spec := commonSpec(app, env)
	spec.Binds = []string{configDir + ":/config", cacheDir + ":/cache", media + ":/media"}
	if err := publish(spec, "tcp", 8096, env.Settings.Int(domain.KeyJellyfinHostPort, 8096)); err != nil {
		return nil, nil, err
	}
	return spec, []string{media, configDir, cacheDir}, nil
}

func qbittorrentBlueprint(app domain.AppDefinition, env BlueprintEnv) (*domain.ContainerSpec, []string, error) {
	downloads := hostPath(env.Settings.Get(domain.KeyDownloadsPath))
	configDir := filepath.Join(hostPath(env.Settings.Get(domain.KeyDockerDataPath)), "qbittorrent", "config")
	webPort := env.Settings.Int(domain.KeyQBWebPort, 8080)
	peerPort := env.Settings.Int(domain.KeyQBPeerPort, 6881)

	spec := commonSpec(app, env)
	spec.Env = []string{
		"TZ=" + timezone(env),
		"PUID=0",
		"PGID=0",
		fmt.Sprintf("WEBUI_PORT=%d", webPort),
		fmt.Sprintf("TORRENTING_PORT=%d", peerPort),
	}
	spec.Binds = []string{configDir + ":/config", downloads + ":/downloads"}
	if err := publish(spec, "tcp", webPort, webPort); err != nil {
		return nil, nil, err
	}
	if err := publish(spec, "tcp", peerPort, peerPort); err != nil {
		return nil, nil, err
	}
	if err := publish(spec, "udp", peerPort, peerPort); err != nil {
		return nil, nil, err
	}
	return spec, []string{downloads, configDir}, nil
}

func portainerBlueprint(app domain.AppDefinition, env BlueprintEnv) (*domain.ContainerSpec, []string, error) {
	dataDir := filepath.Join(hostPath(env.Settings.Get(domain.KeyDockerDataPath)), "portainer", "data")

	spec := commonSpec(app, env)
	spec.Binds = []string{"/var/run/docker.sock:/var/run/docker.sock", dataDir + ":/data"}
	if err := publish(spec, "tcp", 9000, env.Settings.Int(domain.KeyPortainerHostPort, 9000)); err != nil {
		return nil, nil, err
	}
	return spec, []string{dataDir}, nil
}

func watchtowerBlueprint(app domain.AppDefinition, env BlueprintEnv) (*domain.ContainerSpec, []string, error) {
	interval := env.Settings.Int(domain.KeyWatchtowerInterval, 86400)
	proxy := env.DockerProxyURL
	if proxy == "" {
		proxy = "tcp://docker-proxy:2375"
	}

	spec := commonSpec(app, env)
	spec.Env = []string{
		"TZ=" + timezone(env),
		fmt.Sprintf("WATCHTOWER_POLL_INTERVAL=%d", interval),
		"WATCHTOWER_CLEANUP=true",
		"WATCHTOWER_LABEL_ENABLE=false",
		"DOCKER_HOST=" + proxy,
	}
	spec.Cmd = []string{"--cleanup", "--interval", strconv.Itoa(interval)}
	return spec, nil, nil
}
