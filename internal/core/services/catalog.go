package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/arknas/backend/internal/domain"
)

const DefaultBundleID = "media-stack"

// Catalog is the static set of managed applications and bundles. It is
// built once at startup and never mutated; lookups return copies.
type Catalog struct {
	apps       map[string]domain.AppDefinition
	order      []string
	bundles    map[string]domain.Bundle
	bundleIDs  []string
	blueprints map[string]blueprintFunc
}

// NewCatalog builds a catalog from explicit definitions. Applications
// without a registered blueprint get a plain container with the common
// labels, restart policy and network.
func NewCatalog(apps []domain.AppDefinition, bundles []domain.Bundle) *Catalog {
	c := &Catalog{
		apps:       make(map[string]domain.AppDefinition, len(apps)),
		bundles:    make(map[string]domain.Bundle, len(bundles)),
		blueprints: map[string]blueprintFunc{},
	}
	for _, a := range apps {
		c.apps[a.ID] = a
		c.order = append(c.order, a.ID)
	}
	for _, b := range bundles {
		c.bundles[b.ID] = b
		c.bundleIDs = append(c.bundleIDs, b.ID)
	}
	return c
}

func DefaultCatalog() *Catalog {
	c := NewCatalog([]domain.AppDefinition{
		{
			ID:            "jellyfin",
			Name:          "Jellyfin",
			ContainerName: "arknas-jellyfin",
			Image:         "jellyfin/jellyfin:latest",
			Category:      "media",
			Description:   "Media library management and playback",
			OpenPortKey:   domain.KeyJellyfinHostPort,
			OpenPath:      "/",
			DataSubdir:    "jellyfin",
			BaseURLKey:    domain.KeyJellyfinBaseURL,
			Readiness: domain.ReadinessPlan{
				Kind:    domain.ReadinessHTTP,
				Port:    8096,
				Paths:   []string{"/health", "/web/index.html", "/"},
				Timeout: 120 * time.Second,
			},
		},
		{
			ID:            "qbittorrent",
			Name:          "qBittorrent",
			ContainerName: "arknas-qbittorrent",
			Image:         "lscr.io/linuxserver/qbittorrent:latest",
			Category:      "download",
			Description:   "BitTorrent downloads and seeding",
			OpenPortKey:   domain.KeyQBWebPort,
			OpenPath:      "/",
			DataSubdir:    "qbittorrent",
			BaseURLKey:    domain.KeyQBBaseURL,
			Readiness: domain.ReadinessPlan{
				Kind:    domain.ReadinessHTTP,
				PortKey: domain.KeyQBWebPort,
				Paths:   []string{"/api/v2/app/version", "/"},
				Timeout: 90 * time.Second,
			},
		},
		{
			ID:            "portainer",
			Name:          "Portainer",
			ContainerName: "arknas-portainer",
			Image:         "portainer/portainer-ce:latest",
			Category:      "ops",
			Description:   "Visual container management",
			OpenPortKey:   domain.KeyPortainerHostPort,
			OpenPath:      "/",
			DataSubdir:    "portainer",
			Readiness: domain.ReadinessPlan{
				Kind:    domain.ReadinessHTTP,
				Port:    9000,
				Paths:   []string{"/api/status", "/"},
				Timeout: 90 * time.Second,
			},
		},
		{
			ID:            "watchtower",
			Name:          "Watchtower",
			ContainerName: "arknas-watchtower",
			Image:         "containrrr/watchtower:latest",
			Category:      "ops",
			Description:   "Automatic container image updates",
			Readiness:     domain.ReadinessPlan{Kind: domain.ReadinessRuntime},
		},
	}, []domain.Bundle{
		{ID: DefaultBundleID, Name: "Media Stack", Apps: []string{"jellyfin", "qbittorrent", "watchtower"}},
	})
	c.blueprints["jellyfin"] = jellyfinBlueprint
	c.blueprints["qbittorrent"] = qbittorrentBlueprint
	c.blueprints["portainer"] = portainerBlueprint
	c.blueprints["watchtower"] = watchtowerBlueprint
	return c
}

func (c *Catalog) ResolveApp(id string) (domain.AppDefinition, error) {
	app, ok := c.apps[id]
	if !ok {
		return domain.AppDefinition{}, fmt.Errorf("%w: %q", ErrUnsupportedApp, id)
	}
	return cloneApp(app), nil
}

func (c *Catalog) ResolveBundle(id string) (domain.Bundle, error) {
	b, ok := c.bundles[id]
	if !ok {
		return domain.Bundle{}, fmt.Errorf("%w: %q", ErrUnsupportedBundle, id)
	}
	b.Apps = append([]string(nil), b.Apps...)
	return b, nil
}

// IsBundle reports whether id names a bundle rather than an application.
func (c *Catalog) IsBundle(id string) bool {
	_, ok := c.bundles[id]
	return ok
}

// Apps returns the definitions in catalog order.
func (c *Catalog) Apps() []domain.AppDefinition {
	out := make([]domain.AppDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, cloneApp(c.apps[id]))
	}
	return out
}

func (c *Catalog) Bundles() []domain.Bundle {
	out := make([]domain.Bundle, 0, len(c.bundleIDs))
	for _, id := range c.bundleIDs {
		b := c.bundles[id]
		b.Apps = append([]string(nil), b.Apps...)
		out = append(out, b)
	}
	return out
}

// Blueprint returns the container spec for appID together with the host
// directories its binds need. Directories are not created here.
func (c *Catalog) Blueprint(appID string, env BlueprintEnv) (*domain.ContainerSpec, []string, error) {
	app, err := c.ResolveApp(appID)
	if err != nil {
		return nil, nil, err
	}
	build, ok := c.blueprints[appID]
	if !ok {
		return commonSpec(app, env), nil, nil
	}
	return build(app, env)
}

// DataDir is the host directory holding the application's state, or ""
// when the application keeps none.
func (c *Catalog) DataDir(app domain.AppDefinition, settings domain.Integrations) string {
	if app.DataSubdir == "" {
		return ""
	}
	return filepath.Join(hostPath(settings.Get(domain.KeyDockerDataPath)), app.DataSubdir)
}

func cloneApp(a domain.AppDefinition) domain.AppDefinition {
	a.Readiness.Paths = append([]string(nil), a.Readiness.Paths...)
	return a
}

func hostPath(p string) string {
	p = strings.TrimSpace(p)
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
