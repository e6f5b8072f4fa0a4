package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
)

// BundleResult is the outcome of a bundle install.
type BundleResult struct {
	OK        bool     `json:"ok"`
	BundleID  string   `json:"bundleId"`
	Installed []string `json:"installed"`
	Skipped   []string `json:"skipped"`
	Message   string   `json:"message"`
}

// BundleInstaller installs the members of a bundle one after another.
// The first member failure aborts the bundle; members already installed
// are left in place.
type BundleInstaller struct {
	catalog   *Catalog
	lifecycle *LifecycleService
	tasks     *TaskService
	logger    *logger.Logger
}

func NewBundleInstaller(catalog *Catalog, lifecycle *LifecycleService, tasks *TaskService, log *logger.Logger) *BundleInstaller {
	return &BundleInstaller{catalog: catalog, lifecycle: lifecycle, tasks: tasks, logger: log}
}

func (b *BundleInstaller) Run(ctx context.Context, taskID uint, bundleID string) (*BundleResult, error) {
	bundle, err := b.catalog.ResolveBundle(bundleID)
	if err != nil {
		return nil, err
	}
	if err := b.tasks.MarkRunning(ctx, taskID, 5, fmt.Sprintf("Installing bundle: %s", bundle.Name)); err != nil {
		return nil, err
	}

	rep := newTaskReporter(b.tasks, taskID, b.logger)
	rep.Log(ctx, "Bundle members: %s", strings.Join(bundle.Apps, ", "))

	installed := []string{}
	skipped := []string{}
	n := len(bundle.Apps)
	for i, appID := range bundle.Apps {
		rep.Progress(ctx, 10+i*80/n, fmt.Sprintf("Installing %s (%d/%d)", appID, i+1, n))
		rep.Log(ctx, "Installing member %s", appID)

		app, err := b.catalog.ResolveApp(appID)
		if err != nil {
			return nil, err
		}
		res, err := b.lifecycle.Install(ctx, rep.muted(), app, domain.InstallOptions{SkipIfInstalled: true})
		if err != nil {
			return nil, err
		}
		if res.Skipped {
			skipped = append(skipped, appID)
		} else {
			installed = append(installed, appID)
		}
		rep.Progress(ctx, 10+(i+1)*80/n, fmt.Sprintf("%s done", appID))
	}

	rep.Progress(ctx, 96, "Bundle installed")
	rep.Log(ctx, "Bundle finished, installed: %s; skipped: %s", joinOrNone(installed), joinOrNone(skipped))
	return &BundleResult{
		OK:        true,
		BundleID:  bundle.ID,
		Installed: installed,
		Skipped:   skipped,
		Message:   fmt.Sprintf("%s installed", bundle.Name),
	}, nil
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
