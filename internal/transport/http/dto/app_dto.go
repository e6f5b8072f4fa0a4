package dto

import (
	"github.com/arknas/backend/internal/domain"
)

// AppActionRequest is the optional body of install and uninstall calls.
type AppActionRequest struct {
	SkipIfInstalled bool `json:"skipIfInstalled"`
	RemoveData      bool `json:"removeData"`
}

func (r AppActionRequest) Options(action domain.TaskAction) domain.TaskOptions {
	switch action {
	case domain.TaskActionInstall:
		if r.SkipIfInstalled {
			return domain.TaskOptions{Install: &domain.InstallOptions{SkipIfInstalled: true}}
		}
	case domain.TaskActionUninstall:
		return domain.TaskOptions{Uninstall: &domain.UninstallOptions{RemoveData: r.RemoveData}}
	}
	return domain.TaskOptions{}
}

type TaskAcceptedResponse struct {
	OK   bool         `json:"ok"`
	Task *domain.Task `json:"task"`
}

type TaskListResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type TaskLogsResponse struct {
	TaskID uint   `json:"taskId"`
	Logs   string `json:"logs"`
}

type AppListResponse struct {
	Apps []domain.AppStatus `json:"apps"`
}

type BundleListResponse struct {
	Bundles []domain.Bundle `json:"bundles"`
}

// TaskEvent is one frame of the live task stream.
type TaskEvent struct {
	ID          uint              `json:"id"`
	Status      domain.TaskStatus `json:"status"`
	Progress    int               `json:"progress"`
	Message     string            `json:"message"`
	ErrorDetail string            `json:"error_detail,omitempty"`
	Log         string            `json:"log,omitempty"`
}
