package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskAction is the closed set of orchestration actions.
type TaskAction string

const (
	TaskActionInstall       TaskAction = "install"
	TaskActionStart         TaskAction = "start"
	TaskActionStop          TaskAction = "stop"
	TaskActionRestart       TaskAction = "restart"
	TaskActionUninstall     TaskAction = "uninstall"
	TaskActionInstallBundle TaskAction = "install_bundle"
)

var ErrUnknownTaskAction = errors.New("task: unknown action")

// ParseTaskAction maps a wire string onto a TaskAction.
func ParseTaskAction(s string) (TaskAction, error) {
	switch a := TaskAction(s); a {
	case TaskActionInstall, TaskActionStart, TaskActionStop, TaskActionRestart,
		TaskActionUninstall, TaskActionInstallBundle:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTaskAction, s)
}

type TaskStatus string

const (
	TaskStatusQueued  TaskStatus = "queued"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailed
}

// CanTransition reports whether a task may move from s to next.
// Staying in running is allowed so progress updates can be recorded.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusRunning || next.IsTerminal()
	}
	return false
}

// Task is the durable record of one orchestration request.
type Task struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	AppID       string      `gorm:"size:100;not null;index" json:"app_id"`
	Action      TaskAction  `gorm:"size:32;not null" json:"action"`
	Status      TaskStatus  `gorm:"size:20;not null;default:'queued';index" json:"status"`
	Progress    int         `gorm:"not null;default:0" json:"progress"`
	Message     string      `gorm:"type:text" json:"message"`
	ErrorDetail string      `gorm:"type:text" json:"error_detail,omitempty"`
	LogText     string      `gorm:"type:text;not null;default:''" json:"log_text"`
	Options     TaskOptions `gorm:"column:options_json;type:text;not null" json:"options"`
	Actor       string      `gorm:"size:255;not null" json:"actor"`
	RetriedFrom *uint       `gorm:"index" json:"retried_from"`
	CreatedAt   time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	FinishedAt  *time.Time  `json:"finished_at"`
}

func (Task) TableName() string {
	return "app_tasks"
}

// ==================== OPTIONS ====================

type InstallOptions struct {
	SkipIfInstalled bool
}

type UninstallOptions struct {
	RemoveData bool
}

type BundleOptions struct {
	BundleID string
	Apps     []string
}

// TaskOptions carries the per-action parameters of a task. At most the
// variant matching the task's action is set. On the wire and in the
// database it is a single flat JSON object.
type TaskOptions struct {
	Install   *InstallOptions
	Uninstall *UninstallOptions
	Bundle    *BundleOptions
}

type taskOptionsWire struct {
	SkipIfInstalled *bool    `json:"skipIfInstalled,omitempty"`
	RemoveData      *bool    `json:"removeData,omitempty"`
	BundleID        *string  `json:"bundleId,omitempty"`
	Apps            []string `json:"apps,omitempty"`
}

// InstallOpts returns the install variant or its zero value.
func (o TaskOptions) InstallOpts() InstallOptions {
	if o.Install == nil {
		return InstallOptions{}
	}
	return *o.Install
}

func (o TaskOptions) UninstallOpts() UninstallOptions {
	if o.Uninstall == nil {
		return UninstallOptions{}
	}
	return *o.Uninstall
}

func (o TaskOptions) BundleOpts() BundleOptions {
	if o.Bundle == nil {
		return BundleOptions{}
	}
	return *o.Bundle
}

// Clone returns a deep copy so retried tasks never share option state.
func (o TaskOptions) Clone() TaskOptions {
	var out TaskOptions
	if o.Install != nil {
		v := *o.Install
		out.Install = &v
	}
	if o.Uninstall != nil {
		v := *o.Uninstall
		out.Uninstall = &v
	}
	if o.Bundle != nil {
		v := BundleOptions{BundleID: o.Bundle.BundleID, Apps: append([]string(nil), o.Bundle.Apps...)}
		out.Bundle = &v
	}
	return out
}

func (o TaskOptions) MarshalJSON() ([]byte, error) {
	var w taskOptionsWire
	if o.Install != nil && o.Install.SkipIfInstalled {
		w.SkipIfInstalled = &o.Install.SkipIfInstalled
	}
	if o.Uninstall != nil {
		w.RemoveData = &o.Uninstall.RemoveData
	}
	if o.Bundle != nil {
		w.BundleID = &o.Bundle.BundleID
		w.Apps = o.Bundle.Apps
	}
	return json.Marshal(w)
}

func (o *TaskOptions) UnmarshalJSON(data []byte) error {
	var w taskOptionsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = TaskOptions{}
	if w.SkipIfInstalled != nil {
		o.Install = &InstallOptions{SkipIfInstalled: *w.SkipIfInstalled}
	}
	if w.RemoveData != nil {
		o.Uninstall = &UninstallOptions{RemoveData: *w.RemoveData}
	}
	if w.BundleID != nil || w.Apps != nil {
		b := &BundleOptions{Apps: w.Apps}
		if w.BundleID != nil {
			b.BundleID = *w.BundleID
		}
		o.Bundle = b
	}
	return nil
}

func (o TaskOptions) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (o *TaskOptions) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*o = TaskOptions{}
		return nil
	case []byte:
		if len(v) == 0 {
			*o = TaskOptions{}
			return nil
		}
		return json.Unmarshal(v, o)
	case string:
		if v == "" {
			*o = TaskOptions{}
			return nil
		}
		return json.Unmarshal([]byte(v), o)
	}
	return errors.New("failed to scan task options: invalid type")
}
