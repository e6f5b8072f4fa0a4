package ports

import (
	"context"

	"github.com/arknas/backend/internal/domain"
)

// TaskRepository persists task rows. GetByID returns (nil, nil) when the
// task does not exist.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uint) (*domain.Task, error)
	List(ctx context.Context, limit int) ([]domain.Task, error)
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
	AppendLog(ctx context.Context, id uint, text string) error
}

// AuditRepository is the append-only audit sink.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	GetAll(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

type SystemSettingRepository interface {
	Get(ctx context.Context, key string) (*domain.SystemSetting, error)
	Set(ctx context.Context, setting *domain.SystemSetting) error
	GetByCategory(ctx context.Context, category string) ([]domain.SystemSetting, error)
	Delete(ctx context.Context, key string) error
}
