package db

import (
	"context"

	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type auditRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditRepository(db *gorm.DB, log *logger.Logger) ports.AuditRepository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		r.log.Errorw("audit_repo_create_failed", "action", entry.Action, "target", entry.Target, "status", entry.Status, "error", err)
		return err
	}
	r.log.Infow("audit_repo_create_ok", "id", entry.ID, "action", entry.Action, "target", entry.Target, "status", entry.Status)
	return nil
}

func (r *auditRepository) GetAll(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	var entries []domain.AuditLog
	err := r.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		r.log.Errorw("audit_repo_list_failed", "error", err)
		return nil, err
	}
	return entries, nil
}
