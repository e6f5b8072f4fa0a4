package db

import (
	"github.com/arknas/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Task{},
		&domain.AuditLog{},
		&domain.SystemSetting{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Task list is always read newest first.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_app_tasks_id_desc
		ON app_tasks (id DESC)
	`).Error; err != nil {
		return err
	}

	// Audit lookups by target and action.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_audit_logs_target_action
		ON audit_logs (target, action)
	`).Error; err != nil {
		return err
	}

	return nil
}
