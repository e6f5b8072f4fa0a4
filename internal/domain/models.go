package domain

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ==================== AUDIT ====================

type AuditStatus string

const (
	AuditStatusOK     AuditStatus = "ok"
	AuditStatusFailed AuditStatus = "failed"
)

// AuditLog is an append-only record of an orchestration outcome.
type AuditLog struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time   `gorm:"index" json:"created_at"`
	Action    string      `gorm:"size:100;not null;index" json:"action"`
	Actor     string      `gorm:"size:255;not null" json:"actor"`
	Target    string      `gorm:"size:255;index" json:"target"`
	Status    AuditStatus `gorm:"size:20;not null" json:"status"`
	Detail    string      `gorm:"type:text" json:"detail"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

// ==================== SETTINGS ====================

type SystemSetting struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Key      string `gorm:"size:255;uniqueIndex;not null" json:"key"`
	Value    string `gorm:"type:text" json:"value"`
	Type     string `gorm:"size:50;default:'string'" json:"type"`
	Category string `gorm:"size:100;index" json:"category"`
}

const SettingCategoryIntegration = "integration"

// Integration setting keys. The names match the keys the web UI submits.
const (
	KeyJellyfinBaseURL    = "jellyfinBaseUrl"
	KeyJellyfinAPIKey     = "jellyfinApiKey"
	KeyJellyfinUserID     = "jellyfinUserId"
	KeyQBBaseURL          = "qbBaseUrl"
	KeyQBUsername         = "qbUsername"
	KeyQBPassword         = "qbPassword"
	KeyJellyfinHostPort   = "jellyfinHostPort"
	KeyQBWebPort          = "qbWebPort"
	KeyQBPeerPort         = "qbPeerPort"
	KeyPortainerHostPort  = "portainerHostPort"
	KeyWatchtowerInterval = "watchtowerInterval"
	KeyMediaPath          = "mediaPath"
	KeyDownloadsPath      = "downloadsPath"
	KeyDockerDataPath     = "dockerDataPath"
)

// SecretSettingKeys are stored sealed and masked when read back.
var SecretSettingKeys = map[string]bool{
	KeyJellyfinAPIKey: true,
	KeyQBPassword:     true,
}

const MaskedSecret = "******"

// Integrations is a resolved snapshot of integration settings, with
// configuration defaults applied for keys that were never saved.
type Integrations map[string]string

func (i Integrations) Get(key string) string {
	return i[key]
}

// Int returns the numeric value of key, or def when unset or malformed.
func (i Integrations) Int(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(i[key]))
	if err != nil {
		return def
	}
	return v
}
