package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/pkg/utils/crypto"
)

var portKeys = map[string]bool{
	domain.KeyJellyfinHostPort:  true,
	domain.KeyQBWebPort:         true,
	domain.KeyQBPeerPort:        true,
	domain.KeyPortainerHostPort: true,
}

// IntegrationService stores application endpoint settings in the
// system_settings table, falling back to configuration defaults.
type IntegrationService struct {
	repo     ports.SystemSettingRepository
	sealer   *crypto.Sealer
	defaults domain.Integrations
	logger   *logger.Logger
	mu       sync.Mutex
}

// NewIntegrationService returns the provider. A nil sealer stores secrets
// in clear text.
func NewIntegrationService(repo ports.SystemSettingRepository, sealer *crypto.Sealer, apps config.AppsConfig, log *logger.Logger) *IntegrationService {
	return &IntegrationService{
		repo:     repo,
		sealer:   sealer,
		defaults: defaultIntegrations(apps),
		logger:   log,
	}
}

var _ ports.IntegrationConfig = (*IntegrationService)(nil)

func defaultIntegrations(a config.AppsConfig) domain.Integrations {
	itoa := func(n int) string {
		if n == 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	return domain.Integrations{
		domain.KeyJellyfinBaseURL:    a.JellyfinBaseURL,
		domain.KeyJellyfinAPIKey:     a.JellyfinAPIKey,
		domain.KeyJellyfinUserID:     a.JellyfinUserID,
		domain.KeyQBBaseURL:          a.QBBaseURL,
		domain.KeyQBUsername:         a.QBUsername,
		domain.KeyQBPassword:         a.QBPassword,
		domain.KeyJellyfinHostPort:   itoa(a.JellyfinHostPort),
		domain.KeyQBWebPort:          itoa(a.QBWebPort),
		domain.KeyQBPeerPort:         itoa(a.QBPeerPort),
		domain.KeyPortainerHostPort:  itoa(a.PortainerHostPort),
		domain.KeyWatchtowerInterval: itoa(a.WatchtowerInterval),
		domain.KeyMediaPath:          a.MediaPath,
		domain.KeyDownloadsPath:      a.DownloadsPath,
		domain.KeyDockerDataPath:     a.DockerDataPath,
	}
}

func (s *IntegrationService) Snapshot(ctx context.Context) (domain.Integrations, error) {
	out := make(domain.Integrations, len(s.defaults))
	for k, v := range s.defaults {
		out[k] = v
	}

	rows, err := s.repo.GetByCategory(ctx, domain.SettingCategoryIntegration)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, known := s.defaults[row.Key]; !known {
			continue
		}
		value := row.Value
		if domain.SecretSettingKeys[row.Key] {
			value = s.open(row.Key, value)
		}
		if value != "" {
			out[row.Key] = value
		}
	}
	return out, nil
}

func (s *IntegrationService) Masked(ctx context.Context) (domain.Integrations, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for k := range domain.SecretSettingKeys {
		if snap[k] != "" {
			snap[k] = domain.MaskedSecret
		}
	}
	return snap, nil
}

// Save stores the given keys. Secrets equal to the mask placeholder are
// ignored so a masked GET can be sent back unchanged.
func (s *IntegrationService) Save(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, values)
}

func (s *IntegrationService) SetIfEmpty(ctx context.Context, values map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	written := map[string]string{}
	for k, v := range values {
		if snap[k] == "" && v != "" {
			written[k] = v
		}
	}
	if len(written) == 0 {
		return written, nil
	}
	if err := s.save(ctx, written); err != nil {
		return nil, err
	}
	return written, nil
}

func (s *IntegrationService) save(ctx context.Context, values map[string]string) error {
	if err := s.validate(values); err != nil {
		return err
	}
	for key, raw := range values {
		value := strings.TrimSpace(raw)
		if domain.SecretSettingKeys[key] {
			if value == domain.MaskedSecret {
				continue
			}
			sealed, err := s.seal(value)
			if err != nil {
				return err
			}
			value = sealed
		}
		setting := &domain.SystemSetting{
			Key:      key,
			Value:    value,
			Type:     "string",
			Category: domain.SettingCategoryIntegration,
		}
		if portKeys[key] || key == domain.KeyWatchtowerInterval {
			setting.Type = "int"
		}
		if err := s.repo.Set(ctx, setting); err != nil {
			return err
		}
	}
	s.logger.Infow("integration_settings_saved", "keys", len(values))
	return nil
}

func (s *IntegrationService) validate(values map[string]string) error {
	for key, raw := range values {
		if _, known := s.defaults[key]; !known {
			return fmt.Errorf("%w: unknown integration setting %q", ErrValidation, key)
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if portKeys[key] {
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 65535 {
				return fmt.Errorf("%w: %s must be a port number", ErrValidation, key)
			}
		}
		if key == domain.KeyWatchtowerInterval {
			if n, err := strconv.Atoi(value); err != nil || n < 1 {
				return fmt.Errorf("%w: %s must be a positive number of seconds", ErrValidation, key)
			}
		}
	}
	return nil
}

func (s *IntegrationService) seal(value string) (string, error) {
	if s.sealer == nil || value == "" {
		return value, nil
	}
	return s.sealer.Seal(value)
}

func (s *IntegrationService) open(key, value string) string {
	if !crypto.IsSealed(value) {
		return value
	}
	if s.sealer == nil {
		s.logger.Warnw("integration_secret_unreadable", "key", key, "reason", "no encryption key configured")
		return ""
	}
	plain, err := s.sealer.Open(value)
	if err != nil {
		s.logger.Warnw("integration_secret_unreadable", "key", key, "error", err)
		return ""
	}
	return plain
}
