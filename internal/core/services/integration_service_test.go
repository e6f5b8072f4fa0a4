package services

import (
	"context"
	"errors"
	"testing"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/db"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/pkg/utils/crypto"
)

func newIntegrationService(t *testing.T, passphrase string) (*IntegrationService, *crypto.Sealer, func(key string) string) {
	t.Helper()
	database := newTestDB(t)
	log := logger.NewNop()
	repo := db.NewSystemSettingRepository(database, log)

	var sealer *crypto.Sealer
	if passphrase != "" {
		var err error
		if sealer, err = crypto.NewSealer(passphrase); err != nil {
			t.Fatalf("sealer: %v", err)
		}
	}
	svc := NewIntegrationService(repo, sealer, config.AppsConfig{
		DockerDataPath: "/srv/data",
		QBWebPort:      8080,
		QBUsername:     "admin",
	}, log)

	stored := func(key string) string {
		row, err := repo.Get(context.Background(), key)
		if err != nil || row == nil {
			t.Fatalf("stored %s: %+v, %v", key, row, err)
		}
		return row.Value
	}
	return svc, sealer, stored
}

func TestIntegrationDefaultsAndOverrides(t *testing.T) {
	svc, _, _ := newIntegrationService(t, "")
	ctx := context.Background()

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap[domain.KeyQBWebPort] != "8080" || snap[domain.KeyDockerDataPath] != "/srv/data" || snap[domain.KeyQBUsername] != "admin" {
		t.Fatalf("defaults not applied: %v", snap)
	}

	if err := svc.Save(ctx, map[string]string{domain.KeyQBWebPort: " 9090 ", domain.KeyQBUsername: ""}); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, _ = svc.Snapshot(ctx)
	if snap[domain.KeyQBWebPort] != "9090" {
		t.Fatalf("override not applied: %q", snap[domain.KeyQBWebPort])
	}
	if snap[domain.KeyQBUsername] != "admin" {
		t.Fatalf("empty value should fall back to default, got %q", snap[domain.KeyQBUsername])
	}
}

func TestIntegrationSecretsAreSealedAndMasked(t *testing.T) {
	svc, sealer, stored := newIntegrationService(t, "unit-test-passphrase")
	ctx := context.Background()

	if err := svc.Save(ctx, map[string]string{domain.KeyQBPassword: "hunter2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw := stored(domain.KeyQBPassword)
	if !crypto.IsSealed(raw) || raw == "hunter2" {
		t.Fatalf("secret stored in clear: %q", raw)
	}
	if plain, err := sealer.Open(raw); err != nil || plain != "hunter2" {
		t.Fatalf("open sealed value: %q, %v", plain, err)
	}

	snap, _ := svc.Snapshot(ctx)
	if snap[domain.KeyQBPassword] != "hunter2" {
		t.Fatalf("snapshot should carry the clear secret, got %q", snap[domain.KeyQBPassword])
	}
	masked, _ := svc.Masked(ctx)
	if masked[domain.KeyQBPassword] != domain.MaskedSecret {
		t.Fatalf("secret not masked: %q", masked[domain.KeyQBPassword])
	}
	if masked[domain.KeyJellyfinAPIKey] != "" {
		t.Fatalf("unset secret should stay empty, got %q", masked[domain.KeyJellyfinAPIKey])
	}

	// Sending the masked view back must not clobber the secret.
	if err := svc.Save(ctx, masked); err != nil {
		t.Fatalf("save masked: %v", err)
	}
	snap, _ = svc.Snapshot(ctx)
	if snap[domain.KeyQBPassword] != "hunter2" {
		t.Fatalf("masked save overwrote secret: %q", snap[domain.KeyQBPassword])
	}
}

func TestIntegrationValidation(t *testing.T) {
	svc, _, _ := newIntegrationService(t, "")
	ctx := context.Background()

	bad := []map[string]string{
		{"nope": "x"},
		{domain.KeyQBWebPort: "0"},
		{domain.KeyJellyfinHostPort: "70000"},
		{domain.KeyQBPeerPort: "abc"},
		{domain.KeyWatchtowerInterval: "-5"},
	}
	for _, values := range bad {
		if err := svc.Save(ctx, values); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", values, err)
		}
	}

	// A rejected batch writes nothing.
	_ = svc.Save(ctx, map[string]string{domain.KeyQBUsername: "root", domain.KeyQBWebPort: "x"})
	snap, _ := svc.Snapshot(ctx)
	if snap[domain.KeyQBUsername] != "admin" {
		t.Fatalf("partial save applied: %q", snap[domain.KeyQBUsername])
	}
}

func TestIntegrationSetIfEmpty(t *testing.T) {
	svc, _, _ := newIntegrationService(t, "")
	ctx := context.Background()

	written, err := svc.SetIfEmpty(ctx, map[string]string{
		domain.KeyQBBaseURL:  "http://arknas-qbittorrent:8080",
		domain.KeyQBUsername: "other",
	})
	if err != nil {
		t.Fatalf("SetIfEmpty: %v", err)
	}
	if len(written) != 1 || written[domain.KeyQBBaseURL] == "" {
		t.Fatalf("only empty keys should be written, got %v", written)
	}

	written, _ = svc.SetIfEmpty(ctx, map[string]string{domain.KeyQBBaseURL: "http://elsewhere"})
	if len(written) != 0 {
		t.Fatalf("second call must not overwrite, wrote %v", written)
	}
	snap, _ := svc.Snapshot(ctx)
	if snap[domain.KeyQBBaseURL] != "http://arknas-qbittorrent:8080" || snap[domain.KeyQBUsername] != "admin" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestIntegrationSealedValueWithoutKey(t *testing.T) {
	database := newTestDB(t)
	log := logger.NewNop()
	repo := db.NewSystemSettingRepository(database, log)
	sealer, _ := crypto.NewSealer("key-one")
	sealed, _ := sealer.Seal("secret")
	_ = repo.Set(context.Background(), &domain.SystemSetting{Key: domain.KeyJellyfinAPIKey, Value: sealed, Category: domain.SettingCategoryIntegration})

	svc := NewIntegrationService(repo, nil, config.AppsConfig{}, log)
	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap[domain.KeyJellyfinAPIKey] != "" {
		t.Fatalf("unreadable secret should resolve empty, got %q", snap[domain.KeyJellyfinAPIKey])
	}
}
