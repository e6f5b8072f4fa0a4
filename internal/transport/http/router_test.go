package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/services"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/db"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/pkg/utils/crypto"
	"github.com/gofiber/fiber/v2"
)

// memRuntime is an in-memory container engine.
type memRuntime struct {
	mu      sync.Mutex
	byName  map[string]*domain.ContainerState
	ids     map[string]string
	counter int
}

func newMemRuntime() *memRuntime {
	return &memRuntime{byName: map[string]*domain.ContainerState{}, ids: map[string]string{}}
}

func (m *memRuntime) nameOf(id string) string {
	for name, cid := range m.ids {
		if cid == id {
			return name
		}
	}
	return ""
}

func (m *memRuntime) FindByName(_ context.Context, name string) (*domain.ContainerSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byName[name]
	if !ok {
		return nil, nil
	}
	return &domain.ContainerSummary{ID: m.ids[name], Name: name, State: st.Status}, nil
}

func (m *memRuntime) Inspect(_ context.Context, id string) (*domain.ContainerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byName[m.nameOf(id)]
	if !ok {
		return nil, fmt.Errorf("no such container %s", id)
	}
	cp := *st
	return &cp, nil
}

func (m *memRuntime) Create(_ context.Context, spec *domain.ContainerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	id := fmt.Sprintf("c%015d", m.counter)
	m.ids[spec.Name] = id
	m.byName[spec.Name] = &domain.ContainerState{Status: "created"}
	return id, nil
}

func (m *memRuntime) setRunning(id string, running bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byName[m.nameOf(id)]
	if !ok {
		return fmt.Errorf("no such container %s", id)
	}
	st.Running = running
	st.Status = "exited"
	if running {
		st.Status = "running"
	}
	return nil
}

func (m *memRuntime) Start(_ context.Context, id string) error { return m.setRunning(id, true) }
func (m *memRuntime) Stop(_ context.Context, id string, _ time.Duration) error {
	return m.setRunning(id, false)
}
func (m *memRuntime) Restart(_ context.Context, id string) error { return m.setRunning(id, true) }

func (m *memRuntime) Remove(_ context.Context, id string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.nameOf(id)
	delete(m.byName, name)
	delete(m.ids, name)
	return nil
}

func (m *memRuntime) PullImage(context.Context, string, func(domain.PullEvent)) error { return nil }
func (m *memRuntime) NetworkExists(context.Context, string) (bool, error)             { return true, nil }
func (m *memRuntime) CreateNetwork(context.Context, string, map[string]string) error  { return nil }
func (m *memRuntime) Ping(context.Context) error                                      { return nil }

type testServer struct {
	app       *fiber.App
	scheduler *services.TaskScheduler
	cfg       *config.Config
}

func newTestServer(t *testing.T, adminKey string) *testServer {
	t.Helper()
	log := logger.NewNop()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Auth.AdminAPIKey = adminKey
	cfg.Auth.AdminActor = "admin"
	cfg.Apps = config.AppsConfig{
		MediaPath:      filepath.Join(dir, "media"),
		DownloadsPath:  filepath.Join(dir, "downloads"),
		DockerDataPath: filepath.Join(dir, "data"),
		QBWebPort:      8080,
	}
	cfg.Readiness = config.ReadinessConfig{
		PollInterval:        10 * time.Millisecond,
		RequestTimeout:      100 * time.Millisecond,
		RunningTimeout:      300 * time.Millisecond,
		RunningPollInterval: 10 * time.Millisecond,
		HTTPTimeout:         300 * time.Millisecond,
	}
	cfg.Tasks = config.TasksConfig{DefaultListLimit: 60, MaxListLimit: 500}

	database, err := db.NewConnection(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "api.db"), MaxOpenConns: 1}, log)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })

	sealer, err := crypto.NewSealer("router-test-key")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}

	catalog := services.NewCatalog([]domain.AppDefinition{
		{ID: "demo", Name: "Demo", ContainerName: "arknas-demo", Image: "example/demo:latest", DataSubdir: "demo"},
	}, []domain.Bundle{{ID: services.DefaultBundleID, Name: "Media Stack", Apps: []string{"demo"}}})

	app := fiber.New()
	sched := SetupRoutes(app, RouterConfig{
		DB:      database,
		Logger:  log,
		Config:  cfg,
		Runtime: newMemRuntime(),
		Sealer:  sealer,
		Catalog: catalog,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Wait(ctx)
	})
	return &testServer{app: app, scheduler: sched, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func (s *testServer) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.scheduler.Wait(ctx); err != nil {
		t.Fatalf("scheduler did not drain: %v", err)
	}
}

func TestInstallFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, "")

	code, body := s.do(t, fiber.MethodPost, "/api/v1/apps/demo/install", `{"skipIfInstalled":true}`)
	if code != fiber.StatusAccepted {
		t.Fatalf("install: %d %s", code, body)
	}
	var accepted struct {
		OK   bool        `json:"ok"`
		Task domain.Task `json:"task"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !accepted.OK || accepted.Task.Status != domain.TaskStatusQueued || accepted.Task.Actor != "admin" {
		t.Fatalf("unexpected accepted body %s", body)
	}
	if !accepted.Task.Options.InstallOpts().SkipIfInstalled {
		t.Fatalf("options not carried: %s", body)
	}
	s.drain(t)

	code, body = s.do(t, fiber.MethodGet, fmt.Sprintf("/api/v1/apps/tasks/%d", accepted.Task.ID), "")
	var task domain.Task
	_ = json.Unmarshal(body, &task)
	if code != fiber.StatusOK || task.Status != domain.TaskStatusSuccess || task.Progress != 100 {
		t.Fatalf("task not finished: %d %s", code, body)
	}

	code, body = s.do(t, fiber.MethodGet, fmt.Sprintf("/api/v1/apps/tasks/%d/logs", accepted.Task.ID), "")
	if code != fiber.StatusOK || !strings.Contains(string(body), "Task completed") {
		t.Fatalf("logs: %d %s", code, body)
	}

	code, body = s.do(t, fiber.MethodGet, "/api/v1/apps/", "")
	if code != fiber.StatusOK || !strings.Contains(string(body), `"installed":true`) {
		t.Fatalf("apps: %d %s", code, body)
	}

	code, body = s.do(t, fiber.MethodGet, "/api/v1/audit/?limit=5", "")
	if code != fiber.StatusOK || !strings.Contains(string(body), `"app_install"`) {
		t.Fatalf("audit: %d %s", code, body)
	}

	// Second install without skip conflicts inside the task, not at the API.
	code, body = s.do(t, fiber.MethodPost, "/api/v1/apps/demo/install", "")
	if code != fiber.StatusAccepted {
		t.Fatalf("second install: %d %s", code, body)
	}
	_ = json.Unmarshal(body, &accepted)
	s.drain(t)
	_, body = s.do(t, fiber.MethodGet, fmt.Sprintf("/api/v1/apps/tasks/%d", accepted.Task.ID), "")
	_ = json.Unmarshal(body, &task)
	if task.Status != domain.TaskStatusFailed || !strings.Contains(task.ErrorDetail, "already installed") {
		t.Fatalf("expected conflict failure, got %s", body)
	}

	code, body = s.do(t, fiber.MethodPost, fmt.Sprintf("/api/v1/apps/tasks/%d/retry", accepted.Task.ID), "")
	if code != fiber.StatusAccepted {
		t.Fatalf("retry: %d %s", code, body)
	}
	s.drain(t)
}

func TestBundleRoutes(t *testing.T) {
	s := newTestServer(t, "")

	code, body := s.do(t, fiber.MethodGet, "/api/v1/apps/bundles", "")
	if code != fiber.StatusOK || !strings.Contains(string(body), `"media-stack"`) {
		t.Fatalf("bundles: %d %s", code, body)
	}

	code, body = s.do(t, fiber.MethodPost, "/api/v1/apps/bundles/media-stack/install", "")
	if code != fiber.StatusAccepted || !strings.Contains(string(body), `"install_bundle"`) {
		t.Fatalf("bundle install: %d %s", code, body)
	}
	s.drain(t)

	code, body = s.do(t, fiber.MethodPost, "/api/v1/apps/bundles/unknown/install", "")
	if code != fiber.StatusBadRequest {
		t.Fatalf("unknown bundle: %d %s", code, body)
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, "")

	cases := []struct {
		method, path, body string
		want               int
	}{
		{fiber.MethodPost, "/api/v1/apps/ghost/install", "", fiber.StatusBadRequest},
		{fiber.MethodPost, "/api/v1/apps/demo/explode", "", fiber.StatusBadRequest},
		{fiber.MethodPost, "/api/v1/apps/demo/install", "{not json", fiber.StatusBadRequest},
		{fiber.MethodGet, "/api/v1/apps/tasks/abc", "", fiber.StatusBadRequest},
		{fiber.MethodGet, "/api/v1/apps/tasks/0", "", fiber.StatusBadRequest},
		{fiber.MethodGet, "/api/v1/apps/tasks/999", "", fiber.StatusNotFound},
		{fiber.MethodGet, "/api/v1/apps/tasks/999/logs", "", fiber.StatusNotFound},
		{fiber.MethodPost, "/api/v1/apps/tasks/999/retry", "", fiber.StatusNotFound},
		{fiber.MethodGet, "/api/v1/audit/?limit=0", "", fiber.StatusBadRequest},
		{fiber.MethodPut, "/api/v1/settings/integrations", `{"qbWebPort":"99999"}`, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		code, body := s.do(t, tc.method, tc.path, tc.body)
		if code != tc.want {
			t.Fatalf("%s %s: got %d, want %d (%s)", tc.method, tc.path, code, tc.want, body)
		}
	}

	code, body := s.do(t, fiber.MethodPost, "/api/v1/apps/demo/stop", "")
	if code != fiber.StatusAccepted {
		t.Fatalf("stop on missing app is accepted then fails in the task: %d %s", code, body)
	}
	s.drain(t)

	var tasks struct {
		Tasks []domain.Task `json:"tasks"`
	}
	_, body = s.do(t, fiber.MethodGet, "/api/v1/apps/tasks?limit=10", "")
	_ = json.Unmarshal(body, &tasks)
	if len(tasks.Tasks) != 1 || tasks.Tasks[0].Status != domain.TaskStatusFailed {
		t.Fatalf("unexpected task list %s", body)
	}

	code, _ = s.do(t, fiber.MethodPost, fmt.Sprintf("/api/v1/apps/tasks/%d/retry", tasks.Tasks[0].ID), "")
	if code != fiber.StatusAccepted {
		t.Fatalf("retry of failed task: %d", code)
	}
	s.drain(t)
}

func TestRetryOfSucceededTaskIsRejected(t *testing.T) {
	s := newTestServer(t, "")
	_, body := s.do(t, fiber.MethodPost, "/api/v1/apps/demo/install", "")
	var accepted struct {
		Task domain.Task `json:"task"`
	}
	_ = json.Unmarshal(body, &accepted)
	s.drain(t)

	code, body := s.do(t, fiber.MethodPost, fmt.Sprintf("/api/v1/apps/tasks/%d/retry", accepted.Task.ID), "")
	if code != fiber.StatusBadRequest {
		t.Fatalf("retry of succeeded task: %d %s", code, body)
	}
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, "topsecret")

	code, body := s.do(t, fiber.MethodGet, "/api/v1/apps/bundles", "")
	if code != fiber.StatusUnauthorized || !strings.Contains(string(body), "unauthorized") {
		t.Fatalf("missing token: %d %s", code, body)
	}
	if code, _ = s.do(t, fiber.MethodGet, "/api/v1/apps/bundles", "", "X-Admin-Token", "wrong"); code != fiber.StatusUnauthorized {
		t.Fatalf("wrong token accepted: %d", code)
	}
	if code, _ = s.do(t, fiber.MethodGet, "/api/v1/apps/bundles", "", "X-Admin-Token", "topsecret"); code != fiber.StatusOK {
		t.Fatalf("header token rejected: %d", code)
	}
	if code, _ = s.do(t, fiber.MethodGet, "/api/v1/apps/bundles", "", fiber.HeaderAuthorization, "Bearer topsecret"); code != fiber.StatusOK {
		t.Fatalf("bearer token rejected: %d", code)
	}
	if code, _ = s.do(t, fiber.MethodGet, "/api/v1/apps/bundles?token=topsecret", ""); code != fiber.StatusOK {
		t.Fatalf("query token rejected: %d", code)
	}
}

func TestIntegrationSettingsAreMasked(t *testing.T) {
	s := newTestServer(t, "")

	code, body := s.do(t, fiber.MethodPut, "/api/v1/settings/integrations", `{"qbPassword":"hunter2","qbWebPort":"8090"}`)
	if code != fiber.StatusOK {
		t.Fatalf("update: %d %s", code, body)
	}
	var settings map[string]string
	if err := json.Unmarshal(body, &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings["qbPassword"] != domain.MaskedSecret || settings["qbWebPort"] != "8090" {
		t.Fatalf("unexpected settings %v", settings)
	}
	if strings.Contains(string(body), "hunter2") {
		t.Fatalf("secret leaked: %s", body)
	}

	_, body = s.do(t, fiber.MethodGet, "/api/v1/settings/integrations", "")
	if strings.Contains(string(body), "hunter2") {
		t.Fatalf("secret leaked on GET: %s", body)
	}
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	s := newTestServer(t, "")
	code, _ := s.do(t, fiber.MethodGet, "/ws/tasks/1", "")
	if code != fiber.StatusUpgradeRequired {
		t.Fatalf("plain GET on websocket route: %d", code)
	}
}
