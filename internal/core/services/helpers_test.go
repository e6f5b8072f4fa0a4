package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/db"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.NewConnection(config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// ==================== fake runtime ====================

type fakeContainer struct {
	id      string
	name    string
	image   string
	running bool
	status  string
}

type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	networks   map[string]bool
	nextID     int

	pulled  []string
	created []*domain.ContainerSpec

	pullErr          error
	createErr        error
	networkCreateErr error
	// startNoop leaves containers stopped after Start.
	startNoop bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: map[string]*fakeContainer{},
		networks:   map[string]bool{},
	}
}

var _ ports.ContainerRuntime = (*fakeRuntime)(nil)

// addContainer seeds an existing container.
func (f *fakeRuntime) addContainer(name string, running bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	status := "exited"
	if running {
		status = "running"
	}
	f.containers[name] = &fakeContainer{id: id, name: name, running: running, status: status}
	return id
}

func (f *fakeRuntime) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[name]
	return ok
}

func (f *fakeRuntime) remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

func (f *fakeRuntime) byID(id string) *fakeContainer {
	for _, c := range f.containers {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (f *fakeRuntime) FindByName(_ context.Context, name string) (*domain.ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return nil, nil
	}
	return &domain.ContainerSummary{ID: c.id, Name: c.name, Image: c.image, State: c.status, Status: "Up or down"}, nil
}

func (f *fakeRuntime) Inspect(_ context.Context, id string) (*domain.ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID(id)
	if c == nil {
		return nil, fmt.Errorf("no such container: %s", id)
	}
	return &domain.ContainerState{Status: c.status, Running: c.running, StartedAt: "2026-01-01T00:00:00Z"}, nil
}

func (f *fakeRuntime) Create(_ context.Context, spec *domain.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if _, exists := f.containers[spec.Name]; exists {
		return "", fmt.Errorf("conflict: name %s in use", spec.Name)
	}
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	f.containers[spec.Name] = &fakeContainer{id: id, name: spec.Name, image: spec.Image, status: "created"}
	f.created = append(f.created, spec)
	return id, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID(id)
	if c == nil {
		return fmt.Errorf("no such container: %s", id)
	}
	if !f.startNoop {
		c.running, c.status = true, "running"
	}
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID(id)
	if c == nil {
		return fmt.Errorf("no such container: %s", id)
	}
	c.running, c.status = false, "exited"
	return nil
}

func (f *fakeRuntime) Restart(ctx context.Context, id string) error {
	return f.Start(ctx, id)
}

func (f *fakeRuntime) Remove(_ context.Context, id string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.byID(id)
	if c == nil {
		return fmt.Errorf("no such container: %s", id)
	}
	delete(f.containers, c.name)
	return nil
}

func (f *fakeRuntime) PullImage(_ context.Context, image string, onProgress func(domain.PullEvent)) error {
	f.mu.Lock()
	f.pulled = append(f.pulled, image)
	err := f.pullErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(domain.PullEvent{Status: "Pulling from library/test"})
		onProgress(domain.PullEvent{ID: "abc", Status: "Downloading", Progress: "[==>   ] 1MB/3MB", Percent: 33})
		onProgress(domain.PullEvent{ID: "abc", Status: "Verifying Checksum"})
		onProgress(domain.PullEvent{Status: "Digest: sha256:deadbeef"})
	}
	return nil
}

func (f *fakeRuntime) NetworkExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.networks[name], nil
}

func (f *fakeRuntime) CreateNetwork(_ context.Context, name string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.networkCreateErr != nil {
		return f.networkCreateErr
	}
	f.networks[name] = true
	return nil
}

func (f *fakeRuntime) Ping(context.Context) error { return nil }

// ==================== recording helpers ====================

type recordingReporter struct {
	mu       sync.Mutex
	progress []int
	lines    []string
}

func (r *recordingReporter) Progress(_ context.Context, pct int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, pct)
}

func (r *recordingReporter) Log(_ context.Context, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recordingReporter) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

type progressWrite struct {
	progress int
	message  string
}

// recordingTaskRepo records every progress write that reaches storage.
type recordingTaskRepo struct {
	ports.TaskRepository
	mu     sync.Mutex
	writes map[uint][]progressWrite
}

func (r *recordingTaskRepo) Update(ctx context.Context, id uint, fields map[string]interface{}) error {
	if p, ok := fields["progress"].(int); ok {
		msg, _ := fields["message"].(string)
		r.mu.Lock()
		if r.writes == nil {
			r.writes = map[uint][]progressWrite{}
		}
		r.writes[id] = append(r.writes[id], progressWrite{progress: p, message: msg})
		r.mu.Unlock()
	}
	return r.TaskRepository.Update(ctx, id, fields)
}

func (r *recordingTaskRepo) progressFor(id uint) []progressWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressWrite(nil), r.writes[id]...)
}

// ==================== environment ====================

func testApp(id string) domain.AppDefinition {
	return domain.AppDefinition{
		ID:            id,
		Name:          strings.ToUpper(id[:1]) + id[1:],
		ContainerName: "arknas-" + id,
		Image:         "example/" + id + ":latest",
		DataSubdir:    id,
	}
}

type testEnv struct {
	db        *gorm.DB
	repo      *recordingTaskRepo
	tasks     *TaskService
	audit     ports.AuditRepository
	settings  *IntegrationService
	runtime   *fakeRuntime
	catalog   *Catalog
	prober    *ReadinessProber
	lifecycle *LifecycleService
	bundles   *BundleInstaller
	scheduler *TaskScheduler
	apps      *AppTaskService
	dataRoot  string
}

func newTestEnv(t *testing.T, apps []domain.AppDefinition, bundles []domain.Bundle) *testEnv {
	t.Helper()
	log := logger.NewNop()
	database := newTestDB(t)
	dataRoot := t.TempDir()

	appsCfg := config.AppsConfig{
		MediaPath:      filepath.Join(dataRoot, "media"),
		DownloadsPath:  filepath.Join(dataRoot, "downloads"),
		DockerDataPath: filepath.Join(dataRoot, "docker-data"),
		Timezone:       "UTC",
		QBWebPort:      8080,
	}
	dockerCfg := config.DockerConfig{InternalNetwork: "test-net"}
	readinessCfg := config.ReadinessConfig{
		PollInterval:        10 * time.Millisecond,
		RequestTimeout:      200 * time.Millisecond,
		RunningTimeout:      300 * time.Millisecond,
		RunningPollInterval: 10 * time.Millisecond,
		HTTPTimeout:         300 * time.Millisecond,
	}

	env := &testEnv{db: database, dataRoot: dataRoot, runtime: newFakeRuntime()}
	env.repo = &recordingTaskRepo{TaskRepository: db.NewTaskRepository(database, log)}
	env.tasks = NewTaskService(env.repo, log)
	env.audit = db.NewAuditRepository(database, log)
	env.settings = NewIntegrationService(db.NewSystemSettingRepository(database, log), nil, appsCfg, log)
	env.catalog = NewCatalog(apps, bundles)
	env.prober = NewReadinessProber(env.runtime, readinessCfg, "http://127.0.0.1:1/_ping", log)
	env.lifecycle = NewLifecycleService(env.catalog, env.runtime, env.settings, env.prober, env.tasks, dockerCfg, appsCfg, log)
	env.bundles = NewBundleInstaller(env.catalog, env.lifecycle, env.tasks, log)
	env.scheduler = NewTaskScheduler(env.tasks, env.audit, log, false)
	env.apps = NewAppTaskService(env.catalog, env.tasks, env.runtime, env.settings, env.scheduler,
		env.lifecycle, env.bundles, config.TasksConfig{DefaultListLimit: 60, MaxListLimit: 500}, log)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.scheduler.Wait(ctx)
	})
	return env
}

func (e *testEnv) newTask(t *testing.T, appID string, action domain.TaskAction, opts domain.TaskOptions) *domain.Task {
	t.Helper()
	task, err := e.tasks.Create(context.Background(), appID, action, "tester", "queued", opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (e *testEnv) waitTerminal(t *testing.T, id uint) *domain.Task {
	t.Helper()
	var task *domain.Task
	pollUntil(t, 5*time.Second, func() bool {
		got, err := e.tasks.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get task %d: %v", id, err)
		}
		task = got
		return got.Status.IsTerminal() && !e.scheduler.InFlight(id)
	})
	return task
}
