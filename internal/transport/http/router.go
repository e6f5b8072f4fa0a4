package http

import (
	"time"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/core/services"
	"github.com/arknas/backend/internal/infrastructure/db"
	"github.com/arknas/backend/internal/infrastructure/logger"
	"github.com/arknas/backend/internal/transport/http/handlers"
	httpmw "github.com/arknas/backend/internal/transport/http/middleware"
	"github.com/arknas/backend/pkg/utils/crypto"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type RouterConfig struct {
	DB      *gorm.DB
	Logger  *logger.Logger
	Config  *config.Config
	Runtime ports.ContainerRuntime
	// Sealer encrypts integration secrets. Nil stores them in clear text.
	Sealer  *crypto.Sealer
	Catalog *services.Catalog
}

// SetupRoutes wires repositories, services and handlers onto app. The
// returned scheduler must be drained on shutdown.
func SetupRoutes(app *fiber.App, cfg RouterConfig) *services.TaskScheduler {
	taskRepo := db.NewTaskRepository(cfg.DB, cfg.Logger)
	auditRepo := db.NewAuditRepository(cfg.DB, cfg.Logger)
	settingRepo := db.NewSystemSettingRepository(cfg.DB, cfg.Logger)

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = services.DefaultCatalog()
	}

	integrations := services.NewIntegrationService(settingRepo, cfg.Sealer, cfg.Config.Apps, cfg.Logger.Named("integrations"))
	taskService := services.NewTaskService(taskRepo, cfg.Logger.Named("tasks"))
	prober := services.NewReadinessProber(cfg.Runtime, cfg.Config.Readiness, cfg.Config.Docker.ProxyPingURL, cfg.Logger.Named("readiness"))
	lifecycle := services.NewLifecycleService(catalog, cfg.Runtime, integrations, prober, taskService,
		cfg.Config.Docker, cfg.Config.Apps, cfg.Logger.Named("lifecycle"))
	bundles := services.NewBundleInstaller(catalog, lifecycle, taskService, cfg.Logger.Named("bundles"))
	scheduler := services.NewTaskScheduler(taskService, auditRepo, cfg.Logger.Named("scheduler"), cfg.Config.Features.EnableLocks)
	appTasks := services.NewAppTaskService(catalog, taskService, cfg.Runtime, integrations, scheduler,
		lifecycle, bundles, cfg.Config.Tasks, cfg.Logger.Named("apps"))

	appHandler := handlers.NewAppHandler(appTasks, cfg.Logger)
	auditHandler := handlers.NewAuditHandler(auditRepo)
	settingHandler := handlers.NewSettingHandler(integrations, cfg.Logger)
	streamHandler := handlers.NewTaskStreamHandler(appTasks, cfg.Logger, time.Second)

	// Live task stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/tasks/:id", httpmw.AdminAuth(cfg.Config), websocket.New(streamHandler.Handle))

	api := app.Group("/api/v1")

	// Managed application routes. Static segments are registered before
	// the :appId patterns so they win.
	apps := api.Group("/apps", httpmw.AdminAuth(cfg.Config))
	apps.Get("/", appHandler.ListApps)
	apps.Get("/bundles", appHandler.ListBundles)
	apps.Post("/bundles/:bundleId/install", appHandler.InstallBundle)
	apps.Get("/tasks", appHandler.ListTasks)
	apps.Get("/tasks/:taskId", appHandler.GetTask)
	apps.Get("/tasks/:taskId/logs", appHandler.GetTaskLogs)
	apps.Post("/tasks/:taskId/retry", appHandler.RetryTask)
	apps.Post("/:appId/install", appHandler.Install)
	apps.Post("/:appId/uninstall", appHandler.Uninstall)
	apps.Post("/:appId/:action", appHandler.Control)

	// Audit routes
	audit := api.Group("/audit", httpmw.AdminAuth(cfg.Config))
	audit.Get("/", auditHandler.GetEntries)

	// Settings routes
	settings := api.Group("/settings", httpmw.AdminAuth(cfg.Config))
	settings.Get("/integrations", settingHandler.GetIntegrations)
	settings.Put("/integrations", settingHandler.UpdateIntegrations)

	return scheduler
}
