package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/services"
	"github.com/arknas/backend/internal/infrastructure/db"
	"github.com/arknas/backend/internal/infrastructure/docker"
	"github.com/arknas/backend/internal/infrastructure/logger"
	transporthttp "github.com/arknas/backend/internal/transport/http"
	httpmw "github.com/arknas/backend/internal/transport/http/middleware"
	"github.com/arknas/backend/pkg/utils/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	configPath := os.Getenv("ARKNAS_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "../config/config.yaml"
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	config.Watch(func(next *config.Config) {
		log.SetLevel(next.Logger.Level)
	})

	database, err := db.NewConnection(cfg.Database, log)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	log.Infow("database connection established", "driver", cfg.Database.Driver)

	if err := db.RunMigrations(database); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Info("database migrations completed")

	runtime, err := docker.NewRuntime(cfg.Docker.Host, log.Named("docker"))
	if err != nil {
		log.Fatalf("failed to create docker client: %v", err)
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := runtime.Ping(pingCtx); err != nil {
		log.Warnw("docker engine unreachable; app tasks will fail until it is available", "host", cfg.Docker.Host, "error", err)
	}
	cancelPing()

	var sealer *crypto.Sealer
	if cfg.Security.EncryptionKey != "" {
		sealer, err = crypto.NewSealer(cfg.Security.EncryptionKey)
		if err != nil {
			log.Fatalf("invalid encryption key: %v", err)
		}
	} else {
		log.Warn("security.encryption_key is empty; integration secrets are stored in clear text")
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "http://localhost:3000"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token",
		AllowMethods: "GET, POST, HEAD, PUT",
	}))

	app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(log))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	scheduler := transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		DB:      database,
		Logger:  log,
		Config:  cfg,
		Runtime: runtime,
		Sealer:  sealer,
		Catalog: services.DefaultCatalog(),
	})

	addr := cfg.Server.Address()
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	log.Infof("server started on %s", addr)

	gracefulShutdown(app, scheduler, database, log, cfg.Server.ShutdownTimeout)
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals(string(httpmw.RequestIDKey)),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", c.Locals(string(httpmw.RequestIDKey)),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func gracefulShutdown(app *fiber.App, scheduler *services.TaskScheduler, database *gorm.DB, log *logger.Logger, timeout time.Duration) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	// Running tasks keep writing to the database, so drain them first.
	if err := scheduler.Wait(ctx); err != nil {
		log.Warnw("shutdown with tasks still running", "error", err)
	}

	if err := db.Close(database); err != nil {
		log.Errorf("failed to close database connection: %v", err)
	}

	log.Info("server exited gracefully")
}
