package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/nerves76/promptreviews-backend/internal/aggregator"
	"github.com/nerves76/promptreviews-backend/internal/api/handlers"
	"github.com/nerves76/promptreviews-backend/internal/batch"
	redisCache "github.com/nerves76/promptreviews-backend/internal/cache/redis"
	"github.com/nerves76/promptreviews-backend/internal/checker"
	"github.com/nerves76/promptreviews-backend/internal/export"
	"github.com/nerves76/promptreviews-backend/internal/metrics"
	"github.com/nerves76/promptreviews-backend/internal/middleware/ratelimit"
	"github.com/nerves76/promptreviews-backend/internal/middleware/security"
	"github.com/nerves76/promptreviews-backend/internal/middleware/validation"
	"github.com/nerves76/promptreviews-backend/internal/poller"
	"github.com/nerves76/promptreviews-backend/internal/storage/models"
	"github.com/nerves76/promptreviews-backend/internal/storage/sqlite"
	"github.com/nerves76/promptreviews-backend/pkg/config"
	appLogger "github.com/nerves76/promptreviews-backend/pkg/logger"
)

const defaultAccountID = "default"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting LLM visibility API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	err = sqliteClient.UpsertAccount(&models.Account{
		ID:     defaultAccountID,
		Domain: cfg.Account.Domain,
		Brand:  cfg.Account.Brand,
	})
	if err != nil {
		appLogger.Fatal("Failed to ensure account", zap.Error(err))
	}

	cacheClient, err := redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, view cache disabled", zap.Error(err))
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}

	chk := checker.Multi{
		models.ProviderChatGPT: checker.NewClient(checker.ClientConfig{
			APIKey:      cfg.Checker.APIKey,
			Model:       cfg.Checker.Model,
			Temperature: cfg.Checker.Temperature,
			MaxTokens:   cfg.Checker.MaxTokens,
			TimeoutSec:  cfg.Checker.TimeoutSec,
			Domain:      cfg.Account.Domain,
			Brand:       cfg.Account.Brand,
		}),
	}

	batchService := batch.NewService(sqliteClient, chk, cfg.Batch.CreditCostPerCheck)
	defer batchService.Close()

	fetcher := aggregator.NewFetcher(sqliteClient, cfg.Batch.ResultFetchLimit)
	exportService := export.NewService(cfg.Export.Endpoint, cfg.Export.Dir)

	pollInterval := time.Duration(cfg.Batch.PollIntervalSec) * time.Second
	lookback := time.Duration(cfg.Batch.RecoveryLookbackHours) * time.Hour

	watcher := poller.New(batchService, sqliteClient, defaultAccountID,
		poller.WithInterval(pollInterval),
		poller.WithLookback(lookback),
		poller.WithOnTerminal(func(run *models.BatchRun) {
			if cacheClient == nil {
				return
			}
			if err := cacheClient.InvalidateAccount(context.Background(), run.AccountID); err != nil {
				appLogger.Warn("Failed to invalidate view cache", zap.Error(err))
			}
		}),
	)
	defer watcher.Stop()

	if err := watcher.Resume(context.Background()); err != nil {
		appLogger.Warn("Failed to resume run watcher", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.GetLogger()})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	viewTTL := time.Duration(cfg.Redis.ViewTTL) * time.Second
	visibilityHandler := handlers.NewVisibilityHandler(defaultAccountID, fetcher, cacheClient, viewTTL)
	batchHandler := handlers.NewBatchHandler(defaultAccountID, batchService, watcher)
	streamHandler := handlers.NewRunStreamHandler(defaultAccountID, batchService, pollInterval)
	exportHandler := handlers.NewExportHandler(defaultAccountID, exportService)

	api := app.Group("/api/v1")

	api.Get("/visibility", visibilityHandler.HandleView)

	api.Post("/checks/start", batchHandler.HandleStart)
	api.Get("/checks/status", batchHandler.HandleStatus)
	api.Post("/checks/retry", batchHandler.HandleRetry)
	api.Get("/checks/notification", batchHandler.HandleNotification)
	api.Post("/checks/dismiss", batchHandler.HandleDismiss)

	api.Get("/checks/live", websocket.New(streamHandler.HandleConnection))

	api.Post("/export", exportHandler.HandleExport)

	api.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
