package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/extendamix/api/internal/client"
	"github.com/extendamix/api/internal/config"
	"github.com/extendamix/api/internal/handler"
	"github.com/extendamix/api/internal/middleware"
	"github.com/extendamix/api/internal/pathsafe"
	"github.com/extendamix/api/internal/registry"
	"github.com/extendamix/api/internal/service"
	"github.com/extendamix/api/internal/store"
	"github.com/extendamix/api/internal/upload"
	ws "github.com/extendamix/api/internal/websocket"
	"github.com/extendamix/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Core components
	pathValidator := pathsafe.New(cfg.Media.Root, nil)
	reg := registry.New(pathValidator)
	trackStore := store.NewRedisTrackStore(redisClient)
	audioClient := client.NewAudioClient(&cfg.Audio)

	if err := os.MkdirAll(cfg.Upload.StagingDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload staging dir: %v", err)
	}
	tracker := upload.NewTracker(cfg.Upload.MaxBytes, pathValidator)

	// Initialize services
	extendService := service.NewExtendService(reg, asynqClient, hub)
	uploadService := service.NewUploadService(tracker, cfg.Upload.StagingDir)

	// Initialize handlers
	extendHandler := handler.NewExtendHandler(extendService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxBytes),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"audio": audioClient.IsConfigured(),
			},
			"jobs": reg.Len(),
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Extend routes
	extend := api.Group("/extend")
	extend.Post("/start", rateLimiter.ExtendLimit(cfg.RateLimit.ExtendPerHour), extendHandler.Start)
	extend.Get("/status/:jobId", extendHandler.Status)
	extend.Post("/cancel/:jobId", extendHandler.Cancel)

	// Upload routes
	up := api.Group("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour))
	up.Post("/init", uploadHandler.Init)
	up.Post("/:uploadId/chunk", uploadHandler.Chunk)
	up.Get("/:uploadId/progress", uploadHandler.Progress)
	up.Post("/:uploadId/complete", uploadHandler.Complete)
	up.Delete("/:uploadId", uploadHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/updates", websocket.New(func(c *websocket.Conn) {
		claims, err := authMiddleware.VerifyToken(c.Query("token"))
		if err != nil {
			c.Close()
			return
		}
		hub.HandleConnection(c, claims.UserID, false)
	}))

	app.Get("/ws/firehose", websocket.New(func(c *websocket.Conn) {
		if _, err := authMiddleware.VerifyToken(c.Query("token")); err != nil {
			c.Close()
			return
		}
		hub.HandleConnection(c, "", true)
	}))

	// Start the cleanup sweeper
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := registry.NewSweeper(reg,
		time.Duration(cfg.Jobs.SweepIntervalMin)*time.Minute,
		time.Duration(cfg.Jobs.RetentionMin)*time.Minute,
	)
	go sweeper.Run(sweepCtx)

	// Start Asynq worker server
	extendWorker := worker.NewExtendWorker(reg, audioClient, trackStore, hub)
	asynqServer := newWorkerServer(cfg)
	go runWorkerServer(asynqServer, extendWorker)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	// Drain background work, then mark anything still tracked as failed so
	// no job is left dangling in active across a restart.
	asynqServer.Shutdown()
	stopSweeper()
	if failed := reg.Shutdown("Server shutdown"); len(failed) > 0 {
		log.Printf("Force-failed %d unfinished jobs on shutdown", len(failed))
	}
}

func newWorkerServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueHigh:    6,
				service.QueueDefault: 3,
				service.QueueLow:     1,
			},
		},
	)
}

func runWorkerServer(srv *asynq.Server, extendWorker *worker.ExtendWorker) {
	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeExtend, extendWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
