package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dancegen/api/internal/client"
	"github.com/dancegen/api/internal/config"
	"github.com/dancegen/api/internal/events"
	"github.com/dancegen/api/internal/handler"
	"github.com/dancegen/api/internal/logging"
	"github.com/dancegen/api/internal/progress"
	"github.com/dancegen/api/internal/registry"
	"github.com/dancegen/api/internal/service"
	"github.com/dancegen/api/internal/storage"
	ws "github.com/dancegen/api/internal/websocket"
	"github.com/dancegen/api/internal/worker"
	"github.com/dancegen/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logging.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	store, err := storage.NewArtifactStore(cfg.Storage.Root)
	if err != nil {
		zlog.Fatal("failed to prepare storage", zap.Error(err))
	}

	bg, stop := context.WithCancel(context.Background())
	defer stop()

	// Redis backs the asynq queue and the optional event stream
	var redisClient *redis.Client
	if cfg.Dispatch.Mode == "asynq" || cfg.Redis.EventsEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(bg).Err(); err != nil {
			zlog.Warn("redis not available", zap.Error(err))
		}
	}

	// Initialize WebSocket hub
	hub := ws.NewHub(zlog)
	go hub.Run(bg)

	sinks := []registry.Option{registry.WithSink(hub)}
	if cfg.Redis.EventsEnabled {
		sink := events.NewRedisSink(redisClient, cfg.Redis.EventsChannel, zlog)
		go sink.Run(bg)
		sinks = append(sinks, registry.WithSink(sink))
	}
	jobs := registry.New(sinks...)

	// External tools
	transcoder := client.NewFFmpeg(&cfg.Transcoder)

	backend, modelCheck, err := newMotionBackend(&cfg.Generation)
	if err != nil {
		zlog.Fatal("failed to configure generation backend", zap.Error(err))
	}
	invoker := client.NewInvoker(backend, cfg.Generation.Checkpoint, time.Duration(cfg.Generation.Timeout)*time.Second)

	var exporter client.Exporter
	if cfg.Export.Enabled {
		fbx, err := client.NewFBXExporter(&cfg.Export)
		if err != nil {
			zlog.Warn("animation export disabled", zap.Error(err))
		} else {
			exporter = fbx
		}
	}

	var mirror storage.ObjectMirror
	if cfg.R2.Enabled() {
		r2, err := storage.NewR2Mirror(&cfg.R2)
		if err != nil {
			zlog.Warn("artifact mirroring disabled", zap.Error(err))
		} else {
			mirror = r2
		}
	}

	estimator := progress.NewEstimator(jobs, cfg.Generation.ProgressTick(), zlog)
	orchestrator := service.NewOrchestrator(jobs, store, transcoder, invoker, exporter, mirror, estimator,
		service.OrchestratorConfig{
			EstimateDuration: cfg.Generation.EstimateDuration(),
			ExportEnabled:    exporter != nil,
		}, zlog)

	// Dispatch
	var (
		dispatcher service.Dispatcher
		shutdown   func(context.Context) error
	)
	switch cfg.Dispatch.Mode {
	case "asynq":
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()

		queue := worker.QueueName(cfg.Dispatch.Instance)
		srv := startWorkerServer(cfg, redisOpt, queue, orchestrator, zlog)
		dispatcher = worker.NewAsynqDispatcher(asynqClient, queue)
		shutdown = func(context.Context) error {
			srv.Shutdown()
			return nil
		}
	default:
		local := worker.NewLocalDispatcher(orchestrator, cfg.Dispatch.Concurrency, zlog)
		dispatcher = local
		shutdown = local.Shutdown
	}

	checks := map[string]service.ServiceCheck{
		"transcoder": func(context.Context) bool { return transcoder.Available() },
		"model":      modelCheck,
		"export": func(context.Context) bool {
			return exporter != nil && exporter.Available()
		},
		"mirror": func(context.Context) bool { return mirror != nil },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) bool {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err() == nil
		}
	}

	// Initialize services
	danceService := service.NewDanceService(jobs, store, dispatcher, mirror, checks, zlog)
	uploadMax := int64(cfg.Storage.UploadMaxMB) << 20
	uploadService := service.NewUploadService(store, uploadMax)

	// Initialize handlers
	validate := validator.New()
	routes := &handler.Routes{
		Dance:      handler.NewDanceHandler(danceService, validate),
		Upload:     handler.NewUploadHandler(uploadService, uploadMax),
		Hub:        hub,
		Jobs:       danceService,
		OutputsDir: store.Dirs().Outputs,
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB << 20,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	handler.Register(app, cfg.Server.RoutePrefix, routes)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("server shutdown error", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	zlog.Info("server starting",
		zap.String("addr", addr),
		zap.String("prefix", cfg.Server.RoutePrefix),
		zap.String("backend", backend.Name()),
		zap.String("dispatch", cfg.Dispatch.Mode),
		zap.String("instance", cfg.Dispatch.Instance),
	)
	if err := app.Listen(addr); err != nil {
		zlog.Error("server error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		zlog.Warn("jobs still running at shutdown", zap.Error(err))
	}
}

// newMotionBackend selects the model integration and its health probe.
func newMotionBackend(cfg *config.GenerationConfig) (client.MotionBackend, service.ServiceCheck, error) {
	switch cfg.Backend {
	case "mock", "":
		return client.NewMockBackend(2 * time.Second), func(context.Context) bool { return true }, nil
	case "command":
		b, err := client.NewCommandBackend(cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, func(context.Context) bool { return b.Available() }, nil
	case "http":
		b := client.NewHTTPBackend(cfg)
		return b, func(ctx context.Context) bool { return b.HealthCheck(ctx) == nil }, nil
	}
	return nil, nil, errors.New("unknown generation backend: " + cfg.Backend)
}

// startWorkerServer consumes this process's own queue only.
func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, queue string, runner worker.JobRunner, zlog *zap.Logger) *asynq.Server {
	concurrency := cfg.Dispatch.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Logger:      zlog.Named("asynq").Sugar(),
		LogLevel:    asynqLogLevel(cfg.Server.LogLevel),
		Queues: map[string]int{
			queue: 1,
		},
	})

	danceWorker := worker.NewDanceWorker(runner, zlog)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeDance, danceWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		zlog.Fatal("asynq worker failed to start", zap.Error(err))
	}
	return srv
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch logging.ParseLevel(level) {
	case zapcore.DebugLevel:
		return asynq.DebugLevel
	case zapcore.InfoLevel:
		return asynq.InfoLevel
	case zapcore.WarnLevel:
		return asynq.WarnLevel
	case zapcore.ErrorLevel:
		return asynq.ErrorLevel
	}
	return asynq.FatalLevel
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
		errCode = response.CodeValidationError
	}

	return response.Error(c, code, errCode, message, nil)
}
