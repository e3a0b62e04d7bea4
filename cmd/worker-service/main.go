package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zflow/zflow/internal/config"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/queue/brokers"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/internal/whatsapp"
	"github.com/zflow/zflow/internal/worker"
	"github.com/zflow/zflow/internal/worker/storage"
	"github.com/zflow/zflow/shared/database"
	"github.com/zflow/zflow/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_backend", cfg.Queue.Backend),
	)

	// Initialize database client
	dbClient, err := database.NewClient(cfg.Database.ClientConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.EnsureSchema {
		if err := dbClient.EnsureSchema(context.Background()); err != nil {
			return err
		}
	}

	broker, err := brokers.New(cfg, appLogger.Logger)
	if err != nil {
		return err
	}

	queueOpts := queue.WithOptions(queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.Backoff,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	// Follow-up jobs (campaign batches, scheduled cleanups) go through a
	// producer-only manager so processors never depend on their own consumer.
	producer := queue.NewManager(broker, appLogger.Logger, queue.Registry(queue.Processors{}),
		queue.WithoutWorkers(), queueOpts)
	if err := producer.InitQueues(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize producer queues: %w", err)
	}
	defer producer.CloseQueues()

	events, closeEvents, err := initPublisher(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	w := worker.NewWorker(&worker.Config{
		Logger:  appLogger.Logger,
		Storage: storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Sender: whatsapp.NewCloudSender(whatsapp.Config{
			APIURL:        cfg.WhatsApp.APIURL,
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			Timeout:       cfg.WhatsApp.Timeout,
		}, appLogger.Logger),
		Events:       events,
		Enqueuer:     producer,
		DispatchRate: cfg.Worker.DispatchRate,
		BatchSize:    cfg.Worker.DispatchBatchSize,
		StaleAfter:   cfg.Worker.StaleAfter,
	})

	consumer := queue.NewManager(broker, appLogger.Logger, queue.Registry(w.Processors()), queueOpts)
	if err := consumer.InitQueues(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize worker queues: %w", err)
	}

	appLogger.Info("Worker queues consuming", slog.Int("queues", len(consumer.GetAllQueues())))

	scheduler, err := worker.NewScheduler(cfg.Worker.CleanupCron, producer, appLogger.Logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	appLogger.Info("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down worker service...")

	scheduler.Stop()

	done := make(chan error, 1)
	go func() { done <- consumer.CloseQueues() }()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Failed to close worker queues", slog.Any("error", err))
		}
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, in-flight jobs abandoned",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	appLogger.Info("Worker service stopped")
	return nil
}

// initPublisher returns where job events go. Only the RabbitMQ backend can
// reach the API hubs; otherwise events are logged.
func initPublisher(cfg *config.Config, logger *slog.Logger) (realtime.Publisher, func(), error) {
	if cfg.Queue.Backend != config.QueueBackendRabbitMQ {
		return realtime.NewLocalBus(func(e realtime.Event) {
			logger.Debug("Realtime event",
				slog.String("event", e.Name),
				slog.String("tenant_id", e.TenantID),
			)
		}), func() {}, nil
	}

	base := cfg.RabbitMQ.ClientConfig()
	base.ExchangeName = cfg.Realtime.Exchange

	bus, err := realtime.NewAMQPBus(base, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize realtime bus: %w", err)
	}
	return bus, func() { bus.Close() }, nil
}
