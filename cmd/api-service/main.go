package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zflow/zflow/internal/api/auth"
	"github.com/zflow/zflow/internal/api/domain"
	"github.com/zflow/zflow/internal/api/handler"
	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/internal/api/router"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/internal/config"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/queue/brokers"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/shared/apperror"
	"github.com/zflow/zflow/shared/database"
	"github.com/zflow/zflow/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

type bootstrapFlags struct {
	tenant   string
	email    string
	password string
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")

	var boot bootstrapFlags
	flag.StringVar(&boot.tenant, "bootstrap-tenant", "", "Create this tenant with an admin user on startup")
	flag.StringVar(&boot.email, "bootstrap-email", "", "Email of the bootstrap admin")
	flag.StringVar(&boot.password, "bootstrap-password", os.Getenv("ZFLOW_BOOTSTRAP_PASSWORD"), "Password of the bootstrap admin")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.Logging.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
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
		appLogger.Info("Database schema ensured")
	}

	store := storage.NewStorage(dbClient)
	authService := auth.NewService(store, auth.Config{
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, appLogger.Logger)

	if boot.tenant != "" {
		if err := bootstrap(context.Background(), store, authService, boot, appLogger.Logger); err != nil {
			return fmt.Errorf("failed to bootstrap tenant: %w", err)
		}
	}

	// Producer side of the job queues
	broker, err := brokers.New(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	queues := queue.NewManager(broker, appLogger.Logger, queue.Registry(queue.Processors{}),
		queue.WithoutWorkers(),
		queue.WithOptions(queue.Options{MaxAttempts: cfg.Queue.MaxAttempts, Backoff: cfg.Queue.Backoff}),
	)
	if err := queues.InitQueues(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize queues: %w", err)
	}
	defer func() {
		if err := queues.CloseQueues(); err != nil {
			appLogger.Error("Failed to close queues", slog.Any("error", err))
		}
	}()

	// Realtime hub, fed by the bus
	hub := realtime.NewHub(appLogger.Logger, realtime.HubOptions{
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		PingInterval:   cfg.Realtime.PingInterval,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	defer hub.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	events, closeBus, err := initBus(ctx, cfg, hub, appLogger.Logger)
	if err != nil {
		return err
	}
	defer closeBus()

	// Initialize router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:   appLogger.Logger,
		DBClient: dbClient,
		Storage:  store,
		Auth:     authService,
		Queues:   queues,
		Events:   events,
		Hub:      hub,
		Upload: handler.UploadConfig{
			Dir:       cfg.Upload.Dir,
			PublicURL: cfg.Upload.PublicURL,
			MaxSize:   cfg.Upload.MaxSize,
		},
	}, router.Options{
		ServiceName:    cfg.App.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	appLogger.Info("Shutting down server...")

	// stop the bus first so no event races the hub teardown
	stop()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initBus returns the publisher handlers emit through. With RabbitMQ every
// API instance consumes the fanout exchange into its own hub.
func initBus(ctx context.Context, cfg *config.Config, hub *realtime.Hub, logger *slog.Logger) (realtime.Publisher, func(), error) {
	if cfg.Queue.Backend != config.QueueBackendRabbitMQ {
		logger.Info("Realtime events delivered in-process")
		return realtime.NewLocalBus(hub.Deliver), func() {}, nil
	}

	base := cfg.RabbitMQ.ClientConfig()
	base.ExchangeName = cfg.Realtime.Exchange

	bus, err := realtime.NewAMQPBus(base, logger)
	if err != nil {
		return nil, nil, err
	}

	go func() {
		if err := bus.Run(ctx, hub.Deliver); err != nil {
			logger.Error("Realtime bus stopped", slog.Any("error", err))
		}
	}()

	return bus, func() { bus.Close() }, nil
}

// bootstrap creates a tenant and its admin unless the email is taken
func bootstrap(ctx context.Context, store *storage.Storage, authService *auth.Service, boot bootstrapFlags, logger *slog.Logger) error {
	email := strings.ToLower(strings.TrimSpace(boot.email))
	if email == "" || boot.password == "" {
		return fmt.Errorf("bootstrap needs -bootstrap-email and -bootstrap-password")
	}

	if _, err := store.GetUserByEmail(ctx, email); err == nil {
		logger.Info("Bootstrap user already exists", slog.String("email", email))
		return nil
	} else if !apperror.IsNotFound(err) {
		return err
	}

	hash, err := authService.HashPassword(boot.password)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tenant := &model.Tenant{ID: uuid.New().String(), Name: boot.tenant, CreatedAt: now}
	if err := store.CreateTenant(ctx, tenant); err != nil {
		return err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		TenantID:     tenant.ID,
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return err
	}

	logger.Info("Bootstrapped tenant",
		slog.String("tenant_id", tenant.ID),
		slog.String("email", email),
	)
	return nil
}
