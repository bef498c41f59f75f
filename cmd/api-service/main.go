package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/txsuite/pipeline-be/internal/api/handler"
	"github.com/txsuite/pipeline-be/internal/api/router"
	"github.com/txsuite/pipeline-be/internal/callback"
	"github.com/txsuite/pipeline-be/internal/config"
	"github.com/txsuite/pipeline-be/internal/jobid"
	"github.com/txsuite/pipeline-be/internal/registry"
	"github.com/txsuite/pipeline-be/internal/storage"
	"github.com/txsuite/pipeline-be/internal/webhook"
	"github.com/txsuite/pipeline-be/shared/blobstore"
	"github.com/txsuite/pipeline-be/shared/logger"
	"github.com/txsuite/pipeline-be/shared/postgresql"
	"github.com/txsuite/pipeline-be/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	blobClient, err := blobstore.NewClient(&blobstore.Config{
		Endpoint:  cfg.Blobstore.Endpoint,
		AccessKey: cfg.Blobstore.AccessKey,
		SecretKey: cfg.Blobstore.SecretKey,
		UseSSL:    cfg.Blobstore.UseSSL,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	cdn := blobClient.Bucket(cfg.Blobstore.CDNBucket)
	preconvert := blobClient.Bucket(cfg.Blobstore.PreconvertBucket)

	appLogger.Info("Blob store connection established")

	store := storage.NewStorage(dbClient)

	modules := make([]registry.Module, len(cfg.Modules))
	for i, m := range cfg.Modules {
		modules[i] = registry.Module{
			Name:          m.Name,
			Type:          m.Type,
			InputFormats:  m.InputFormats,
			OutputFormats: m.OutputFormats,
			ResourceTypes: m.ResourceTypes,
		}
	}
	directory := registry.New(modules)
	dispatcher := registry.NewDispatcher(appLogger.Logger, rabbitClient, cfg.RabbitMQ.FunctionPrefix)

	orchestrator := webhook.NewOrchestrator(
		appLogger.Logger,
		webhook.Config{
			TrustedOrigin: cfg.Source.TrustedOrigin,
			APIURL:        cfg.Source.APIURL,
			SourceURLBase: cfg.Source.SourceURLBase,
			CDNURLBase:    cfg.Source.CDNURLBase,
			CDNBucket:     cfg.Blobstore.CDNBucket,
		},
		store,
		cdn,
		preconvert,
		directory,
		dispatcher,
		jobid.NewGenerator(store),
	)

	merger := callback.NewMerger(appLogger.Logger, callback.Config{
		LintLogRetries:  cfg.Watcher.LintLogRetries,
		LintLogInterval: cfg.Watcher.LintLogInterval,
		TrustedOrigin:   cfg.Source.TrustedOrigin,
	}, cdn, store)

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:       appLogger.Logger,
		Storage:      store,
		Orchestrator: orchestrator,
		Merger:       merger,
	})

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

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client. The API service only
// publishes, so no queue is declared.
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
