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

	"github.com/txsuite/pipeline-be/internal/callback"
	"github.com/txsuite/pipeline-be/internal/config"
	"github.com/txsuite/pipeline-be/internal/registry"
	"github.com/txsuite/pipeline-be/internal/storage"
	"github.com/txsuite/pipeline-be/internal/watcher"
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

	defaultConfigPath := os.Getenv("WATCHER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/watcher-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWatcherConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting watcher service",
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

	appLogger.Info("Blob store connection established")

	store := storage.NewStorage(dbClient)

	merger := callback.NewMerger(appLogger.Logger, callback.Config{
		LintLogRetries:  cfg.Watcher.LintLogRetries,
		LintLogInterval: cfg.Watcher.LintLogInterval,
		TrustedOrigin:   cfg.Source.TrustedOrigin,
	}, cdn, store)

	w := watcher.NewWatcher(&watcher.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Store:         cdn,
		Merger:        merger,
		Concurrency:   cfg.Watcher.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		PollInterval:  cfg.Watcher.PollInterval,
		PollMaxWait:   cfg.Watcher.PollMaxWait,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	appLogger.Info("Watcher service is running")

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down watcher...")
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Watcher stopped with error",
				slog.Any("error", err),
			)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Watcher.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Watcher shutdown complete")
	case <-shutdownCtx.Done():
		appLogger.Error("Watcher forced to shutdown, timeout exceeded")
	}

	if dbClient != nil {
		dbClient.Close()
	}
	if rabbitClient != nil {
		rabbitClient.Close()
	}

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

// initRabbitMQ initializes the RabbitMQ client with the watch queue bound
// to part-dispatched notices.
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	bindingKey := cfg.BindingKey
	if bindingKey == "" {
		bindingKey = registry.NoticeRoutingKey
	}

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
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		BindingKey:         bindingKey,
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
