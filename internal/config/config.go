package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Blobstore BlobstoreConfig `yaml:"blobstore"`
	Source    SourceConfig    `yaml:"source"`
	Modules   []ModuleConfig  `yaml:"modules"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Watcher   WatcherConfig   `yaml:"watcher"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	User           string           `yaml:"user"`
	Password       string           `yaml:"password"`
	VHost          string           `yaml:"vhost"`
	Exchange       ExchangeConfig   `yaml:"exchange"`
	Queue          QueueConfig      `yaml:"queue"`
	BindingKey     string           `yaml:"binding_key"`
	FunctionPrefix string           `yaml:"function_prefix"`
	Connection     ConnectionConfig `yaml:"connection"`
	Publish        PublishConfig    `yaml:"publish"`
	Consumer       ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// BlobstoreConfig holds the object-store connection and bucket names
type BlobstoreConfig struct {
	Endpoint         string `yaml:"endpoint"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	UseSSL           bool   `yaml:"use_ssl"`
	CDNBucket        string `yaml:"cdn_bucket"`
	PreconvertBucket string `yaml:"preconvert_bucket"`
}

// SourceConfig binds the pipeline to its repository host and public URLs
type SourceConfig struct {
	TrustedOrigin string `yaml:"trusted_origin"`
	APIURL        string `yaml:"api_url"`
	SourceURLBase string `yaml:"source_url_base"`
	CDNURLBase    string `yaml:"cdn_url_base"`
}

// ModuleConfig describes one registered converter or linter
type ModuleConfig struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	InputFormats  []string `yaml:"input_formats"`
	OutputFormats []string `yaml:"output_formats"`
	ResourceTypes []string `yaml:"resource_types"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WatcherConfig holds watcher service configuration
type WatcherConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxWait     time.Duration `yaml:"poll_max_wait"`
	LintLogRetries  uint64        `yaml:"lint_log_retries"`
	LintLogInterval time.Duration `yaml:"lint_log_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateCommon covers the sections both services require.
func (c *Config) validateCommon() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.Blobstore.Endpoint == "" {
		return fmt.Errorf("blobstore endpoint is required")
	}

	if c.Blobstore.CDNBucket == "" {
		return fmt.Errorf("blobstore cdn_bucket is required")
	}

	return nil
}

// ValidateAPIConfig checks the configuration for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.Blobstore.PreconvertBucket == "" {
		return fmt.Errorf("blobstore preconvert_bucket is required")
	}

	if c.Source.TrustedOrigin == "" {
		return fmt.Errorf("source trusted_origin is required")
	}

	if c.Source.APIURL == "" {
		return fmt.Errorf("source api_url is required")
	}

	if len(c.Modules) == 0 {
		return fmt.Errorf("at least one converter or linter module is required")
	}

	return nil
}

// ValidateWatcherConfig checks the configuration for the watcher service
func (c *Config) ValidateWatcherConfig() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Watcher.Concurrency <= 0 {
		return fmt.Errorf("watcher concurrency must be greater than 0")
	}

	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher poll_interval must be greater than 0")
	}

	if c.Watcher.ShutdownTimeout <= 0 {
		return fmt.Errorf("watcher shutdown_timeout must be greater than 0")
	}

	return nil
}
