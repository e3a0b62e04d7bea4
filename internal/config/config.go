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

// Queue backends
const (
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendRedis    = "redis"
	QueueBackendMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
	Upload   UploadConfig   `yaml:"upload"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig holds relational store connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

// RabbitMQConfig holds RabbitMQ connection settings shared by the job queues and the realtime bus
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration for job queues
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
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

// RedisConfig holds Redis connection settings for the redis queue backend
type RedisConfig struct {
	URI            string        `yaml:"uri"`
	Namespace      string        `yaml:"namespace"`
	MaxConnections int           `yaml:"max_connections"`
	MaxIdle        int           `yaml:"max_idle"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// QueueConfig selects the job queue engine and its retry policy
type QueueConfig struct {
	Backend     string        `yaml:"backend"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	BufferSize  int           `yaml:"buffer_size"` // memory backend only
}

// RealtimeConfig holds realtime event fan-out settings
type RealtimeConfig struct {
	Exchange     string        `yaml:"exchange"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// AuthConfig holds token lifetimes
type AuthConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// UploadConfig holds media upload settings
type UploadConfig struct {
	Dir       string `yaml:"dir"`
	PublicURL string `yaml:"public_url"`
	MaxSize   int64  `yaml:"max_size"`
}

// WhatsAppConfig holds WhatsApp Business API settings
type WhatsAppConfig struct {
	APIURL        string        `yaml:"api_url"`
	AccessToken   string        `yaml:"access_token"`
	PhoneNumberID string        `yaml:"phone_number_id"`
	Timeout       time.Duration `yaml:"timeout"`
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

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	JobTimeout        time.Duration `yaml:"job_timeout"`
	CleanupCron       string        `yaml:"cleanup_cron"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	DispatchRate      float64       `yaml:"dispatch_rate"` // messages per second
	DispatchBatchSize int           `yaml:"dispatch_batch_size"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file, then overlays ZFLOW_* variables
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	FromEnv(config)
	return config, nil
}

// Default returns the configuration used for fields absent from the file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		RabbitMQ: RabbitMQConfig{
			VHost:    "/",
			Exchange: ExchangeConfig{Name: "zflow.jobs", Type: "direct", Durable: true},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
		},
		Redis: RedisConfig{
			URI:            "redis://localhost:6379/",
			Namespace:      "zflow:",
			MaxConnections: 10,
			MaxIdle:        2,
			IdleTimeout:    240 * time.Second,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Queue: QueueConfig{
			Backend:     QueueBackendRabbitMQ,
			MaxAttempts: 3,
			Backoff:     5 * time.Second,
			BufferSize:  1000,
		},
		Realtime: RealtimeConfig{
			Exchange:     "zflow.events",
			WriteTimeout: 10 * time.Second,
			PingInterval: 25 * time.Second,
		},
		Auth: AuthConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			BcryptCost: 10,
		},
		Upload: UploadConfig{
			Dir:       "uploads",
			PublicURL: "/uploads",
			MaxSize:   16 << 20,
		},
		WhatsApp: WhatsAppConfig{
			APIURL:  "https://graph.facebook.com/v19.0",
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		Worker: WorkerConfig{
			JobTimeout:        60 * time.Second,
			CleanupCron:       "0 */15 * * * *",
			StaleAfter:        24 * time.Hour,
			DispatchRate:      20,
			DispatchBatchSize: 50,
			ShutdownTimeout:   30 * time.Second,
		},
	}
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres", "mysql", "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	switch c.Queue.Backend {
	case QueueBackendRabbitMQ:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	case QueueBackendRedis:
		if c.Redis.URI == "" {
			return fmt.Errorf("redis uri is required")
		}
	case QueueBackendMemory:
	default:
		return fmt.Errorf("unsupported queue backend: %s", c.Queue.Backend)
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max_attempts must be at least 1")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Auth.AccessTTL <= 0 {
		return fmt.Errorf("auth access_ttl must be greater than 0")
	}

	if c.Auth.RefreshTTL <= c.Auth.AccessTTL {
		return fmt.Errorf("auth refresh_ttl must be greater than access_ttl")
	}

	if c.Upload.Dir == "" {
		return fmt.Errorf("upload dir is required")
	}

	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload max_size must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.CleanupCron == "" {
		return fmt.Errorf("worker cleanup_cron is required")
	}

	if c.Worker.StaleAfter <= 0 {
		return fmt.Errorf("worker stale_after must be greater than 0")
	}

	if c.Worker.DispatchRate <= 0 {
		return fmt.Errorf("worker dispatch_rate must be greater than 0")
	}

	if c.Worker.DispatchBatchSize <= 0 {
		return fmt.Errorf("worker dispatch_batch_size must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
