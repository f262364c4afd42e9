package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Transaction   TransactionConfig   `mapstructure:"transaction"`
	Streaming     StreamingConfig     `mapstructure:"streaming"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// StoreConfig selects the record store driver: memory, redis or postgres.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// QueueConfig selects the dispatch queue driver: memory or redis.
type QueueConfig struct {
	Driver        string        `mapstructure:"driver"`
	Stream        string        `mapstructure:"stream"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	BufferSize    int           `mapstructure:"buffer_size"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

// TransactionConfig holds the lifecycle policy. The backoff formula is
// linear: nextRetryAt = now + retry_delay * attempt.
type TransactionConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	Workers           int           `mapstructure:"workers"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
}

type StreamingConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TerminalGrace     time.Duration `mapstructure:"terminal_grace"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("DEPLOYTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/deploytrack")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}

	switch c.Store.Driver {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, redis or postgres, got %q", c.Store.Driver))
	}
	switch c.Queue.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("queue.driver must be memory or redis, got %q", c.Queue.Driver))
	}

	if c.Store.Driver == "redis" || c.Queue.Driver == "redis" {
		if c.Redis.Port <= 0 {
			errs = append(errs, fmt.Errorf("redis.port must be positive"))
		}
	}
	if c.Store.Driver == "postgres" {
		if c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive"))
		}
	}

	if c.Transaction.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transaction.max_retries must not be negative"))
	}
	if c.Transaction.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("transaction.retry_delay must not be negative"))
	}
	if c.Transaction.Workers <= 0 {
		errs = append(errs, fmt.Errorf("transaction.workers must be positive"))
	}
	if c.Streaming.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("streaming.heartbeat_interval must be positive"))
	}
	if c.Streaming.TerminalGrace < 0 {
		errs = append(errs, fmt.Errorf("streaming.terminal_grace must not be negative"))
	}
	if c.Queue.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("queue.batch_size must be positive"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Store defaults
	v.SetDefault("store.driver", "memory")

	// Queue defaults
	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.stream", "transactions:dispatch")
	v.SetDefault("queue.consumer_group", "transaction-workers")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.block_duration", "1s")
	v.SetDefault("queue.buffer_size", 1024)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "deploytrack")
	v.SetDefault("database.database", "deploytrack")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Transaction defaults
	v.SetDefault("transaction.max_retries", 3)
	v.SetDefault("transaction.retry_delay", "5s")
	v.SetDefault("transaction.workers", 4)
	v.SetDefault("transaction.processing_timeout", "60s")

	// Streaming defaults
	v.SetDefault("streaming.heartbeat_interval", "30s")
	v.SetDefault("streaming.terminal_grace", "1s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Instance ID
	v.SetDefault("instance_id", "deploytrack-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
