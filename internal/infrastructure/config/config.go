package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cassiomorais/payouts/internal/domain/masspay"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Payout        PayoutConfig        `mapstructure:"payout"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	CORS              CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
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

	// SlowQueryThreshold enables slow query logging when positive.
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// ProviderConfig selects the disbursement provider and holds its API credentials.
type ProviderConfig struct {
	Name        string        `mapstructure:"name"`
	Environment string        `mapstructure:"environment"`
	Endpoint    string        `mapstructure:"endpoint"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	Signature   string        `mapstructure:"signature"`
	APIVersion  string        `mapstructure:"api_version"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts uint          `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type PayoutConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
}

type WorkerConfig struct {
	BatchSize     int64         `mapstructure:"batch_size"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	ConsumerGroup string        `mapstructure:"consumer_group"`

	// SweepInterval is how often pending payouts and idle stream entries are recovered.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	ReclaimIdle   time.Duration `mapstructure:"reclaim_idle"`
	SweepLimit    int           `mapstructure:"sweep_limit"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PAYOUTS_PROVIDER_USERNAME overrides provider.username, and so on.
	v.SetEnvPrefix("PAYOUTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payouts")

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
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Payout.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("payout.lock_ttl must be positive"))
	}
	if c.Payout.ChunkSize <= 0 || c.Payout.ChunkSize > masspay.MaxRecipientsPerCall {
		errs = append(errs, fmt.Errorf("payout.chunk_size must be between 1 and %d, got %d", masspay.MaxRecipientsPerCall, c.Payout.ChunkSize))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.sweep_interval must be positive"))
	}

	switch c.Provider.Name {
	case "mock":
	case "paypal":
		if c.Provider.Environment != "sandbox" && c.Provider.Environment != "production" {
			errs = append(errs, fmt.Errorf("provider.environment must be sandbox or production, got %q", c.Provider.Environment))
		}
		if c.Provider.Username == "" || c.Provider.Password == "" || c.Provider.Signature == "" {
			errs = append(errs, fmt.Errorf("provider.username, provider.password and provider.signature are required for paypal"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.name must be paypal or mock, got %q", c.Provider.Name))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Provider.Name == "mock" {
			errs = append(errs, fmt.Errorf("provider.name cannot be mock in production"))
		}
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.requests_per_minute", 120)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payouts")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "payouts")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.slow_query_threshold", "500ms")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Provider defaults
	v.SetDefault("provider.name", "mock")
	v.SetDefault("provider.environment", "sandbox")
	v.SetDefault("provider.endpoint", "")
	v.SetDefault("provider.username", "")
	v.SetDefault("provider.password", "")
	v.SetDefault("provider.signature", "")
	v.SetDefault("provider.api_version", "98.0")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.retry_delay", "500ms")

	// Payout defaults
	v.SetDefault("payout.chunk_size", masspay.MaxRecipientsPerCall)
	v.SetDefault("payout.max_retries", 3)
	v.SetDefault("payout.lock_ttl", "60s")
	v.SetDefault("payout.processing_timeout", "120s")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "payout-submitters")
	v.SetDefault("worker.sweep_interval", "30s")
	v.SetDefault("worker.stale_after", "2m")
	v.SetDefault("worker.reclaim_idle", "5m")
	v.SetDefault("worker.sweep_limit", 100)

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("instance_id", "payouts-1")
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
