package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/signature"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMemory   = "memory"
)

// Environment variables that override secrets from the config file
const (
	EnvDatabasePassword  = "DATABASE_PASSWORD"
	EnvRabbitMQPassword  = "RABBITMQ_PASSWORD"
	EnvCurrentSigningKey = "QUEUE_CURRENT_SIGNING_KEY"
	EnvNextSigningKey    = "QUEUE_NEXT_SIGNING_KEY"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	Signing  SigningConfig  `yaml:"signing"`
	Worker   WorkerConfig   `yaml:"worker"`
	Relay    RelayConfig    `yaml:"relay"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
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
	Driver          string        `yaml:"driver"`
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
	Migrate         bool          `yaml:"migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	DelayQueue string           `yaml:"delay_queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
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

// DeadLetterConfig names the exchange and queue for jobs that ran out of retries
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
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
	Confirms          bool          `yaml:"confirms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// SigningConfig holds the push signature keys
type SigningConfig struct {
	CurrentKey string        `yaml:"current_key"`
	NextKey    string        `yaml:"next_key"`
	Issuer     string        `yaml:"issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// WorkerConfig holds worker endpoint configuration
type WorkerConfig struct {
	// PublicBaseURL is the scheme and host the relay posts to
	PublicBaseURL string `yaml:"public_base_url"`
	// MaxBodyBytes caps a push request body, 0 uses the worker default
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// RelayConfig holds relay service configuration
type RelayConfig struct {
	TargetBaseURL   string        `yaml:"target_base_url"`
	Concurrency     int           `yaml:"concurrency"`
	PrefetchCount   int           `yaml:"prefetch_count"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Port serves metrics on a separate listener; 0 disables it (relay only)
	Port int `yaml:"port"`
}

// Load reads and parses the configuration file, applies environment
// overrides and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv()
	config.ApplyDefaults()

	return &config, nil
}

// ApplyEnv overrides secrets with environment variables when they are set
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabasePassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvRabbitMQPassword); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv(EnvCurrentSigningKey); v != "" {
		c.Signing.CurrentKey = v
	}
	if v := os.Getenv(EnvNextSigningKey); v != "" {
		c.Signing.NextKey = v
	}
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, 10*time.Second)
	// Worker requests run the job handler inline, so this must outlast the longest job timeout
	setDuration(&c.Server.WriteTimeout, 150*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	setString(&c.Database.Driver, DriverPostgres)
	setString(&c.Database.SSLMode, "disable")

	setString(&c.RabbitMQ.VHost, "/")
	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setString(&c.RabbitMQ.RoutingKey, "jobs")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setInt(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDuration(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)
	if c.RabbitMQ.Publish.BackoffMultiplier <= 0 {
		c.RabbitMQ.Publish.BackoffMultiplier = 2.0
	}
	if c.RabbitMQ.Queue.Name != "" {
		setString(&c.RabbitMQ.DelayQueue, c.RabbitMQ.Queue.Name+"_delay")
	}

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")
	setString(&c.Logging.Output, "stdout")

	setString(&c.Signing.Issuer, signature.DefaultIssuer)
	setDuration(&c.Signing.TokenTTL, 5*time.Minute)

	setInt(&c.Relay.Concurrency, 4)
	setInt(&c.Relay.PrefetchCount, c.Relay.Concurrency)
	setDuration(&c.Relay.RequestTimeout, 30*time.Second)
	setDuration(&c.Relay.InitialBackoff, time.Second)
	setDuration(&c.Relay.MaxBackoff, 10*time.Minute)
	setDuration(&c.Relay.ShutdownTimeout, 30*time.Second)

	setString(&c.Metrics.Path, "/metrics")
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverPgx, "":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database driver: %q (must be %s, %s or %s)", c.Database.Driver, DriverPostgres, DriverPgx, DriverMemory)
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

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.DeadLetter.Queue != "" && c.RabbitMQ.DeadLetter.Exchange == "" {
		return fmt.Errorf("rabbitmq dead_letter exchange is required when dead_letter queue is set")
	}

	if c.Signing.CurrentKey == "" {
		return fmt.Errorf("signing current_key is required (or set %s)", EnvCurrentSigningKey)
	}

	if c.Signing.TokenTTL < 0 || c.Signing.ClockSkew < 0 {
		return fmt.Errorf("signing token_ttl and clock_skew must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.PublicBaseURL != "" && !isHTTPURL(c.Worker.PublicBaseURL) {
		return fmt.Errorf("worker public_base_url must start with http:// or https://")
	}

	if c.Worker.MaxBodyBytes < 0 {
		return fmt.Errorf("worker max_body_bytes cannot be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

// ValidateRelayConfig checks the settings the relay service needs
func (c *Config) ValidateRelayConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Relay.TargetBaseURL == "" {
		return fmt.Errorf("relay target_base_url is required")
	}

	if !isHTTPURL(c.Relay.TargetBaseURL) {
		return fmt.Errorf("relay target_base_url must start with http:// or https://")
	}

	if c.Relay.Concurrency <= 0 {
		return fmt.Errorf("relay concurrency must be greater than 0")
	}

	if c.Relay.PrefetchCount <= 0 {
		return fmt.Errorf("relay prefetch_count must be greater than 0")
	}

	if c.Relay.RequestTimeout <= 0 {
		return fmt.Errorf("relay request_timeout must be greater than 0")
	}

	if c.Relay.InitialBackoff <= 0 || c.Relay.MaxBackoff < c.Relay.InitialBackoff {
		return fmt.Errorf("relay backoff must satisfy 0 < initial_backoff <= max_backoff")
	}

	if c.RabbitMQ.DelayQueue == "" {
		return fmt.Errorf("rabbitmq delay_queue is required for retries")
	}

	if c.RabbitMQ.DeadLetter.Exchange == "" {
		return fmt.Errorf("rabbitmq dead_letter exchange is required for exhausted jobs")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

func setDuration(field *time.Duration, value time.Duration) {
	if *field == 0 {
		*field = value
	}
}
