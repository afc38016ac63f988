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
	Redis     RedisConfig     `yaml:"redis"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Reclaimer ReclaimerConfig `yaml:"reclaimer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
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
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig holds the queue cache connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	OpTimeout    time.Duration `yaml:"op_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
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

// QueueConfig holds the optional audit queue bound to the exchange
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	BindingKey string `yaml:"binding_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Timeout           time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// DispatchConfig tunes the assignment coordinator and refill pool
type DispatchConfig struct {
	BufferSize          int           `yaml:"buffer_size"`
	LowWaterMark        int           `yaml:"low_water_mark"`
	MaxDiscardsPerQueue int           `yaml:"max_discards_per_queue"`
	RefillWorkers       int           `yaml:"refill_workers"`
	RefillBacklog       int           `yaml:"refill_backlog"`
	RefillTimeout       time.Duration `yaml:"refill_timeout"`
	ZoneCacheTTL        time.Duration `yaml:"zone_cache_ttl"`
	PriorityFile        string        `yaml:"priority_file"`
	PriorityTTL         time.Duration `yaml:"priority_ttl"`
}

// ReclaimerConfig holds the stale-assignment sweep schedule
type ReclaimerConfig struct {
	Lease           time.Duration `yaml:"lease"`
	Interval        time.Duration `yaml:"interval"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	RebuildInterval time.Duration `yaml:"rebuild_interval"`
	RebuildLockTTL  time.Duration `yaml:"rebuild_lock_ttl"`
	SweepTimeout    time.Duration `yaml:"sweep_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig holds the Prometheus settings
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	// Port serves /metrics for services without an HTTP API. 0 disables it.
	Port int `yaml:"port"`
}

// Load reads and parses the configuration file and fills in defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills every unset duration and size with its default
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, 10*time.Second)
	setDuration(&c.Server.WriteTimeout, 10*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	setString(&c.Database.SSLMode, "disable")
	setDuration(&c.Database.QueryTimeout, 3*time.Second)

	setString(&c.Redis.Addr, "localhost:6379")
	setDuration(&c.Redis.OpTimeout, 200*time.Millisecond)

	setString(&c.RabbitMQ.Exchange.Type, "topic")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDuration(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDuration(&c.RabbitMQ.Publish.Timeout, 2*time.Second)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "json")
	setString(&c.Logging.Output, "stdout")

	setInt(&c.Dispatch.BufferSize, 500)
	setInt(&c.Dispatch.LowWaterMark, 100)
	setInt(&c.Dispatch.MaxDiscardsPerQueue, 50)
	setInt(&c.Dispatch.RefillWorkers, 4)
	setInt(&c.Dispatch.RefillBacklog, 256)
	setDuration(&c.Dispatch.RefillTimeout, 10*time.Second)
	setDuration(&c.Dispatch.PriorityTTL, 5*time.Minute)

	setDuration(&c.Reclaimer.Lease, 30*time.Minute)
	setDuration(&c.Reclaimer.Interval, 15*time.Minute)
	setDuration(&c.Reclaimer.LockTTL, 5*time.Minute)
	setDuration(&c.Reclaimer.RebuildLockTTL, 20*time.Minute)
	setDuration(&c.Reclaimer.SweepTimeout, 5*time.Minute)
	setDuration(&c.Reclaimer.ShutdownTimeout, 30*time.Second)

	setString(&c.Metrics.Namespace, "cati")
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setInt(i *int, def int) {
	if *i <= 0 {
		*i = def
	}
}

func setString(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Dispatch.PriorityFile == "" {
		return fmt.Errorf("dispatch priority_file is required")
	}

	if c.Dispatch.LowWaterMark > c.Dispatch.BufferSize {
		return fmt.Errorf("dispatch low_water_mark (%d) must not exceed buffer_size (%d)", c.Dispatch.LowWaterMark, c.Dispatch.BufferSize)
	}

	return nil
}

// ValidateReclaimerConfig checks the settings the reclaimer service needs
func (c *Config) ValidateReclaimerConfig() error {
	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Dispatch.PriorityFile == "" {
		return fmt.Errorf("dispatch priority_file is required")
	}

	if c.Reclaimer.Lease <= 0 {
		return fmt.Errorf("reclaimer lease must be greater than 0")
	}

	if c.Reclaimer.Interval <= 0 {
		return fmt.Errorf("reclaimer interval must be greater than 0")
	}

	if c.Reclaimer.Interval > c.Reclaimer.Lease {
		return fmt.Errorf("reclaimer interval (%s) must not exceed lease (%s)", c.Reclaimer.Interval, c.Reclaimer.Lease)
	}

	if c.Reclaimer.RebuildInterval < 0 {
		return fmt.Errorf("reclaimer rebuild_interval must not be negative")
	}

	if c.Metrics.Port != 0 && (c.Metrics.Port < MinPort || c.Metrics.Port > MaxPort) {
		return fmt.Errorf("invalid metrics port: %d (must be between %d and %d)", c.Metrics.Port, MinPort, MaxPort)
	}

	return nil
}

func (c *Config) validateBackends() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if !c.RabbitMQ.Enabled {
		return nil
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

	return nil
}
