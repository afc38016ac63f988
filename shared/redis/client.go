package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultOpTimeout bounds a single cache operation when none is configured
const DefaultOpTimeout = 200 * time.Millisecond

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	OpTimeout    time.Duration
}

// Client represents a Redis client shared by the queue cache, the priority cache and job locks
type Client struct {
	rdb    goredis.UniversalClient
	config *Config
	logger *slog.Logger
}

// NewClient creates a new Redis client.
// An unreachable server is logged but not fatal: callers treat the cache as a miss.
func NewClient(config *Config, logger *slog.Logger) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	client := &Client{
		rdb:    rdb,
		config: config,
		logger: logger,
	}

	logger.Info("Connecting to Redis",
		slog.String("addr", config.Addr),
		slog.Int("db", config.DB),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable at startup, queue cache will run degraded",
			slog.Any("error", err),
		)
	} else {
		logger.Info("Successfully connected to Redis")
	}

	return client
}

// NewFromUniversal wraps an existing go-redis client
func NewFromUniversal(rdb goredis.UniversalClient, opTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		rdb:    rdb,
		config: &Config{OpTimeout: opTimeout},
		logger: logger,
	}
}

// GetClient returns the underlying go-redis client
func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

// OpTimeout returns the per-operation timeout
func (c *Client) OpTimeout() time.Duration {
	if c.config.OpTimeout <= 0 {
		return DefaultOpTimeout
	}
	return c.config.OpTimeout
}

// Close closes the Redis connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")

	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis connection",
			slog.Any("error", err),
		)
		return err
	}

	c.logger.Info("Redis connection closed successfully")
	return nil
}

// HealthCheck performs a health check on Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
