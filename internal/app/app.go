// Package app wires configuration into the running assignment core.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cuongbtq/cati-assign/internal/assignment"
	"github.com/cuongbtq/cati-assign/internal/assignment/priority"
	"github.com/cuongbtq/cati-assign/internal/assignment/queue"
	"github.com/cuongbtq/cati-assign/internal/assignment/storage"
	"github.com/cuongbtq/cati-assign/internal/config"
	"github.com/cuongbtq/cati-assign/internal/events"
	"github.com/cuongbtq/cati-assign/internal/metrics"
	"github.com/cuongbtq/cati-assign/internal/reclaimer"
	"github.com/cuongbtq/cati-assign/shared/logger"
	"github.com/cuongbtq/cati-assign/shared/postgresql"
	"github.com/cuongbtq/cati-assign/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/cati-assign/shared/redis"
)

// Core holds the connected backends and the components built on them
type Core struct {
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	DB     *postgresql.Client
	Redis  *sharedredis.Client
	Rabbit *rabbitmq.Client

	Store       *storage.Storage
	Queue       *queue.Cache
	Priorities  *priority.Table
	Refiller    *assignment.Refiller
	Coordinator *assignment.Coordinator
	Reclaimer   *reclaimer.Reclaimer
}

// Build connects to every backend named in cfg and assembles the core.
// The refill pool is not started.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Core, error) {
	c := &Core{Logger: log}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewRecorder(c.Registry, cfg.Metrics.Namespace)

	db, err := InitPostgreSQL(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.DB = db

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := db.Exec(migrateCtx, storage.Schema)
		cancel()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		log.Info("Respondent schema applied")
	}

	c.Redis = InitRedis(&cfg.Redis, log)

	var publisher interface {
		assignment.EventPublisher
		reclaimer.Publisher
	} = events.Nop{}
	if cfg.RabbitMQ.Enabled {
		rabbit, err := InitRabbitMQ(&cfg.RabbitMQ, log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		c.Rabbit = rabbit
		publisher = events.NewPublisher(rabbit, log, cfg.RabbitMQ.Publish.Timeout)
	}

	c.Store = storage.NewStorage(db.GetDB(), log, cfg.Database.QueryTimeout)
	c.Queue = queue.NewCache(c.Redis, log, c.Metrics)
	c.Priorities = priority.NewTable(c.Redis, priority.NewFileLoader(cfg.Dispatch.PriorityFile), cfg.Dispatch.PriorityTTL, log)

	coreCfg := &assignment.Config{
		Logger:              log,
		Store:               c.Store,
		Queue:               c.Queue,
		Priorities:          c.Priorities,
		Publisher:           publisher,
		Metrics:             c.Metrics,
		BufferSize:          cfg.Dispatch.BufferSize,
		LowWaterMark:        cfg.Dispatch.LowWaterMark,
		MaxDiscardsPerQueue: cfg.Dispatch.MaxDiscardsPerQueue,
		RefillWorkers:       cfg.Dispatch.RefillWorkers,
		RefillBacklog:       cfg.Dispatch.RefillBacklog,
		RefillTimeout:       cfg.Dispatch.RefillTimeout,
		ZoneCacheTTL:        cfg.Dispatch.ZoneCacheTTL,
		LeaseDuration:       cfg.Reclaimer.Lease,
	}
	c.Refiller = assignment.NewRefiller(coreCfg)
	c.Coordinator = assignment.NewCoordinator(coreCfg, c.Refiller)

	c.Reclaimer = reclaimer.New(reclaimer.Config{
		Logger:          log,
		Store:           c.Store,
		Priorities:      c.Priorities,
		Queues:          c.Refiller,
		Rebuilder:       c.Coordinator,
		Locker:          c.Redis,
		Publisher:       publisher,
		Metrics:         c.Metrics,
		Lease:           cfg.Reclaimer.Lease,
		Interval:        cfg.Reclaimer.Interval,
		LockTTL:         cfg.Reclaimer.LockTTL,
		RebuildInterval: cfg.Reclaimer.RebuildInterval,
		RebuildLockTTL:  cfg.Reclaimer.RebuildLockTTL,
		SweepTimeout:    cfg.Reclaimer.SweepTimeout,
	})

	// warm the priority snapshot so the first request does not pay for the load
	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	zones := c.Priorities.Map(warmCtx)
	cancel()
	log.Info("Zone priorities loaded", slog.Int("zones", len(zones)))

	return c, nil
}

// Close stops the refill pool and releases every backend
func (c *Core) Close() {
	if c.Refiller != nil {
		c.Refiller.Close()
	}
	if c.Rabbit != nil {
		c.Rabbit.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		c.Logger.Info("Closing database pool", attrsToAny(c.DB.Stats())...)
		c.DB.Close()
	}
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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

// InitRedis initializes the Redis client. An unreachable server is not fatal.
func InitRedis(cfg *config.RedisConfig, logger *slog.Logger) *sharedredis.Client {
	return sharedredis.NewClient(&sharedredis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		OpTimeout:    cfg.OpTimeout,
	}, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		BindingKey:         cfg.Queue.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
