package assignment

import (
	"log/slog"
	"time"

	"github.com/cuongbtq/cati-assign/internal/metrics"
)

// Defaults sized for 50+ concurrent interviewers per zone
const (
	DefaultBufferSize          = 500
	DefaultLowWaterMark        = 100
	DefaultMaxDiscardsPerQueue = 50
	DefaultRefillWorkers       = 4
	DefaultRefillBacklog       = 256
	DefaultRefillTimeout       = 10 * time.Second
	DefaultZoneCacheTTL        = 30 * time.Second
	DefaultLeaseDuration       = 30 * time.Minute
)

// Config holds the dependencies and tunables of the assignment core
type Config struct {
	Logger     *slog.Logger
	Store      RespondentStore
	Queue      QueueCache
	Priorities PriorityTable
	Publisher  EventPublisher
	Metrics    *metrics.Recorder

	BufferSize          int
	LowWaterMark        int
	MaxDiscardsPerQueue int
	RefillWorkers       int
	RefillBacklog       int
	RefillTimeout       time.Duration
	ZoneCacheTTL        time.Duration
	LeaseDuration       time.Duration

	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = DefaultLowWaterMark
	}
	if c.LowWaterMark > c.BufferSize {
		c.LowWaterMark = c.BufferSize
	}
	if c.MaxDiscardsPerQueue <= 0 {
		c.MaxDiscardsPerQueue = DefaultMaxDiscardsPerQueue
	}
	if c.RefillWorkers <= 0 {
		c.RefillWorkers = DefaultRefillWorkers
	}
	if c.RefillBacklog <= 0 {
		c.RefillBacklog = DefaultRefillBacklog
	}
	if c.RefillTimeout <= 0 {
		c.RefillTimeout = DefaultRefillTimeout
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
