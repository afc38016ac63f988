package reclaimer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment"
	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
	sharedredis "github.com/cuongbtq/cati-assign/shared/redis"
)

const (
	LockKey        = "cati:jobs:reclaimer:lock"
	RebuildLockKey = "cati:jobs:rebuild:lock"

	DefaultLease          = 30 * time.Minute
	DefaultInterval       = 15 * time.Minute
	DefaultLockTTL        = 5 * time.Minute
	DefaultRebuildLockTTL = 20 * time.Minute
	DefaultSweepTimeout   = 5 * time.Minute
)

// ErrLocked is returned by Sweep when another process is already sweeping
var ErrLocked = errors.New("reclaimer lock held by another process")

// Store returns expired assignments to pending
type Store interface {
	ReclaimExpired(ctx context.Context, cutoff time.Time, surveyID string) ([]domain.ReclaimedRespondent, error)
}

// QueueInitializer refills a queue that may have been drained
type QueueInitializer interface {
	InitializeQueue(ctx context.Context, key domain.QueueKey, mode string) (int, error)
}

// Rebuilder clears and repopulates every active survey
type Rebuilder interface {
	RebuildAll(ctx context.Context) ([]assignment.RebuildResult, error)
}

// Locker grants single-holder leases
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (*sharedredis.Lock, error)
}

// Publisher announces completed sweeps
type Publisher interface {
	PublishReclaimed(ctx context.Context, result domain.SweepResult) error
}

// Config holds reclaimer dependencies and schedule
type Config struct {
	Logger     *slog.Logger
	Store      Store
	Priorities assignment.PriorityTable
	Queues     QueueInitializer
	Rebuilder  Rebuilder
	Locker     Locker
	Publisher  Publisher
	Metrics    *metrics.Recorder

	Lease           time.Duration
	Interval        time.Duration
	LockTTL         time.Duration
	RebuildInterval time.Duration
	RebuildLockTTL  time.Duration
	SweepTimeout    time.Duration

	Now func() time.Time
}

// Reclaimer returns respondents whose lease expired to the pending pool
// and repopulates the queues they belong to.
type Reclaimer struct {
	logger     *slog.Logger
	store      Store
	priorities assignment.PriorityTable
	queues     QueueInitializer
	rebuilder  Rebuilder
	locker     Locker
	publisher  Publisher
	metrics    *metrics.Recorder
	cfg        Config

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a reclaimer. Locker, Publisher and Rebuilder are optional.
func New(cfg Config) *Reclaimer {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.RebuildLockTTL <= 0 {
		cfg.RebuildLockTTL = DefaultRebuildLockTTL
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultSweepTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Reclaimer{
		logger:     cfg.Logger,
		store:      cfg.Store,
		priorities: cfg.Priorities,
		queues:     cfg.Queues,
		rebuilder:  cfg.Rebuilder,
		locker:     cfg.Locker,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		cfg:        cfg,
		stopChan:   make(chan struct{}),
	}
}

// Sweep reclaims every assignment older than the lease and re-initializes
// the affected queues. Returns ErrLocked when another process holds the sweep lock.
// An unreachable lock store does not block the sweep.
func (r *Reclaimer) Sweep(ctx context.Context) (*domain.SweepResult, error) {
	release, err := r.acquire(ctx, LockKey, r.cfg.LockTTL, true)
	if err != nil {
		r.metrics.Sweep(metrics.SweepSkipped, 0)
		return nil, err
	}
	defer release()

	result, err := r.sweep(ctx)
	if err != nil {
		r.metrics.Sweep(metrics.SweepFailed, 0)
		return nil, err
	}
	r.metrics.Sweep(metrics.SweepOK, result.ReclaimedCount)
	return result, nil
}

func (r *Reclaimer) sweep(ctx context.Context) (*domain.SweepResult, error) {
	now := r.cfg.Now()
	cutoff := now.Add(-r.cfg.Lease)

	reclaimed, err := r.store.ReclaimExpired(ctx, cutoff, "")
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim expired assignments: %w", err)
	}

	result := &domain.SweepResult{
		ReclaimedCount: len(reclaimed),
		AffectedZones:  affectedZones(reclaimed),
		SweptAt:        now,
	}

	if result.ReclaimedCount == 0 {
		r.logger.Debug("No expired assignments", slog.Time("cutoff", cutoff))
		return result, nil
	}

	r.logger.Info("Reclaimed expired assignments",
		slog.Int("count", result.ReclaimedCount),
		slog.Int("zones", len(result.AffectedZones)),
		slog.Time("cutoff", cutoff),
	)

	r.initializeZones(ctx, result.AffectedZones)

	if r.publisher != nil {
		if err := r.publisher.PublishReclaimed(ctx, *result); err != nil {
			r.logger.Warn("Failed to publish reclaim event",
				slog.Int("count", result.ReclaimedCount),
				slog.Any("error", err),
			)
		}
	}

	return result, nil
}

func (r *Reclaimer) initializeZones(ctx context.Context, zones []domain.ZoneKey) {
	for _, z := range zones {
		priority := r.priorities.GetPriority(ctx, z.ZoneName)
		if priority <= 0 {
			continue
		}

		key := domain.QueueKey{SurveyID: z.SurveyID, ZoneName: z.ZoneName, Priority: priority}
		if _, err := r.queues.InitializeQueue(ctx, key, metrics.RefillReclaim); err != nil {
			r.logger.Warn("Failed to re-initialize queue after reclaim",
				slog.String("queue", key.String()),
				slog.Any("error", err),
			)
		}
	}
}

func affectedZones(reclaimed []domain.ReclaimedRespondent) []domain.ZoneKey {
	seen := make(map[domain.ZoneKey]struct{})
	zones := make([]domain.ZoneKey, 0)
	for _, rr := range reclaimed {
		k := domain.ZoneKey{SurveyID: rr.SurveyID, ZoneName: rr.ZoneName}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		zones = append(zones, k)
	}
	return zones
}

// acquire takes the lock at key. When the lock store fails, failOpen decides
// whether the job runs unlocked or is skipped.
func (r *Reclaimer) acquire(ctx context.Context, key string, ttl time.Duration, failOpen bool) (func(), error) {
	noop := func() {}
	if r.locker == nil {
		return noop, nil
	}

	lock, err := r.locker.TryLock(ctx, key, ttl)
	if err != nil {
		if failOpen {
			r.logger.Warn("Lock store unavailable, running unlocked",
				slog.String("lock", key),
				slog.Any("error", err),
			)
			return noop, nil
		}
		return nil, err
	}
	if lock == nil {
		r.logger.Info("Lock held by another process, skipping",
			slog.String("lock", key),
		)
		return nil, ErrLocked
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil {
			r.logger.Warn("Failed to release lock",
				slog.String("lock", lock.Key()),
				slog.Any("error", err),
			)
		}
	}, nil
}
