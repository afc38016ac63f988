package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
)

// Refiller repopulates queues from the respondent store.
// Concurrent and redundant refills are safe: a duplicated id is collapsed by
// the conditional claim when it is popped the second time.
type Refiller struct {
	logger     *slog.Logger
	store      RespondentStore
	queue      QueueCache
	metrics    *metrics.Recorder
	bufferSize int
	cfg        *Config

	jobs     chan domain.QueueKey
	mu       sync.Mutex
	inflight map[domain.QueueKey]struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
	started  bool
	stopped  bool
}

// NewRefiller creates a refiller. Call Start to run background refills.
func NewRefiller(cfg *Config) *Refiller {
	cfg.applyDefaults()
	return &Refiller{
		logger:     cfg.Logger,
		store:      cfg.Store,
		queue:      cfg.Queue,
		metrics:    cfg.Metrics,
		bufferSize: cfg.BufferSize,
		cfg:        cfg,
		jobs:       make(chan domain.QueueKey, cfg.RefillBacklog),
		inflight:   make(map[domain.QueueKey]struct{}),
		stopChan:   make(chan struct{}),
	}
}

// Refill pushes up to limit pending ids for key, oldest first, skipping excludeIDs.
// Returns the number of ids pushed.
func (r *Refiller) Refill(ctx context.Context, key domain.QueueKey, limit int, excludeIDs []string) (int, error) {
	ids, pushed, err := r.fill(ctx, key, limit, excludeIDs)
	if err != nil {
		return 0, err
	}
	if pushed == 0 {
		return 0, nil
	}
	return len(ids), nil
}

// fill returns the ids read from the store and the queue length after pushing them.
// A zero length with non-empty ids means the cache rejected the push.
func (r *Refiller) fill(ctx context.Context, key domain.QueueKey, limit int, excludeIDs []string) ([]string, int64, error) {
	if limit <= 0 {
		return nil, 0, nil
	}

	ids, err := r.store.ListPending(ctx, key.SurveyID, key.ZoneName, limit, excludeIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to refill queue %s: %w", key, err)
	}

	if len(ids) == 0 {
		r.logger.Debug("No pending respondents for queue",
			slog.String("queue", key.String()),
		)
		return nil, 0, nil
	}

	length := r.queue.PushBack(ctx, key, ids)
	if length > 0 {
		r.logger.Info("Populated queue",
			slog.String("queue", key.String()),
			slog.Int("added", len(ids)),
			slog.Int64("length", length),
		)
	}

	return ids, length, nil
}

// TopUp fills key up to the buffer size, excluding ids already queued
func (r *Refiller) TopUp(ctx context.Context, key domain.QueueKey) (int, error) {
	ids, pushed, err := r.topUp(ctx, key)
	if err != nil || pushed == 0 {
		return 0, err
	}
	return len(ids), nil
}

func (r *Refiller) topUp(ctx context.Context, key domain.QueueKey) ([]string, int64, error) {
	queued := r.queue.Snapshot(ctx, key)
	return r.fill(ctx, key, r.bufferSize-len(queued), queued)
}

// InitializeQueue tops up key unless it already holds a full buffer
func (r *Refiller) InitializeQueue(ctx context.Context, key domain.QueueKey, mode string) (int, error) {
	if n := r.queue.Length(ctx, key); n >= int64(r.bufferSize) {
		r.logger.Debug("Queue already initialized",
			slog.String("queue", key.String()),
			slog.Int64("length", n),
		)
		return 0, nil
	}

	added, err := r.TopUp(ctx, key)
	if err != nil {
		r.metrics.RefillFailed(mode)
		return 0, err
	}
	r.metrics.Refill(mode, added)
	return added, nil
}
