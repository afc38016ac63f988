package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
)

// Start spawns the background refill workers
func (r *Refiller) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return
	}
	r.started = true

	r.logger.Info("Spawning refill pool",
		slog.Int("workers", r.cfg.RefillWorkers),
		slog.Int("backlog", cap(r.jobs)),
	)

	for i := 0; i < r.cfg.RefillWorkers; i++ {
		r.wg.Add(1)
		go r.workerLoop(i)
	}
}

// Schedule queues a background top-up of key without blocking.
// Returns false when the refill was dropped because one is already pending
// for key or the backlog is full.
func (r *Refiller) Schedule(key domain.QueueKey) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	if _, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		return false
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()

	select {
	case r.jobs <- key:
		return true
	default:
		r.done(key)
		r.metrics.RefillDropped()
		r.logger.Warn("Refill backlog full, dropping background refill",
			slog.String("queue", key.String()),
		)
		return false
	}
}

func (r *Refiller) done(key domain.QueueKey) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}

// workerLoop is the processing loop for each refill goroutine
func (r *Refiller) workerLoop(workerNum int) {
	defer r.wg.Done()

	workerName := fmt.Sprintf("refill-%d", workerNum)
	r.logger.Debug("Refill worker started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-r.stopChan:
			r.logger.Debug("Refill worker stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case key := <-r.jobs:
			r.runBackground(workerName, key)
		}
	}
}

func (r *Refiller) runBackground(workerName string, key domain.QueueKey) {
	defer r.done(key)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RefillTimeout)
	defer cancel()

	added, err := r.TopUp(ctx, key)
	if err != nil {
		r.metrics.RefillFailed(metrics.RefillAsync)
		r.logger.Warn("Background queue refill failed",
			slog.String("worker_name", workerName),
			slog.String("queue", key.String()),
			slog.Any("error", err),
		)
		return
	}

	r.metrics.Refill(metrics.RefillAsync, added)
}

// Close stops the workers after in-flight refills finish. Pending backlog is discarded.
func (r *Refiller) Close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("Stopping refill pool...")
	close(r.stopChan)
	r.wg.Wait()
	r.logger.Info("Refill pool stopped")
}
