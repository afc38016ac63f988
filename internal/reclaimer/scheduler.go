package reclaimer

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Start runs a sweep immediately and then every Interval until ctx is done
// or Stop is called. When a Rebuilder is configured and RebuildInterval is
// positive, a full queue rebuild runs on its own schedule.
func (r *Reclaimer) Start(ctx context.Context) {
	r.logger.Info("Starting reclaimer",
		slog.Duration("interval", r.cfg.Interval),
		slog.Duration("lease", r.cfg.Lease),
		slog.Duration("rebuild_interval", r.cfg.RebuildInterval),
	)

	r.wg.Add(1)
	go r.loop(ctx, "sweep", r.cfg.Interval, r.runSweep)

	if r.rebuilder != nil && r.cfg.RebuildInterval > 0 {
		r.wg.Add(1)
		go r.loop(ctx, "rebuild", r.cfg.RebuildInterval, r.runRebuild)
	}
}

// Stop ends the loops and waits for a running job to finish
func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping reclaimer...")
		close(r.stopChan)
	})
	r.wg.Wait()
	r.logger.Info("Reclaimer stopped")
}

func (r *Reclaimer) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	job(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Reclaimer loop stopping - context canceled", slog.String("job", name))
			return
		case <-r.stopChan:
			r.logger.Debug("Reclaimer loop stopping - stopChan closed", slog.String("job", name))
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (r *Reclaimer) runSweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SweepTimeout)
	defer cancel()

	if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, ErrLocked) {
		r.logger.Error("Reclaimer sweep failed", slog.Any("error", err))
	}
}

// RebuildAll clears and repopulates all queues under the rebuild lock.
// Unlike Sweep it is skipped when the lock store is unreachable.
func (r *Reclaimer) RebuildAll(ctx context.Context) error {
	if r.rebuilder == nil {
		return nil
	}

	release, err := r.acquire(ctx, RebuildLockKey, r.cfg.RebuildLockTTL, false)
	if err != nil {
		return err
	}
	defer release()

	start := r.cfg.Now()
	results, err := r.rebuilder.RebuildAll(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("Rebuilt all survey queues",
		slog.Int("surveys", len(results)),
		slog.Duration("duration", r.cfg.Now().Sub(start)),
	)
	return nil
}

func (r *Reclaimer) runRebuild(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RebuildLockTTL)
	defer cancel()

	if err := r.RebuildAll(ctx); err != nil && !errors.Is(err, ErrLocked) {
		r.logger.Error("Queue rebuild failed", slog.Any("error", err))
	}
}
