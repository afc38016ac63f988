package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
)

const maxConsecutiveMisses = 3

// Coordinator hands out the next respondent to call for a survey
type Coordinator struct {
	logger     *slog.Logger
	store      RespondentStore
	queue      QueueCache
	priorities PriorityTable
	publisher  EventPublisher
	metrics    *metrics.Recorder
	refiller   *Refiller
	cfg        *Config

	zonesMu sync.Mutex
	zones   map[string]zoneSet
}

type zoneSet struct {
	names   []string
	expires time.Time
}

// NewCoordinator creates a coordinator that schedules background refills on refiller
func NewCoordinator(cfg *Config, refiller *Refiller) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		logger:     cfg.Logger,
		store:      cfg.Store,
		queue:      cfg.Queue,
		priorities: cfg.Priorities,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		refiller:   refiller,
		cfg:        cfg,
		zones:      make(map[string]zoneSet),
	}
}

// AssignNext assigns the next pending respondent of the highest-priority zone to callerID.
//
// Returns domain.ErrNoneAvailable when nothing could be assigned and
// domain.ErrStoreUnavailable when the respondent store failed.
func (c *Coordinator) AssignNext(ctx context.Context, surveyID, callerID string) (*domain.Assignment, error) {
	start := c.cfg.Now()

	a, err := c.assignNext(ctx, surveyID, callerID)

	elapsed := c.cfg.Now().Sub(start)
	switch {
	case err == nil:
		c.metrics.ObserveAssignment(metrics.ResultAssigned, elapsed)
	case errors.Is(err, domain.ErrNoneAvailable):
		c.metrics.ObserveAssignment(metrics.ResultNoneAvailable, elapsed)
	default:
		c.metrics.ObserveAssignment(metrics.ResultStoreError, elapsed)
		c.logger.Error("Assignment failed",
			slog.String("survey_id", surveyID),
			slog.String("caller_id", callerID),
			slog.Any("error", err),
		)
	}

	return a, err
}

func (c *Coordinator) assignNext(ctx context.Context, surveyID, callerID string) (*domain.Assignment, error) {
	zones, err := c.activeZones(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	for _, zone := range zones {
		key := domain.QueueKey{SurveyID: surveyID, ZoneName: zone.Name, Priority: zone.Priority}

		a, err := c.assignFromQueue(ctx, key, callerID)
		if err != nil {
			return nil, err
		}
		if a != nil {
			c.publish(ctx, a)
			return a, nil
		}
	}

	c.logger.Info("No respondent available",
		slog.String("survey_id", surveyID),
		slog.String("caller_id", callerID),
		slog.Int("zones", len(zones)),
	)
	return nil, domain.ErrNoneAvailable
}

// assignFromQueue drains key until one claim succeeds.
// Returns (nil, nil) only once the store has nothing pending left for key.
func (c *Coordinator) assignFromQueue(ctx context.Context, key domain.QueueKey, callerID string) (*domain.Assignment, error) {
	discards := 0
	misses := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, ok := c.queue.Pop(ctx, key)
		if !ok {
			misses++
			if misses > maxConsecutiveMisses {
				// pushes land but pops keep missing
				return c.assignFromStore(ctx, key, callerID)
			}
			a, more, err := c.reload(ctx, key, callerID)
			if err != nil || a != nil || !more {
				return a, err
			}
			continue
		}
		misses = 0

		r, err := c.store.ClaimPending(ctx, id, callerID, c.cfg.Now())
		if err != nil {
			if !errors.Is(err, domain.ErrLostRace) {
				return nil, err
			}

			c.metrics.LostRace()
			discards++
			if discards >= c.cfg.MaxDiscardsPerQueue {
				// the queue is mostly stale; rebuild it from the store on the next pop
				c.logger.Warn("Too many stale ids in queue, rebuilding it",
					slog.String("queue", key.String()),
					slog.Int("discards", discards),
				)
				c.queue.Clear(ctx, key)
				discards = 0
			}
			continue
		}

		if residual := c.queue.Length(ctx, key); residual < int64(c.cfg.LowWaterMark) {
			c.refiller.Schedule(key)
		}

		return c.toAssignment(key, callerID, r), nil
	}
}

// assignFromStore claims from a fresh store read, bypassing the queue
func (c *Coordinator) assignFromStore(ctx context.Context, key domain.QueueKey, callerID string) (*domain.Assignment, error) {
	ids, err := c.store.ListPending(ctx, key.SurveyID, key.ZoneName, c.cfg.BufferSize, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending respondents for %s: %w", key, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.assignDirect(ctx, key, callerID, ids)
}

// reload tops key up from the store after a miss. more reports whether the
// queue has ids to pop. When the cache rejects the push the claim is made
// directly against the store results.
func (c *Coordinator) reload(ctx context.Context, key domain.QueueKey, callerID string) (*domain.Assignment, bool, error) {
	ids, length, err := c.refiller.topUp(ctx, key)
	if err != nil {
		c.metrics.RefillFailed(metrics.RefillSync)
		return nil, false, err
	}
	c.metrics.Refill(metrics.RefillSync, len(ids))

	if len(ids) == 0 {
		// another process may have pushed everything still pending
		return nil, c.queue.Length(ctx, key) > 0, nil
	}
	if length == 0 {
		a, err := c.assignDirect(ctx, key, callerID, ids)
		return a, false, err
	}
	return nil, true, nil
}

func (c *Coordinator) assignDirect(ctx context.Context, key domain.QueueKey, callerID string, ids []string) (*domain.Assignment, error) {
	c.logger.Warn("Queue cache unavailable, assigning directly from store",
		slog.String("queue", key.String()),
	)

	for _, id := range ids {
		r, err := c.store.ClaimPending(ctx, id, callerID, c.cfg.Now())
		if err != nil {
			if errors.Is(err, domain.ErrLostRace) {
				c.metrics.LostRace()
				continue
			}
			return nil, err
		}
		return c.toAssignment(key, callerID, r), nil
	}
	return nil, nil
}

func (c *Coordinator) toAssignment(key domain.QueueKey, callerID string, r *domain.Respondent) *domain.Assignment {
	a := &domain.Assignment{
		RespondentID: r.ID,
		SurveyID:     r.SurveyID,
		ZoneName:     r.ZoneName,
		Priority:     key.Priority,
		CallerID:     callerID,
		ContactName:  r.ContactName,
		ContactPhone: r.ContactPhone,
	}
	if r.AssignedAt != nil {
		a.AssignedAt = *r.AssignedAt
	}

	c.logger.Info("Respondent assigned",
		slog.String("respondent_id", a.RespondentID),
		slog.String("caller_id", callerID),
		slog.String("queue", key.String()),
	)
	return a
}

func (c *Coordinator) publish(ctx context.Context, a *domain.Assignment) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishAssigned(ctx, *a); err != nil {
		c.logger.Warn("Failed to publish assignment event",
			slog.String("respondent_id", a.RespondentID),
			slog.Any("error", err),
		)
	}
}

// activeZones returns the survey's queued zones, highest priority first
func (c *Coordinator) activeZones(ctx context.Context, surveyID string) ([]domain.Zone, error) {
	names, err := c.pendingZones(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list zones for survey %s: %w", surveyID, err)
	}
	return c.priorities.ActiveZones(ctx, names), nil
}

func (c *Coordinator) pendingZones(ctx context.Context, surveyID string) ([]string, error) {
	ttl := c.cfg.ZoneCacheTTL
	now := c.cfg.Now()

	if ttl > 0 {
		c.zonesMu.Lock()
		set, ok := c.zones[surveyID]
		c.zonesMu.Unlock()
		if ok && now.Before(set.expires) {
			return c.withQueuedZones(ctx, surveyID, set.names), nil
		}
	}

	names, err := c.store.PendingZones(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	if ttl > 0 {
		c.zonesMu.Lock()
		c.zones[surveyID] = zoneSet{names: names, expires: now.Add(ttl)}
		c.zonesMu.Unlock()
	}
	return names, nil
}

// withQueuedZones adds to a cached zone list every prioritized zone whose
// queue is non-empty, so respondents re-queued by another process are seen
// before the cache expires.
func (c *Coordinator) withQueuedZones(ctx context.Context, surveyID string, cached []string) []string {
	seen := make(map[string]struct{}, len(cached))
	names := make([]string, 0, len(cached))
	for _, n := range cached {
		seen[n] = struct{}{}
		names = append(names, n)
	}

	for zone, prio := range c.priorities.Map(ctx) {
		if prio <= 0 {
			continue
		}
		if _, ok := seen[zone]; ok {
			continue
		}
		key := domain.QueueKey{SurveyID: surveyID, ZoneName: zone, Priority: prio}
		if c.queue.Length(ctx, key) > 0 {
			names = append(names, zone)
		}
	}
	return names
}

// ForgetZones drops the cached zone list of a survey
func (c *Coordinator) ForgetZones(surveyID string) {
	c.zonesMu.Lock()
	delete(c.zones, surveyID)
	c.zonesMu.Unlock()
}

// QueueStatus describes one queue of a survey
type QueueStatus struct {
	ZoneName string
	Priority int
	Length   int64
}

// Queues reports the length of every active queue of a survey
func (c *Coordinator) Queues(ctx context.Context, surveyID string) ([]QueueStatus, error) {
	zones, err := c.activeZones(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	statuses := make([]QueueStatus, 0, len(zones))
	for _, z := range zones {
		key := domain.QueueKey{SurveyID: surveyID, ZoneName: z.Name, Priority: z.Priority}
		statuses = append(statuses, QueueStatus{
			ZoneName: z.Name,
			Priority: z.Priority,
			Length:   c.queue.Length(ctx, key),
		})
	}
	return statuses, nil
}
