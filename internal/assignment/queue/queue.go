package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
	sharedredis "github.com/cuongbtq/cati-assign/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the prefix of every respondent queue list
	KeyPrefix = "cati:queue:"

	scanCount = 100
)

// ErrInvalidSurveyID is returned for survey ids that cannot be safely embedded in a key pattern
var ErrInvalidSurveyID = errors.New("invalid survey id")

var surveyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidSurveyID reports whether id may be used as a queue key segment
func ValidSurveyID(id string) bool {
	return surveyIDPattern.MatchString(id)
}

// Key returns the Redis list key for a queue.
// The survey id is wrapped in a hash tag so all of a survey's queues share a cluster slot.
func Key(k domain.QueueKey) string {
	return fmt.Sprintf("%s{%s}:%s:%d", KeyPrefix, k.SurveyID, k.ZoneName, k.Priority)
}

func surveyPrefix(surveyID string) string {
	return KeyPrefix + "{" + surveyID + "}:"
}

// Cache is the priority queue cache backed by Redis lists.
// Every failure is logged and degrades to a miss or no-op.
type Cache struct {
	rdb       goredis.UniversalClient
	opTimeout time.Duration
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// NewCache creates a new queue cache
func NewCache(client *sharedredis.Client, logger *slog.Logger, recorder *metrics.Recorder) *Cache {
	return &Cache{
		rdb:       client.GetClient(),
		opTimeout: client.OpTimeout(),
		logger:    logger,
		metrics:   recorder,
	}
}

func (c *Cache) failed(op string, key domain.QueueKey, err error) {
	c.metrics.CacheError(op)
	c.logger.Warn("Queue cache operation failed",
		slog.String("op", op),
		slog.String("queue", key.String()),
		slog.Any("error", err),
	)
}

// Pop atomically removes and returns the head of the queue.
// Returns false when the queue is empty or the cache is unavailable.
func (c *Cache) Pop(ctx context.Context, key domain.QueueKey) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	id, err := c.rdb.LPop(ctx, Key(key)).Result()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.failed("pop", key, err)
		}
		return "", false
	}
	return id, true
}

// PushBack appends ids to the tail of the queue in order and returns the new length
func (c *Cache) PushBack(ctx context.Context, key domain.QueueKey, ids []string) int64 {
	if len(ids) == 0 {
		return c.Length(ctx, key)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	n, err := c.rdb.RPush(ctx, Key(key), values...).Result()
	if err != nil {
		c.failed("push", key, err)
		return 0
	}
	return n
}

// Length returns the number of ids in the queue, 0 when the cache is unavailable
func (c *Cache) Length(ctx context.Context, key domain.QueueKey) int64 {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	n, err := c.rdb.LLen(ctx, Key(key)).Result()
	if err != nil {
		c.failed("length", key, err)
		return 0
	}
	return n
}

// Snapshot returns the queue contents without removing them
func (c *Cache) Snapshot(ctx context.Context, key domain.QueueKey) []string {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	ids, err := c.rdb.LRange(ctx, Key(key), 0, -1).Result()
	if err != nil {
		c.failed("snapshot", key, err)
		return nil
	}
	return ids
}

// Clear deletes one queue
func (c *Cache) Clear(ctx context.Context, key domain.QueueKey) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.rdb.Del(ctx, Key(key)).Err(); err != nil {
		c.failed("clear", key, err)
		return
	}

	c.logger.Info("Cleared queue",
		slog.String("queue", key.String()),
	)
}

// ClearAllForSurvey deletes every queue of a survey using an incremental SCAN.
// Returns the number of keys deleted.
func (c *Cache) ClearAllForSurvey(ctx context.Context, surveyID string) (int, error) {
	if !ValidSurveyID(surveyID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSurveyID, surveyID)
	}

	pattern := surveyPrefix(surveyID) + "*"

	var (
		cursor  uint64
		cleared int
	)

	for {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		keys, next, err := c.rdb.Scan(opCtx, cursor, pattern, scanCount).Result()
		cancel()
		if err != nil {
			c.metrics.CacheError("scan")
			return cleared, fmt.Errorf("failed to scan queues for survey %s: %w", surveyID, err)
		}

		if len(keys) > 0 {
			opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
			err := c.rdb.Del(opCtx, keys...).Err()
			cancel()
			if err != nil {
				c.metrics.CacheError("clear")
				return cleared, fmt.Errorf("failed to delete queues for survey %s: %w", surveyID, err)
			}
			cleared += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Info("Cleared queues for survey",
		slog.String("survey_id", surveyID),
		slog.Int("cleared", cleared),
	)

	return cleared, nil
}
