package priority

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	sharedredis "github.com/cuongbtq/cati-assign/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// CacheKey is the shared cache key holding the encoded priority map
	CacheKey = "cati:ac_priority_map"

	// DefaultTTL is how long a loaded map is trusted before it is re-read
	DefaultTTL = 5 * time.Minute
)

// Table resolves zone priorities through a process snapshot, the shared
// Redis cache, and finally the configuration loader
type Table struct {
	rdb       goredis.UniversalClient
	opTimeout time.Duration
	loader    Loader
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	current map[string]int
	expires time.Time
}

// NewTable creates a priority table
func NewTable(client *sharedredis.Client, loader Loader, ttl time.Duration, logger *slog.Logger) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Table{
		rdb:       client.GetClient(),
		opTimeout: client.OpTimeout(),
		loader:    loader,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// GetPriority returns the priority of a zone, 0 if absent
func (t *Table) GetPriority(ctx context.Context, zoneName string) int {
	return t.Map(ctx)[zoneName]
}

// Map returns the current priority map. The returned map must not be modified.
func (t *Table) Map(ctx context.Context) map[string]int {
	t.mu.RLock()
	if t.current != nil && t.now().Before(t.expires) {
		m := t.current
		t.mu.RUnlock()
		return m
	}
	t.mu.RUnlock()

	if m, ok := t.readShared(ctx); ok {
		t.swap(m)
		return m
	}

	m := t.loadAndPublish(ctx)
	t.swap(m)
	return m
}

// Reload bypasses both cache levels, re-reads the configuration and republishes it
func (t *Table) Reload(ctx context.Context) map[string]int {
	m := t.loadAndPublish(ctx)
	t.swap(m)

	t.logger.Info("Zone priority map reloaded",
		slog.Int("zones", len(m)),
	)
	return m
}

// ActiveZones filters zoneNames down to those with a positive priority,
// ordered by priority descending then name
func (t *Table) ActiveZones(ctx context.Context, zoneNames []string) []domain.Zone {
	m := t.Map(ctx)

	zones := make([]domain.Zone, 0, len(zoneNames))
	for _, name := range zoneNames {
		if p := m[name]; p > 0 {
			zones = append(zones, domain.Zone{Name: name, Priority: p})
		}
	}

	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Priority != zones[j].Priority {
			return zones[i].Priority > zones[j].Priority
		}
		return zones[i].Name < zones[j].Name
	})
	return zones
}

func (t *Table) swap(m map[string]int) {
	t.mu.Lock()
	t.current = m
	t.expires = t.now().Add(t.ttl)
	t.mu.Unlock()
}

func (t *Table) readShared(ctx context.Context) (map[string]int, bool) {
	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	raw, err := t.rdb.Get(ctx, CacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			t.logger.Warn("Priority cache read failed, falling back to file",
				slog.Any("error", err),
			)
		}
		return nil, false
	}

	var m map[string]int
	if err := json.Unmarshal(raw, &m); err != nil {
		t.logger.Warn("Priority cache holds an invalid map, ignoring",
			slog.Any("error", err),
		)
		return nil, false
	}
	if m == nil {
		m = map[string]int{}
	}
	return m, true
}

// loadAndPublish never fails: a loader error yields an empty map so that no
// zone is auto-queued rather than blocking assignment
func (t *Table) loadAndPublish(ctx context.Context) map[string]int {
	m, err := t.loader.Load(ctx)
	if err != nil {
		t.logger.Warn("Failed to load zone priorities, treating all zones as priority 0",
			slog.Any("error", err),
		)
		m = map[string]int{}
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}

	opCtx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	if err := t.rdb.Set(opCtx, CacheKey, raw, t.ttl).Err(); err != nil {
		t.logger.Warn("Failed to publish zone priorities to cache",
			slog.Any("error", err),
		)
	}
	return m
}
