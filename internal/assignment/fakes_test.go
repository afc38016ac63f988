package assignment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
)

var errConnRefused = errors.New("dial tcp: connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*domain.Respondent
	order   []string
	claims  map[string]int
	failing bool
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*domain.Respondent),
		claims:  make(map[string]int),
	}
}

func (s *memStore) add(surveyID, zone string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range ids {
		s.records[id] = &domain.Respondent{
			ID:           id,
			SurveyID:     surveyID,
			ZoneName:     zone,
			State:        domain.StatePending,
			ContactName:  "name-" + id,
			ContactPhone: "phone-" + id,
			CreatedAt:    base.Add(time.Duration(len(s.order)) * time.Second),
		}
		s.order = append(s.order, id)
	}
}

func (s *memStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

func (s *memStore) get(id string) domain.Respondent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memStore) claimCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[id]
}

func (s *memStore) ListPending(_ context.Context, surveyID, zoneName string, limit int, excludeIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.Join(domain.ErrStoreUnavailable, errConnRefused)
	}

	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	var ids []string
	for _, id := range s.order {
		r := s.records[id]
		if r.SurveyID != surveyID || r.ZoneName != zoneName || r.State != domain.StatePending || excluded[id] {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids, nil
}

func (s *memStore) ClaimPending(_ context.Context, id, callerID string, at time.Time) (*domain.Respondent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.Join(domain.ErrStoreUnavailable, errConnRefused)
	}

	r, ok := s.records[id]
	if !ok || r.State != domain.StatePending {
		return nil, domain.ErrLostRace
	}

	caller := callerID
	assignedAt := at
	r.State = domain.StateAssigned
	r.AssignedTo = &caller
	r.AssignedAt = &assignedAt
	s.claims[id]++

	out := *r
	return &out, nil
}

func (s *memStore) PendingZones(_ context.Context, surveyID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.Join(domain.ErrStoreUnavailable, errConnRefused)
	}

	seen := make(map[string]bool)
	var zones []string
	for _, id := range s.order {
		r := s.records[id]
		if r.SurveyID == surveyID && r.State == domain.StatePending && !seen[r.ZoneName] {
			seen[r.ZoneName] = true
			zones = append(zones, r.ZoneName)
		}
	}
	sort.Strings(zones)
	return zones, nil
}

func (s *memStore) ReclaimExpired(_ context.Context, cutoff time.Time, surveyID string) ([]domain.ReclaimedRespondent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.Join(domain.ErrStoreUnavailable, errConnRefused)
	}

	var out []domain.ReclaimedRespondent
	for _, id := range s.order {
		r := s.records[id]
		if r.State != domain.StateAssigned || r.AssignedAt == nil || !r.AssignedAt.Before(cutoff) {
			continue
		}
		if surveyID != "" && r.SurveyID != surveyID {
			continue
		}
		r.State = domain.StatePending
		r.AssignedTo = nil
		r.AssignedAt = nil
		out = append(out, domain.ReclaimedRespondent{ID: r.ID, SurveyID: r.SurveyID, ZoneName: r.ZoneName})
	}
	return out, nil
}

func (s *memStore) ActiveSurveys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.Join(domain.ErrStoreUnavailable, errConnRefused)
	}

	seen := make(map[string]bool)
	var surveys []string
	for _, id := range s.order {
		r := s.records[id]
		if r.State == domain.StatePending && !seen[r.SurveyID] {
			seen[r.SurveyID] = true
			surveys = append(surveys, r.SurveyID)
		}
	}
	sort.Strings(surveys)
	return surveys, nil
}

type memQueue struct {
	mu    sync.Mutex
	lists map[domain.QueueKey][]string
	down  bool
}

func newMemQueue() *memQueue {
	return &memQueue{lists: make(map[domain.QueueKey][]string)}
}

func (q *memQueue) setDown(v bool) {
	q.mu.Lock()
	q.down = v
	q.mu.Unlock()
}

func (q *memQueue) contents(key domain.QueueKey) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.lists[key]...)
}

func (q *memQueue) Pop(_ context.Context, key domain.QueueKey) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down || len(q.lists[key]) == 0 {
		return "", false
	}
	id := q.lists[key][0]
	q.lists[key] = q.lists[key][1:]
	return id, true
}

func (q *memQueue) PushBack(_ context.Context, key domain.QueueKey, ids []string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return 0
	}
	q.lists[key] = append(q.lists[key], ids...)
	return int64(len(q.lists[key]))
}

func (q *memQueue) Length(_ context.Context, key domain.QueueKey) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return 0
	}
	return int64(len(q.lists[key]))
}

func (q *memQueue) Snapshot(_ context.Context, key domain.QueueKey) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return nil
	}
	return append([]string(nil), q.lists[key]...)
}

func (q *memQueue) Clear(_ context.Context, key domain.QueueKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.lists, key)
}

func (q *memQueue) ClearAllForSurvey(_ context.Context, surveyID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down {
		return 0, errConnRefused
	}
	n := 0
	for key := range q.lists {
		if key.SurveyID == surveyID {
			delete(q.lists, key)
			n++
		}
	}
	return n, nil
}

type staticPriorities map[string]int

func (p staticPriorities) GetPriority(_ context.Context, zoneName string) int {
	return p[zoneName]
}

func (p staticPriorities) Map(context.Context) map[string]int { return p }

func (p staticPriorities) ActiveZones(_ context.Context, zoneNames []string) []domain.Zone {
	var zones []domain.Zone
	for _, name := range zoneNames {
		if p[name] > 0 {
			zones = append(zones, domain.Zone{Name: name, Priority: p[name]})
		}
	}
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Priority != zones[j].Priority {
			return zones[i].Priority > zones[j].Priority
		}
		return strings.Compare(zones[i].Name, zones[j].Name) < 0
	})
	return zones
}

type recordingPublisher struct {
	mu       sync.Mutex
	assigned []domain.Assignment
	err      error
}

func (p *recordingPublisher) PublishAssigned(_ context.Context, a domain.Assignment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assigned = append(p.assigned, a)
	return p.err
}
