package assignment

import (
	"context"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
)

// RespondentStore is the durable source of truth for respondent state
type RespondentStore interface {
	ListPending(ctx context.Context, surveyID, zoneName string, limit int, excludeIDs []string) ([]string, error)
	ClaimPending(ctx context.Context, id, callerID string, at time.Time) (*domain.Respondent, error)
	PendingZones(ctx context.Context, surveyID string) ([]string, error)
	ReclaimExpired(ctx context.Context, cutoff time.Time, surveyID string) ([]domain.ReclaimedRespondent, error)
	ActiveSurveys(ctx context.Context) ([]string, error)
}

// QueueCache holds one atomic FIFO list of respondent ids per QueueKey.
// Implementations degrade to a miss or no-op when the backing store is unavailable.
type QueueCache interface {
	Pop(ctx context.Context, key domain.QueueKey) (string, bool)
	PushBack(ctx context.Context, key domain.QueueKey, ids []string) int64
	Length(ctx context.Context, key domain.QueueKey) int64
	Snapshot(ctx context.Context, key domain.QueueKey) []string
	Clear(ctx context.Context, key domain.QueueKey)
	ClearAllForSurvey(ctx context.Context, surveyID string) (int, error)
}

// PriorityTable maps zone names to priority ranks
type PriorityTable interface {
	GetPriority(ctx context.Context, zoneName string) int
	Map(ctx context.Context) map[string]int
	ActiveZones(ctx context.Context, zoneNames []string) []domain.Zone
}

// EventPublisher notifies downstream collaborators of assignments
type EventPublisher interface {
	PublishAssigned(ctx context.Context, a domain.Assignment) error
}
