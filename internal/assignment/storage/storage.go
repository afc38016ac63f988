package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultTimeout bounds every statement issued by the storage layer
const DefaultTimeout = 3 * time.Second

// Conditional state transitions. Each only touches rows still in the expected state.
const (
	claimQuery = `
	UPDATE cati_respondents
	SET state = $1,
	    assigned_to = $2,
	    assigned_at = $3,
	    updated_at = NOW()
	WHERE id = $4
	  AND state = $5
	RETURNING id, survey_id, zone_name, state, assigned_to, assigned_at,
	          contact_name, contact_phone, created_at
	`

	reclaimQuery = `
	UPDATE cati_respondents
	SET state = $1,
	    assigned_to = NULL,
	    assigned_at = NULL,
	    updated_at = NOW()
	WHERE state = $2
	  AND assigned_at < $3
	  AND ($4::text = '' OR survey_id = $4::text)
	RETURNING id, survey_id, zone_name
	`
)

// Storage handles all respondent database operations for the assignment core
type Storage struct {
	db      *sqlx.DB
	logger  *slog.Logger
	timeout time.Duration
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Storage{
		db:      db,
		logger:  logger,
		timeout: timeout,
	}
}

// GetRespondentByID retrieves a respondent from the database by its ID
func (s *Storage) GetRespondentByID(ctx context.Context, id string) (*domain.Respondent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, survey_id, zone_name, state, assigned_to, assigned_at,
		       contact_name, contact_phone, created_at
		FROM cati_respondents
		WHERE id = $1
	`

	var r domain.Respondent
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRespondentNotFound
		}
		return nil, fmt.Errorf("%w: failed to get respondent: %w", domain.ErrStoreUnavailable, err)
	}

	return &r, nil
}

// ListPending returns up to limit pending respondent ids for a survey and zone,
// oldest first, skipping any id in excludeIDs
func (s *Storage) ListPending(ctx context.Context, surveyID, zoneName string, limit int, excludeIDs []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if excludeIDs == nil {
		excludeIDs = []string{}
	}

	query := `
		SELECT id
		FROM cati_respondents
		WHERE survey_id = $1
		  AND zone_name = $2
		  AND state = $3
		  AND NOT (id = ANY($4))
		ORDER BY created_at ASC, id ASC
		LIMIT $5
	`

	var ids []string
	err := s.db.SelectContext(ctx, &ids, query, surveyID, zoneName, domain.StatePending, pq.Array(excludeIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list pending respondents: %w", domain.ErrStoreUnavailable, err)
	}

	return ids, nil
}

// ClaimPending attempts to move a respondent from pending to assigned.
// Returns domain.ErrLostRace when the record is no longer pending.
func (s *Storage) ClaimPending(ctx context.Context, id, callerID string, at time.Time) (*domain.Respondent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var r domain.Respondent
	err := s.db.GetContext(ctx, &r, claimQuery, domain.StateAssigned, callerID, at, id, domain.StatePending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("Claim lost - respondent no longer pending",
				slog.String("respondent_id", id),
				slog.String("caller_id", callerID),
			)
			return nil, domain.ErrLostRace
		}
		return nil, fmt.Errorf("%w: failed to claim respondent: %w", domain.ErrStoreUnavailable, err)
	}

	return &r, nil
}

// ReclaimExpired returns every assignment older than cutoff to pending.
// An empty surveyID reclaims across all surveys.
func (s *Storage) ReclaimExpired(ctx context.Context, cutoff time.Time, surveyID string) ([]domain.ReclaimedRespondent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reclaimed []domain.ReclaimedRespondent
	err := s.db.SelectContext(ctx, &reclaimed, reclaimQuery, domain.StatePending, domain.StateAssigned, cutoff, surveyID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to reclaim expired assignments: %w", domain.ErrStoreUnavailable, err)
	}

	if len(reclaimed) > 0 {
		s.logger.Info("Expired assignments reclaimed",
			slog.Int("count", len(reclaimed)),
			slog.Time("cutoff", cutoff),
			slog.String("survey_id", surveyID),
		)
	}

	return reclaimed, nil
}

// PendingZones lists the distinct zones that still hold pending respondents for a survey
func (s *Storage) PendingZones(ctx context.Context, surveyID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT zone_name
		FROM cati_respondents
		WHERE survey_id = $1 AND state = $2
		ORDER BY zone_name
	`

	var zones []string
	if err := s.db.SelectContext(ctx, &zones, query, surveyID, domain.StatePending); err != nil {
		return nil, fmt.Errorf("%w: failed to list pending zones: %w", domain.ErrStoreUnavailable, err)
	}

	return zones, nil
}

// ActiveSurveys lists surveys that still hold pending respondents
func (s *Storage) ActiveSurveys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT survey_id
		FROM cati_respondents
		WHERE state = $1
		ORDER BY survey_id
	`

	var surveys []string
	if err := s.db.SelectContext(ctx, &surveys, query, domain.StatePending); err != nil {
		return nil, fmt.Errorf("%w: failed to list active surveys: %w", domain.ErrStoreUnavailable, err)
	}

	return surveys, nil
}
