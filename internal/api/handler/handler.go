package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cati-assign/internal/api/dto"
	"github.com/cuongbtq/cati-assign/internal/assignment"
	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/reclaimer"
)

// Assigner hands out respondents and reports on survey queues
type Assigner interface {
	AssignNext(ctx context.Context, surveyID, callerID string) (*domain.Assignment, error)
	Queues(ctx context.Context, surveyID string) ([]assignment.QueueStatus, error)
	RebuildSurvey(ctx context.Context, surveyID string) (*assignment.RebuildResult, error)
}

// Sweeper runs an on-demand reclaim pass
type Sweeper interface {
	Sweep(ctx context.Context) (*domain.SweepResult, error)
}

// PriorityReloader refreshes the zone priority map from its source
type PriorityReloader interface {
	Reload(ctx context.Context) map[string]int
}

// RespondentLookup reads a single respondent record
type RespondentLookup interface {
	GetRespondentByID(ctx context.Context, id string) (*domain.Respondent, error)
}

// HealthChecker reports whether a backend is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Assigner    Assigner
	Sweeper     Sweeper
	Priorities  PriorityReloader
	Respondents RespondentLookup
	// Checks are probed by /health. A failing check marks the service unhealthy.
	Checks map[string]HealthChecker
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, dto.ErrorResponse{Error: msg})
}

// storeError maps core errors onto HTTP statuses
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNoneAvailable):
		errorJSON(c, http.StatusNotFound, "no respondent available")
	case errors.Is(err, domain.ErrRespondentNotFound):
		errorJSON(c, http.StatusNotFound, "respondent not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		errorJSON(c, http.StatusServiceUnavailable, "respondent store unavailable")
	case errors.Is(err, reclaimer.ErrLocked):
		errorJSON(c, http.StatusConflict, "reclaim already running")
	case errors.Is(err, context.DeadlineExceeded):
		errorJSON(c, http.StatusServiceUnavailable, "request timed out")
	default:
		errorJSON(c, http.StatusInternalServerError, "internal error")
	}
}
