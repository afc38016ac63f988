package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cati-assign/internal/api/dto"
	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
)

// AdminHandler serves operator endpoints
type AdminHandler struct {
	logger     *slog.Logger
	assigner   Assigner
	sweeper    Sweeper
	priorities PriorityReloader
	lookup     RespondentLookup
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger:     deps.Logger,
		assigner:   deps.Assigner,
		sweeper:    deps.Sweeper,
		priorities: deps.Priorities,
		lookup:     deps.Respondents,
	}
}

// RebuildSurvey handles POST /api/v1/admin/surveys/:survey_id/rebuild
func (h *AdminHandler) RebuildSurvey(c *gin.Context) {
	sid, ok := surveyID(c)
	if !ok {
		return
	}

	h.logger.Info("Rebuild requested", slog.String("survey_id", sid))

	result, err := h.assigner.RebuildSurvey(c.Request.Context(), sid)
	if err != nil {
		h.logger.Error("Failed to rebuild survey queues",
			slog.String("survey_id", sid),
			slog.Any("error", err),
		)
		storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Reclaim handles POST /api/v1/admin/reclaim
func (h *AdminHandler) Reclaim(c *gin.Context) {
	if h.sweeper == nil {
		errorJSON(c, http.StatusNotImplemented, "reclaimer not configured")
		return
	}

	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual reclaim failed", slog.Any("error", err))
		storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ReloadPriorities handles POST /api/v1/admin/priorities/reload
func (h *AdminHandler) ReloadPriorities(c *gin.Context) {
	m := h.priorities.Reload(c.Request.Context())

	h.logger.Info("Zone priorities reloaded", slog.Int("zones", len(m)))
	c.JSON(http.StatusOK, dto.ReloadPrioritiesResponse{Zones: len(m), Priorities: m})
}

// GetRespondent handles GET /api/v1/admin/respondents/:id
func (h *AdminHandler) GetRespondent(c *gin.Context) {
	id := c.Param("id")

	r, err := h.lookup.GetRespondentByID(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, domain.ErrRespondentNotFound) {
			h.logger.Error("Failed to get respondent",
				slog.String("respondent_id", id),
				slog.Any("error", err),
			)
		}
		storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.RespondentResponse{
		ID:         r.ID,
		SurveyID:   r.SurveyID,
		ZoneName:   r.ZoneName,
		State:      r.State,
		AssignedTo: r.AssignedTo,
		AssignedAt: r.AssignedAt,
		CreatedAt:  r.CreatedAt,
	})
}
