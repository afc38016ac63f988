package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cati-assign/internal/api/dto"
	"github.com/cuongbtq/cati-assign/internal/assignment/queue"
)

// AssignmentHandler serves interviewer-facing assignment requests
type AssignmentHandler struct {
	logger   *slog.Logger
	assigner Assigner
}

// NewAssignmentHandler creates a new AssignmentHandler instance
func NewAssignmentHandler(deps *Dependencies) *AssignmentHandler {
	return &AssignmentHandler{
		logger:   deps.Logger,
		assigner: deps.Assigner,
	}
}

// surveyID reads and validates the :survey_id path parameter.
// Writes a 400 and returns false when it is unusable.
func surveyID(c *gin.Context) (string, bool) {
	id := c.Param("survey_id")
	if !queue.ValidSurveyID(id) {
		errorJSON(c, http.StatusBadRequest, "survey_id must contain only letters, digits, '-' or '_'")
		return "", false
	}
	return id, true
}

// AssignNext handles POST /api/v1/surveys/:survey_id/assignments
// Assigns the next respondent to call to the requesting interviewer
func (h *AssignmentHandler) AssignNext(c *gin.Context) {
	sid, ok := surveyID(c)
	if !ok {
		return
	}

	var req dto.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.CallerID) == "" {
		h.logger.Warn("Invalid assignment request", slog.String("survey_id", sid))
		errorJSON(c, http.StatusBadRequest, "caller_id is required")
		return
	}

	a, err := h.assigner.AssignNext(c.Request.Context(), sid, req.CallerID)
	if err != nil {
		storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AssignmentResponse{
		RespondentID: a.RespondentID,
		SurveyID:     a.SurveyID,
		ZoneName:     a.ZoneName,
		Priority:     a.Priority,
		ContactName:  a.ContactName,
		ContactPhone: a.ContactPhone,
		AssignedAt:   a.AssignedAt,
	})
}

// ListQueues handles GET /api/v1/surveys/:survey_id/queues
func (h *AssignmentHandler) ListQueues(c *gin.Context) {
	sid, ok := surveyID(c)
	if !ok {
		return
	}

	statuses, err := h.assigner.Queues(c.Request.Context(), sid)
	if err != nil {
		h.logger.Error("Failed to list queues",
			slog.String("survey_id", sid),
			slog.Any("error", err),
		)
		storeError(c, err)
		return
	}

	resp := dto.ListQueuesResponse{SurveyID: sid, Queues: make([]dto.QueueDTO, 0, len(statuses))}
	for _, s := range statuses {
		resp.Queues = append(resp.Queues, dto.QueueDTO{
			ZoneName: s.ZoneName,
			Priority: s.Priority,
			Length:   s.Length,
		})
	}
	c.JSON(http.StatusOK, resp)
}
