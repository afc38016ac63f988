package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/cati-assign/internal/api/handler"
	"github.com/cuongbtq/cati-assign/internal/assignment"
	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
	"github.com/cuongbtq/cati-assign/internal/reclaimer"
)

type stubAssigner struct {
	assignment *domain.Assignment
	assignErr  error
	queues     []assignment.QueueStatus
	queuesErr  error
	rebuild    *assignment.RebuildResult
	rebuildErr error

	lastSurvey string
	lastCaller string
}

func (s *stubAssigner) AssignNext(_ context.Context, surveyID, callerID string) (*domain.Assignment, error) {
	s.lastSurvey, s.lastCaller = surveyID, callerID
	return s.assignment, s.assignErr
}

func (s *stubAssigner) Queues(_ context.Context, surveyID string) ([]assignment.QueueStatus, error) {
	s.lastSurvey = surveyID
	return s.queues, s.queuesErr
}

func (s *stubAssigner) RebuildSurvey(_ context.Context, surveyID string) (*assignment.RebuildResult, error) {
	s.lastSurvey = surveyID
	return s.rebuild, s.rebuildErr
}

type stubSweeper struct {
	result *domain.SweepResult
	err    error
}

func (s *stubSweeper) Sweep(context.Context) (*domain.SweepResult, error) {
	return s.result, s.err
}

type stubPriorities map[string]int

func (p stubPriorities) Reload(context.Context) map[string]int { return p }

type stubLookup map[string]*domain.Respondent

func (l stubLookup) GetRespondentByID(_ context.Context, id string) (*domain.Respondent, error) {
	if id == "down" {
		return nil, domain.ErrStoreUnavailable
	}
	r, ok := l[id]
	if !ok {
		return nil, domain.ErrRespondentNotFound
	}
	return r, nil
}

type stubCheck struct{ err error }

func (c stubCheck) HealthCheck(context.Context) error { return c.err }

func newTestRouter(deps *handler.Dependencies, reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return SetupRouter(deps, reg)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAssignNext(t *testing.T) {
	assignedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		path       string
		body       string
		assignment *domain.Assignment
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name: "assigned",
			path: "/api/v1/surveys/S1/assignments",
			body: `{"caller_id":"c1"}`,
			assignment: &domain.Assignment{
				RespondentID: "r1", SurveyID: "S1", ZoneName: "A", Priority: 3,
				CallerID: "c1", ContactName: "Ada", ContactPhone: "555-0100", AssignedAt: assignedAt,
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "none available",
			path:       "/api/v1/surveys/S1/assignments",
			body:       `{"caller_id":"c1"}`,
			err:        domain.ErrNoneAvailable,
			wantStatus: http.StatusNotFound,
			wantError:  "no respondent available",
		},
		{
			name:       "store unavailable",
			path:       "/api/v1/surveys/S1/assignments",
			body:       `{"caller_id":"c1"}`,
			err:        fmt.Errorf("failed to list zones: %w", domain.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "respondent store unavailable",
		},
		{
			name:       "unexpected error",
			path:       "/api/v1/surveys/S1/assignments",
			body:       `{"caller_id":"c1"}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "missing caller",
			path:       "/api/v1/surveys/S1/assignments",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "caller_id is required",
		},
		{
			name:       "blank caller",
			path:       "/api/v1/surveys/S1/assignments",
			body:       `{"caller_id":"  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			path:       "/api/v1/surveys/S1/assignments",
			body:       `{"caller_id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "survey id with pattern characters",
			path:       "/api/v1/surveys/S*/assignments",
			body:       `{"caller_id":"c1"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assigner := &stubAssigner{assignment: tt.assignment, assignErr: tt.err}
			r := newTestRouter(&handler.Dependencies{Assigner: assigner}, nil)

			w := do(r, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			body := decode(t, w)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "S1", assigner.lastSurvey)
				assert.Equal(t, "c1", assigner.lastCaller)
				assert.Equal(t, "r1", body["respondent_id"])
				assert.Equal(t, "A", body["zone_name"])
				assert.Equal(t, "Ada", body["contact_name"])
				assert.Equal(t, "555-0100", body["contact_phone"])
				assert.Equal(t, "2026-03-01T09:00:00Z", body["assigned_at"])
			}
		})
	}
}

func TestListQueues(t *testing.T) {
	assigner := &stubAssigner{queues: []assignment.QueueStatus{
		{ZoneName: "A", Priority: 5, Length: 120},
		{ZoneName: "B", Priority: 1, Length: 0},
	}}
	r := newTestRouter(&handler.Dependencies{Assigner: assigner}, nil)

	w := do(r, http.MethodGet, "/api/v1/surveys/S1/queues", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"survey_id":"S1","queues":[
		{"zone_name":"A","priority":5,"length":120},
		{"zone_name":"B","priority":1,"length":0}]}`, w.Body.String())

	assigner.queuesErr = domain.ErrStoreUnavailable
	w = do(r, http.MethodGet, "/api/v1/surveys/S1/queues", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	assigner := &stubAssigner{rebuild: &assignment.RebuildResult{SurveyID: "S1", Reclaimed: 2, Cleared: 3, QueuesInitialized: 3}}
	sweeper := &stubSweeper{result: &domain.SweepResult{
		ReclaimedCount: 1,
		AffectedZones:  []domain.ZoneKey{{SurveyID: "S1", ZoneName: "A"}},
	}}
	r := newTestRouter(&handler.Dependencies{
		Assigner:   assigner,
		Sweeper:    sweeper,
		Priorities: stubPriorities{"A": 3, "B": 1},
	}, nil)

	t.Run("rebuild", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/admin/surveys/S1/rebuild", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"survey_id":"S1","reclaimed":2,"cleared":3,"queues_initialized":3}`, w.Body.String())
	})

	t.Run("reclaim", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/admin/reclaim", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(1), body["reclaimed_count"])
	})

	t.Run("reclaim while another sweep holds the lock", func(t *testing.T) {
		sweeper.err = reclaimer.ErrLocked
		defer func() { sweeper.err = nil }()

		w := do(r, http.MethodPost, "/api/v1/admin/reclaim", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("reload priorities", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/v1/admin/priorities/reload", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"zones":2,"priorities":{"A":3,"B":1}}`, w.Body.String())
	})
}

func TestGetRespondent(t *testing.T) {
	caller := "c7"
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	r := newTestRouter(&handler.Dependencies{Respondents: stubLookup{
		"r1": {
			ID: "r1", SurveyID: "S1", ZoneName: "A", State: domain.StateAssigned,
			AssignedTo: &caller, AssignedAt: &at, ContactName: "Ada",
			CreatedAt: at.Add(-time.Hour),
		},
	}}, nil)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{name: "found", id: "r1", wantStatus: http.StatusOK},
		{name: "missing", id: "r2", wantStatus: http.StatusNotFound},
		{name: "store down", id: "down", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/api/v1/admin/respondents/"+tt.id, "")
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decode(t, w)
			assert.Equal(t, "assigned", body["state"])
			assert.Equal(t, "c7", body["assigned_to"])
			assert.NotContains(t, body, "contact_name")
		})
	}
}

func TestHealth(t *testing.T) {
	t.Run("all backends up", func(t *testing.T) {
		r := newTestRouter(&handler.Dependencies{
			ServiceName: "cati-api",
			Checks:      map[string]handler.HealthChecker{"postgres": stubCheck{}, "redis": stubCheck{}},
		}, nil)

		w := do(r, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "cati-api", body["service"])
	})

	t.Run("redis down", func(t *testing.T) {
		r := newTestRouter(&handler.Dependencies{
			Checks: map[string]handler.HealthChecker{
				"postgres": stubCheck{},
				"redis":    stubCheck{err: errors.New("connection refused")},
			},
		}, nil)

		w := do(r, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decode(t, w)
		assert.Equal(t, "unhealthy", body["status"])
		checks := body["checks"].(map[string]any)
		assert.Equal(t, "ok", checks["postgres"])
		assert.Equal(t, "connection refused", checks["redis"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg, "cati")
	rec.LostRace()

	r := newTestRouter(&handler.Dependencies{}, reg)

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cati_assignment_lost_races_total 1")
}

func TestRequestID(t *testing.T) {
	r := newTestRouter(&handler.Dependencies{}, nil)

	w := do(r, http.MethodGet, "/health", "")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(&handler.Dependencies{}, nil)

	w := do(r, http.MethodOptions, "/api/v1/surveys/S1/assignments", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
