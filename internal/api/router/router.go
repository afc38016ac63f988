package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/cati-assign/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes.
// gatherer backs /metrics; prometheus.DefaultGatherer is used when nil.
func SetupRouter(deps *handler.Dependencies, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	assignmentHandler := handler.NewAssignmentHandler(deps)
	adminHandler := handler.NewAdminHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		surveys := v1.Group("/surveys/:survey_id")
		{
			// POST /api/v1/surveys/:survey_id/assignments - Assign the next respondent
			surveys.POST("/assignments", assignmentHandler.AssignNext)

			// GET /api/v1/surveys/:survey_id/queues - Queue lengths per zone
			surveys.GET("/queues", assignmentHandler.ListQueues)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/surveys/:survey_id/rebuild", adminHandler.RebuildSurvey)
			admin.POST("/reclaim", adminHandler.Reclaim)
			admin.POST("/priorities/reload", adminHandler.ReloadPriorities)
			admin.GET("/respondents/:id", adminHandler.GetRespondent)
		}
	}

	return r
}
