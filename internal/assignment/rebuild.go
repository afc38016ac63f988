package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
	"github.com/cuongbtq/cati-assign/internal/metrics"
)

// RebuildResult summarises a forced queue rebuild for one survey
type RebuildResult struct {
	SurveyID          string `json:"survey_id"`
	Reclaimed         int    `json:"reclaimed"`
	Cleared           int    `json:"cleared"`
	QueuesInitialized int    `json:"queues_initialized"`
}

// RebuildSurvey returns the survey's expired assignments to pending, drops
// all of its queues and repopulates every active zone. Safe to repeat.
func (c *Coordinator) RebuildSurvey(ctx context.Context, surveyID string) (*RebuildResult, error) {
	result := &RebuildResult{SurveyID: surveyID}

	cutoff := c.cfg.Now().Add(-c.cfg.LeaseDuration)
	reclaimed, err := c.store.ReclaimExpired(ctx, cutoff, surveyID)
	if err != nil {
		return nil, err
	}
	result.Reclaimed = len(reclaimed)

	cleared, err := c.queue.ClearAllForSurvey(ctx, surveyID)
	if err != nil {
		c.logger.Warn("Failed to clear queues, continuing with repopulation",
			slog.String("survey_id", surveyID),
			slog.Any("error", err),
		)
	}
	result.Cleared = cleared

	c.ForgetZones(surveyID)
	zones, err := c.activeZones(ctx, surveyID)
	if err != nil {
		return nil, err
	}

	for _, z := range zones {
		key := domain.QueueKey{SurveyID: surveyID, ZoneName: z.Name, Priority: z.Priority}
		added, err := c.refiller.InitializeQueue(ctx, key, metrics.RefillRebuild)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize queue %s: %w", key, err)
		}
		if added > 0 {
			result.QueuesInitialized++
		}
	}

	c.logger.Info("Survey queues rebuilt",
		slog.String("survey_id", surveyID),
		slog.Int("reclaimed", result.Reclaimed),
		slog.Int("cleared", result.Cleared),
		slog.Int("queues_initialized", result.QueuesInitialized),
	)

	return result, nil
}

// RebuildAll rebuilds every survey that still has pending respondents.
// A failing survey is logged and skipped.
func (c *Coordinator) RebuildAll(ctx context.Context) ([]RebuildResult, error) {
	surveys, err := c.store.ActiveSurveys(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]RebuildResult, 0, len(surveys))
	for _, surveyID := range surveys {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		r, err := c.RebuildSurvey(ctx, surveyID)
		if err != nil {
			c.logger.Error("Failed to rebuild survey queues",
				slog.String("survey_id", surveyID),
				slog.Any("error", err),
			)
			continue
		}
		results = append(results, *r)
	}

	return results, nil
}
