// Package events publishes assignment outcomes to the message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/cati-assign/internal/assignment/domain"
)

// Routing keys
const (
	RoutingKeyAssigned  = "respondent.assigned"
	RoutingKeyReclaimed = "respondent.reclaimed"
)

const contentTypeJSON = "application/json"

// Broker sends a message to the configured exchange
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// AssignedEvent is emitted for every successful assignment
type AssignedEvent struct {
	RespondentID string    `json:"respondent_id"`
	SurveyID     string    `json:"survey_id"`
	ZoneName     string    `json:"zone_name"`
	Priority     int       `json:"priority"`
	CallerID     string    `json:"caller_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// ReclaimedEvent is emitted once per sweep that reclaimed anything
type ReclaimedEvent struct {
	ReclaimedCount int              `json:"reclaimed_count"`
	AffectedZones  []domain.ZoneKey `json:"affected_zones"`
	SweptAt        time.Time        `json:"swept_at"`
}

// Publisher turns domain outcomes into broker messages
type Publisher struct {
	broker  Broker
	logger  *slog.Logger
	timeout time.Duration
}

// NewPublisher creates a publisher. timeout bounds each publish including retries.
func NewPublisher(broker Broker, logger *slog.Logger, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{broker: broker, logger: logger, timeout: timeout}
}

// PublishAssigned emits a respondent.assigned event
func (p *Publisher) PublishAssigned(ctx context.Context, a domain.Assignment) error {
	return p.publish(ctx, RoutingKeyAssigned, AssignedEvent{
		RespondentID: a.RespondentID,
		SurveyID:     a.SurveyID,
		ZoneName:     a.ZoneName,
		Priority:     a.Priority,
		CallerID:     a.CallerID,
		AssignedAt:   a.AssignedAt,
	})
}

// PublishReclaimed emits a respondent.reclaimed event
func (p *Publisher) PublishReclaimed(ctx context.Context, result domain.SweepResult) error {
	return p.publish(ctx, RoutingKeyReclaimed, ReclaimedEvent(result))
}

func (p *Publisher) publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.broker.PublishWithRetry(ctx, routingKey, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}

	p.logger.Debug("Event published",
		slog.String("routing_key", routingKey),
		slog.Int("body_size", len(body)),
	)
	return nil
}

// Nop discards every event. Used when the broker is disabled.
type Nop struct{}

func (Nop) PublishAssigned(context.Context, domain.Assignment) error { return nil }

func (Nop) PublishReclaimed(context.Context, domain.SweepResult) error { return nil }
