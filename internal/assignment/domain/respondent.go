package domain

import (
	"fmt"
	"time"
)

// Respondent is the narrow view of a respondent record the assignment core reads and mutates
type Respondent struct {
	ID           string     `db:"id"`
	SurveyID     string     `db:"survey_id"`
	ZoneName     string     `db:"zone_name"`
	State        string     `db:"state"`
	AssignedTo   *string    `db:"assigned_to"`
	AssignedAt   *time.Time `db:"assigned_at"`
	ContactName  string     `db:"contact_name"`
	ContactPhone string     `db:"contact_phone"`
	CreatedAt    time.Time  `db:"created_at"`
}

// ReclaimedRespondent identifies a record returned to pending by a sweep
type ReclaimedRespondent struct {
	ID       string `db:"id"`
	SurveyID string `db:"survey_id"`
	ZoneName string `db:"zone_name"`
}

// QueueKey identifies one FIFO list of respondent ids
type QueueKey struct {
	SurveyID string
	ZoneName string
	Priority int
}

func (k QueueKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.SurveyID, k.ZoneName, k.Priority)
}

// Zone is a zone the survey is actively serving, with its priority rank
type Zone struct {
	Name     string
	Priority int
}

// Assignment is the result handed back to a caller
type Assignment struct {
	RespondentID string
	SurveyID     string
	ZoneName     string
	Priority     int
	CallerID     string
	ContactName  string
	ContactPhone string
	AssignedAt   time.Time
}

// ZoneKey groups reclaimed records by survey and zone
type ZoneKey struct {
	SurveyID string `json:"survey_id"`
	ZoneName string `json:"zone_name"`
}

// SweepResult reports one pass of the stale-assignment reclaimer
type SweepResult struct {
	ReclaimedCount int       `json:"reclaimed_count"`
	AffectedZones  []ZoneKey `json:"affected_zones"`
	SweptAt        time.Time `json:"swept_at"`
}
