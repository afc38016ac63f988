package dto

import "time"

type AssignRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
}

type AssignmentResponse struct {
	RespondentID string    `json:"respondent_id"`
	SurveyID     string    `json:"survey_id"`
	ZoneName     string    `json:"zone_name"`
	Priority     int       `json:"priority"`
	ContactName  string    `json:"contact_name"`
	ContactPhone string    `json:"contact_phone"`
	AssignedAt   time.Time `json:"assigned_at"`
}

type QueueDTO struct {
	ZoneName string `json:"zone_name"`
	Priority int    `json:"priority"`
	Length   int64  `json:"length"`
}

type ListQueuesResponse struct {
	SurveyID string     `json:"survey_id"`
	Queues   []QueueDTO `json:"queues"`
}

type ReloadPrioritiesResponse struct {
	Zones      int            `json:"zones"`
	Priorities map[string]int `json:"priorities"`
}

// RespondentResponse is the operator view of a respondent's assignment state
type RespondentResponse struct {
	ID         string     `json:"id"`
	SurveyID   string     `json:"survey_id"`
	ZoneName   string     `json:"zone_name"`
	State      string     `json:"state"`
	AssignedTo *string    `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
