package domain

// Respondent state constants
const (
	StatePending   = "pending"
	StateAssigned  = "assigned"
	StateCompleted = "completed"
)
