package domain

import "errors"

var (
	// ErrNoneAvailable is returned when no pending respondent could be assigned.
	// It covers both genuine exhaustion and a degraded queue cache.
	ErrNoneAvailable = errors.New("no respondent available")

	// ErrLostRace is returned when a conditional transition finds the record
	// no longer in the expected state
	ErrLostRace = errors.New("respondent already claimed or not in pending state")

	// ErrStoreUnavailable is returned when the durable respondent store cannot be reached
	ErrStoreUnavailable = errors.New("respondent store unavailable")

	// ErrRespondentNotFound is returned when a respondent cannot be found in the database
	ErrRespondentNotFound = errors.New("respondent not found")
)
