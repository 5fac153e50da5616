package logic

import "errors"

var (
	// ErrDivisionUndefined is returned when an ad lacks the reach or listens
	// needed for a ratio. The ad is skipped for the round, never stopped.
	ErrDivisionUndefined = errors.New("ratio undefined: zero denominator")

	// ErrInvalidPolicy wraps every policy validation failure.
	ErrInvalidPolicy = errors.New("invalid policy")
)
