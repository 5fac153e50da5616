package campaign

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPersistenceConflict marks persisted state the orchestrator refuses to resume from.
	ErrPersistenceConflict = errors.New("persisted campaign state is inconsistent")
	// ErrCampaignDone is returned when running a campaign that already finished.
	ErrCampaignDone = errors.New("campaign already finished")
	// ErrLeaseHeld is returned when another process owns the campaign.
	ErrLeaseHeld = errors.New("campaign is owned by another run")
	// ErrLeaseLost is returned when the campaign lease expired or was taken over mid-run.
	ErrLeaseLost = errors.New("campaign lease lost")
	// ErrNoAudiences is returned when the cabinet offers no retarget audiences to fan out to.
	ErrNoAudiences = errors.New("no retarget audiences available")
	// ErrUnbounded rejects a campaign with neither a budget nor a scheduled end.
	ErrUnbounded = errors.New("campaign needs a budget or a scheduled end")
	// ErrStopIncomplete is returned when some ads could not be paused. The
	// campaign stays in the stopping phase so a resume repeats the stop.
	ErrStopIncomplete = errors.New("ads still active after stop")
)

// ConflictError describes why persisted state could not be resumed.
type ConflictError struct {
	Key    string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("campaign %s: %s: %s", e.Key, ErrPersistenceConflict, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrPersistenceConflict }

// ErrorKind classifies the error for callers that map failures to outcomes.
func (e *ConflictError) ErrorKind() string { return "persistence_conflict" }

// ConfigError wraps a configuration problem found while constructing an Orchestrator.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "campaign configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrorKind classifies the error for callers that map failures to outcomes.
func (e *ConfigError) ErrorKind() string { return "configuration" }

// IsTransient reports whether err is a remote failure worth retrying.
// Errors opt in by implementing Temporary() bool; cancellation never retries.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
