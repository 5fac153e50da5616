package logic

import (
	"time"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// Pace compares a campaign's spend with an even spread of its budget over the
// schedule window.
type Pace int

const (
	PaceOnTrack Pace = iota
	PaceBehind       // spending slower than the even line; speed up
	PaceAhead        // spending faster than the even line; slow down
)

func (p Pace) String() string {
	switch p {
	case PaceBehind:
		return "behind"
	case PaceAhead:
		return "ahead"
	default:
		return "on_track"
	}
}

// ElapsedFraction returns how much of the schedule window has passed at now,
// clamped to [0, 1]. A schedule without both bounds returns 0.
func ElapsedFraction(s models.Schedule, now time.Time) float64 {
	if s.Start.IsZero() || s.End.IsZero() || !s.End.After(s.Start) {
		return 0
	}
	if !now.After(s.Start) {
		return 0
	}
	if !now.Before(s.End) {
		return 1
	}
	return float64(now.Sub(s.Start)) / float64(s.End.Sub(s.Start))
}

// PaceDirection reports whether spent is behind or ahead of budget*elapsed by
// more than the tolerance fraction. Without a budget or elapsed time every
// campaign is on track.
func PaceDirection(spent, budget, elapsed, tolerance float64) Pace {
	if budget <= 0 || elapsed <= 0 {
		return PaceOnTrack
	}
	expected := budget * elapsed
	switch {
	case spent < expected*(1-tolerance):
		return PaceBehind
	case spent > expected*(1+tolerance):
		return PaceAhead
	default:
		return PaceOnTrack
	}
}
