package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/patrickwarner/trackpromo/internal/logic"
	"github.com/patrickwarner/trackpromo/internal/models"
)

// Config is everything one orchestrator run needs to know about its campaign.
type Config struct {
	Key           string
	Name          string
	Artist        string
	Track         string
	ArtistGroupID int
	ArtistGroup   string // Optional short name used in the post mention.
	Citation      string
	Cabinet       models.Cabinet
	Budget        float64 // Zero means no budget stop; Schedule.End is then required.
	MusicInterest bool
	Schedule      models.Schedule

	Objective logic.Objective // Ratio used at the test gate.
	Policy    logic.Policy
	Pacing    Pacing

	Timing         Timing
	Retry          RetryConfig
	TestSpendLimit int // Per-ad spend cap while testing.
}

// Pacing steers reach speed against an even spend line when enabled.
type Pacing struct {
	Enabled   bool
	Tolerance float64
}

// Timing bounds every suspension point in the lifecycle.
type Timing struct {
	ModerationPoll    time.Duration
	ModerationTimeout time.Duration
	ModerationSpend   float64 // Spend at which an ad counts as through moderation.
	SchedulePoll      time.Duration
	RebalanceInterval time.Duration
	ReportCooldown    time.Duration
	StopTimeout       time.Duration // Budget for stopping ads after cancellation.
	LeaseMargin       time.Duration // Added to every wait when refreshing the lease.
}

// DefaultTiming returns the reference lifecycle timings.
func DefaultTiming() Timing {
	return Timing{
		ModerationPoll:    20 * time.Minute,
		ModerationTimeout: 24 * time.Hour,
		ModerationSpend:   100,
		SchedulePoll:      5 * time.Minute,
		RebalanceInterval: 1200 * time.Second,
		ReportCooldown:    time.Hour,
		StopTimeout:       2 * time.Minute,
		LeaseMargin:       5 * time.Minute,
	}
}

// RetryConfig bounds retries of transient remote failures.
type RetryConfig struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) validate() error {
	var errs []error
	if c.Key == "" {
		errs = append(errs, errors.New("key is required"))
	}
	if c.Cabinet.AccountID <= 0 {
		errs = append(errs, errors.New("cabinet account id must be positive"))
	}
	if c.Budget < 0 {
		errs = append(errs, errors.New("budget must not be negative"))
	}
	if c.Budget == 0 && c.Schedule.End.IsZero() {
		errs = append(errs, ErrUnbounded)
	}
	switch c.Objective {
	case logic.ObjectiveCost, logic.ObjectiveRate:
	default:
		errs = append(errs, fmt.Errorf("unknown objective %q", c.Objective))
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	t := c.Timing
	if t.ModerationPoll <= 0 || t.ModerationTimeout <= 0 || t.SchedulePoll <= 0 || t.RebalanceInterval <= 0 {
		errs = append(errs, errors.New("poll intervals and moderation timeout must be positive"))
	}
	if t.ReportCooldown < 0 {
		errs = append(errs, errors.New("report cooldown must not be negative"))
	}
	if t.StopTimeout <= 0 {
		errs = append(errs, errors.New("stop timeout must be positive"))
	}
	if t.ModerationSpend <= 0 {
		errs = append(errs, errors.New("moderation spend threshold must be positive"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if !c.Schedule.Start.IsZero() && !c.Schedule.End.IsZero() && !c.Schedule.End.After(c.Schedule.Start) {
		errs = append(errs, errors.New("schedule end must be after start"))
	}
	if c.Pacing.Enabled && (c.Budget <= 0 || c.Schedule.Start.IsZero() || c.Schedule.End.IsZero()) {
		errs = append(errs, errors.New("pacing needs a budget and a bounded schedule"))
	}
	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}
