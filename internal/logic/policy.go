package logic

import (
	"fmt"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// Objective selects which ratio the calculator optimizes.
type Objective string

const (
	// ObjectiveRate targets listens per reach.
	ObjectiveRate Objective = "rate"
	// ObjectiveCost targets money spent per listen.
	ObjectiveCost Objective = "cost"
)

// Policy holds the thresholds governing one campaign's decision loop.
//
// Rates are fractions (0.04 means 4 listens per 100 reach). Costs are in
// account currency per listen. Only reach-speed pacing mutates a policy, and
// only through the Calculator that owns it.
type Policy struct {
	TargetRate    float64 `json:"target_rate" toml:"target_rate"`
	StopRate      float64 `json:"stop_rate" toml:"stop_rate"`
	TargetCost    float64 `json:"target_cost" toml:"target_cost"`
	StopCost      float64 `json:"stop_cost" toml:"stop_cost"`
	CPMStep       float64 `json:"cpm_step" toml:"cpm_step"`
	CPMFloor      float64 `json:"cpm_floor" toml:"cpm_floor"`
	ReachSpeedCap float64 `json:"reach_speed_cap" toml:"reach_speed_cap"` // Max per-ad bid delta in reach-speed mode.
}

// DefaultPolicy returns the thresholds used when a campaign file omits them.
func DefaultPolicy() Policy {
	return Policy{
		TargetRate:    0.04,
		StopRate:      0.03,
		TargetCost:    1,
		StopCost:      2,
		CPMStep:       10,
		CPMFloor:      models.CPMFloor,
		ReachSpeedCap: 50,
	}
}

// NewPolicy fills unset fields from DefaultPolicy and validates the result.
func NewPolicy(p Policy) (Policy, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// WithDefaults returns p with unset fields taken from DefaultPolicy. Rate and
// cost thresholds are defaulted as pairs so an explicit zero stop rate survives.
func (p Policy) WithDefaults() Policy {
	def := DefaultPolicy()
	if p.TargetRate == 0 && p.StopRate == 0 {
		p.TargetRate, p.StopRate = def.TargetRate, def.StopRate
	}
	if p.TargetCost == 0 && p.StopCost == 0 {
		p.TargetCost, p.StopCost = def.TargetCost, def.StopCost
	}
	if p.CPMFloor == 0 {
		p.CPMFloor = def.CPMFloor
	}
	if p.CPMStep == 0 {
		p.CPMStep = def.CPMStep
	}
	if p.ReachSpeedCap == 0 {
		p.ReachSpeedCap = 5 * p.CPMStep
	}
	return p
}

// Validate checks the policy for contradictory or impossible thresholds.
func (p Policy) Validate() error {
	switch {
	case p.CPMStep <= 0:
		return fmt.Errorf("%w: cpm_step must be positive, got %v", ErrInvalidPolicy, p.CPMStep)
	case p.CPMFloor <= 0:
		return fmt.Errorf("%w: cpm_floor must be positive, got %v", ErrInvalidPolicy, p.CPMFloor)
	case p.StopRate < 0:
		return fmt.Errorf("%w: stop_rate must not be negative, got %v", ErrInvalidPolicy, p.StopRate)
	case p.StopRate >= p.TargetRate:
		return fmt.Errorf("%w: stop_rate %v must be below target_rate %v", ErrInvalidPolicy, p.StopRate, p.TargetRate)
	case p.TargetCost <= 0:
		return fmt.Errorf("%w: target_cost must be positive, got %v", ErrInvalidPolicy, p.TargetCost)
	case p.TargetCost >= p.StopCost:
		return fmt.Errorf("%w: target_cost %v must be below stop_cost %v", ErrInvalidPolicy, p.TargetCost, p.StopCost)
	case p.ReachSpeedCap <= 0:
		return fmt.Errorf("%w: reach_speed_cap must be positive, got %v", ErrInvalidPolicy, p.ReachSpeedCap)
	}
	return nil
}

// CostTargets returns the policy's current cost thresholds.
func (p Policy) CostTargets() models.CostTargets {
	return models.CostTargets{TargetCost: p.TargetCost, StopCost: p.StopCost}
}
