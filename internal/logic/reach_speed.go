package logic

import (
	"github.com/shopspring/decimal"

	"github.com/patrickwarner/trackpromo/internal/models"
)

var (
	speedFactor    = decimal.NewFromInt(10)
	fasterDivisor  = decimal.NewFromInt(40)
	slowerDivisor  = decimal.NewFromInt(50)
	minDelta       = decimal.New(1, -moneyPlaces)
	minTargetCost  = decimal.New(1, -moneyPlaces)
	minCostSpacing = decimal.New(1, -moneyPlaces)
)

// UpdatesForReachSpeed moves every bid up (faster) or down (slower) by a delta
// of (target_cost / current_cost) * 10, capped at the policy's ReachSpeedCap
// and never smaller than one currency unit. Ads without listens are skipped.
// Ads with listens but no spend get the capped delta.
//
// Faster loosens target_cost and stop_cost by delta/40 per adjusted ad; slower
// tightens them by delta/50 per measured ad, including ads already held at the
// floor. Every delta uses the target_cost in force when the call starts and the
// summed adjustment is applied once afterwards, so the result does not depend
// on ad order. Slower never lowers a bid below the floor, never drops
// target_cost below one currency unit, and keeps stop_cost above target_cost.
//
// This mode never stops an ad.
func (c *Calculator) UpdatesForReachSpeed(ads map[int]models.AdMetrics, faster bool) Updates {
	out := newUpdates(len(ads))
	target := decimal.NewFromFloat(c.policy.TargetCost)
	limit := money(c.policy.ReachSpeedCap)
	floor := money(c.policy.CPMFloor)
	total := decimal.Zero

	for _, id := range sortedIDs(ads) {
		m := ads[id]
		cost, err := listenCost(m)
		if err != nil {
			out.record(id, DecisionSkip, decimal.Zero)
			continue
		}

		delta := limit
		if cost.IsPositive() {
			delta = decimal.Min(target.Div(cost).Mul(speedFactor).Round(moneyPlaces), limit)
		}
		delta = decimal.Max(delta, minDelta)

		cur := money(m.CurrentBid)
		if faster {
			out.record(id, DecisionRaise, cur.Add(delta))
			total = total.Add(delta)
			continue
		}

		total = total.Add(delta)
		if cur.LessThanOrEqual(floor) {
			out.record(id, DecisionHold, floor)
			continue
		}
		next := cur.Sub(delta)
		if next.LessThanOrEqual(floor) {
			out.record(id, DecisionClamp, floor)
		} else {
			out.record(id, DecisionLower, next)
		}
	}

	if total.IsZero() {
		return out
	}
	c.adjustCostTargets(total, faster)
	return out
}

func (c *Calculator) adjustCostTargets(total decimal.Decimal, faster bool) {
	targetCost := decimal.NewFromFloat(c.policy.TargetCost)
	stopCost := decimal.NewFromFloat(c.policy.StopCost)

	if faster {
		shift := total.Div(fasterDivisor)
		targetCost = targetCost.Add(shift)
		stopCost = stopCost.Add(shift)
	} else {
		shift := total.Div(slowerDivisor)
		targetCost = decimal.Max(targetCost.Sub(shift), minTargetCost)
		stopCost = decimal.Max(stopCost.Sub(shift), targetCost.Add(minCostSpacing))
	}

	c.policy.TargetCost, _ = targetCost.Round(policyPlaces).Float64()
	c.policy.StopCost, _ = stopCost.Round(policyPlaces).Float64()
}

// RestoreCostTargets replaces the policy's cost thresholds with values adapted
// by an earlier run. Targets that would make the policy invalid are ignored.
func (c *Calculator) RestoreCostTargets(t models.CostTargets) bool {
	p := c.policy
	p.TargetCost = t.TargetCost
	p.StopCost = t.StopCost
	if p.Validate() != nil {
		return false
	}
	c.policy = p
	return true
}
