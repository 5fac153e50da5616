// Package logic contains the bid and stop decisions that drive a running
// promotion campaign.
//
// The Calculator turns a snapshot of ad metrics into a set of CPM updates and a
// stop-list. Two objective modes are supported:
//   - rate targeting compares listens per reach against target and stop rates.
//   - cost targeting compares money spent per listen against target and stop
//     costs, with the polarity inverted.
//
// Both modes are pure functions of the snapshot and the policy. A third mode,
// reach speed, nudges every bid up or down to change the campaign's overall
// delivery pace and adapts the policy's cost thresholds as a side effect. It
// is the only operation that mutates the policy.
//
// All money arithmetic runs on shopspring/decimal rounded to the platform's
// currency granularity so floating point noise never leaks into a bid.
package logic

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// moneyPlaces is the currency granularity for bids and costs.
const moneyPlaces int32 = 2

// policyPlaces keeps adapted thresholds precise enough for delta/40 and delta/50 steps.
const policyPlaces int32 = 4

var hundred = decimal.NewFromInt(100)

// Decision is the outcome for a single ad in one calculator pass.
type Decision string

const (
	DecisionRaise Decision = "raise"
	DecisionLower Decision = "lower"
	DecisionClamp Decision = "clamp" // Lowered exactly to the floor.
	DecisionHold  Decision = "hold"  // Already at the floor, left out of the update map.
	DecisionStop  Decision = "stop"
	DecisionSkip  Decision = "skip" // Metrics insufficient for a ratio.
)

// Updates is the result of one calculator pass. Bids and Stop never share an
// ad ID, and every input ad lands in exactly one of Bids, Stop, Held or Skipped.
type Updates struct {
	Bids      map[int]float64
	Stop      []int
	Held      []int
	Skipped   []int
	Decisions map[int]Decision
}

func newUpdates(n int) Updates {
	return Updates{
		Bids:      make(map[int]float64, n),
		Decisions: make(map[int]Decision, n),
	}
}

func (u *Updates) record(id int, d Decision, bid decimal.Decimal) {
	u.Decisions[id] = d
	switch d {
	case DecisionRaise, DecisionLower, DecisionClamp:
		u.Bids[id] = toMoney(bid)
	case DecisionHold:
		u.Held = append(u.Held, id)
	case DecisionStop:
		u.Stop = append(u.Stop, id)
	case DecisionSkip:
		u.Skipped = append(u.Skipped, id)
	}
}

// Count returns how many ads received decision d.
func (u Updates) Count(d Decision) int {
	n := 0
	for _, got := range u.Decisions {
		if got == d {
			n++
		}
	}
	return n
}

// Calculator applies a Policy to ad snapshots. A Calculator owns its policy
// and must not be shared between campaigns.
type Calculator struct {
	policy Policy
}

// NewCalculator validates p and returns a calculator that owns it.
func NewCalculator(p Policy) (*Calculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{policy: p}, nil
}

// Policy returns a copy of the calculator's current policy.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// UpdatesForTargetRate decides bids from listens per reach. Ads with zero
// reach are skipped.
func (c *Calculator) UpdatesForTargetRate(ads map[int]models.AdMetrics) Updates {
	out := newUpdates(len(ads))
	target := decimal.NewFromFloat(c.policy.TargetRate).Mul(hundred)
	stop := decimal.NewFromFloat(c.policy.StopRate).Mul(hundred)

	for _, id := range sortedIDs(ads) {
		m := ads[id]
		rate, err := listensRate(m)
		if err != nil {
			out.record(id, DecisionSkip, decimal.Zero)
			continue
		}
		switch {
		case rate.LessThan(stop):
			out.record(id, DecisionStop, decimal.Zero)
		case rate.LessThan(target):
			bid, d := c.lower(m.CurrentBid)
			out.record(id, d, bid)
		default:
			out.record(id, DecisionRaise, c.raise(m.CurrentBid))
		}
	}
	return out
}

// UpdatesForTargetCost decides bids from money spent per listen. Ads with no
// listens are skipped.
func (c *Calculator) UpdatesForTargetCost(ads map[int]models.AdMetrics) Updates {
	out := newUpdates(len(ads))
	target := decimal.NewFromFloat(c.policy.TargetCost)
	stop := decimal.NewFromFloat(c.policy.StopCost)

	for _, id := range sortedIDs(ads) {
		m := ads[id]
		cost, err := listenCost(m)
		if err != nil {
			out.record(id, DecisionSkip, decimal.Zero)
			continue
		}
		switch {
		case cost.GreaterThan(stop):
			out.record(id, DecisionStop, decimal.Zero)
		case cost.GreaterThan(target):
			bid, d := c.lower(m.CurrentBid)
			out.record(id, d, bid)
		default:
			out.record(id, DecisionRaise, c.raise(m.CurrentBid))
		}
	}
	return out
}

// Classify runs the calculator in the given objective mode.
func (c *Calculator) Classify(obj Objective, ads map[int]models.AdMetrics) Updates {
	if obj == ObjectiveRate {
		return c.UpdatesForTargetRate(ads)
	}
	return c.UpdatesForTargetCost(ads)
}

func (c *Calculator) raise(bid float64) decimal.Decimal {
	return money(bid).Add(money(c.policy.CPMStep))
}

// lower steps a bid down without crossing the floor. Bids within one step of
// the floor clamp to it; bids already at or under the floor are held.
func (c *Calculator) lower(bid float64) (decimal.Decimal, Decision) {
	cur := money(bid)
	floor := money(c.policy.CPMFloor)
	step := money(c.policy.CPMStep)
	switch {
	case cur.LessThanOrEqual(floor):
		return floor, DecisionHold
	case cur.LessThan(floor.Add(step)):
		return floor, DecisionClamp
	default:
		return cur.Sub(step), DecisionLower
	}
}

// ListensRate returns listens per reach as a percentage rounded to two places.
func ListensRate(m models.AdMetrics) (float64, error) {
	r, err := listensRate(m)
	if err != nil {
		return 0, err
	}
	return toMoney(r), nil
}

// ListenCost returns money spent per listen rounded to two places.
func ListenCost(m models.AdMetrics) (float64, error) {
	c, err := listenCost(m)
	if err != nil {
		return 0, err
	}
	return toMoney(c), nil
}

func listensRate(m models.AdMetrics) (decimal.Decimal, error) {
	if m.Reach <= 0 {
		return decimal.Zero, fmt.Errorf("ad %d has no reach: %w", m.AdID, ErrDivisionUndefined)
	}
	return decimal.NewFromInt(m.Listens).
		Div(decimal.NewFromInt(m.Reach)).
		Mul(hundred).
		Round(moneyPlaces), nil
}

func listenCost(m models.AdMetrics) (decimal.Decimal, error) {
	if m.Listens <= 0 {
		return decimal.Zero, fmt.Errorf("ad %d has no listens: %w", m.AdID, ErrDivisionUndefined)
	}
	return decimal.NewFromFloat(m.Spent).
		Div(decimal.NewFromInt(m.Listens)).
		Round(moneyPlaces), nil
}

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(moneyPlaces)
}

func toMoney(d decimal.Decimal) float64 {
	f, _ := d.Round(moneyPlaces).Float64()
	return f
}

func sortedIDs(ads map[int]models.AdMetrics) []int {
	ids := make([]int, 0, len(ads))
	for id := range ads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
