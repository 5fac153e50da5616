// Package reporting builds campaign performance reports from the terminal
// snapshot and, when ClickHouse is available, from recorded snapshot history.
package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/patrickwarner/trackpromo/internal/logic"
	"github.com/patrickwarner/trackpromo/internal/models"
)

// Ad statuses shown in a report.
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
	StatusRemoved = "removed" // Present in the snapshot but no longer tracked by the campaign.
)

// Totals aggregates the whole campaign. Ratios are nil when undefined.
type Totals struct {
	Spent         float64  `json:"spent"`           // Total spend in account currency
	Reach         int64    `json:"reach"`           // Total reach across ads
	Listens       int64    `json:"listens"`         // Total playlist listens
	CostPerListen *float64 `json:"cost_per_listen"` // Spend divided by listens
	ListenRate    *float64 `json:"listen_rate"`     // Listens per reach as a percentage
	AdsActive     int      `json:"ads_active"`
	AdsStopped    int      `json:"ads_stopped"`
}

// AdLine is one ad's row in the report.
type AdLine struct {
	AdID          int      `json:"ad_id"`
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	Spent         float64  `json:"spent"`
	Reach         int64    `json:"reach"`
	Listens       int64    `json:"listens"`
	CPM           float64  `json:"cpm"` // Bid at snapshot time
	CostPerListen *float64 `json:"cost_per_listen"`
	ListenRate    *float64 `json:"listen_rate"`
}

// TimelinePoint is the campaign's cumulative totals at the end of one hour.
type TimelinePoint struct {
	Hour    time.Time `json:"hour"`
	Spent   float64   `json:"spent"`
	Reach   int64     `json:"reach"`
	Listens int64     `json:"listens"`
}

// Report is the final campaign result presented to operators.
type Report struct {
	Campaign string          `json:"campaign"`
	Name     string          `json:"name"`
	Phase    models.Phase    `json:"phase"`
	TakenAt  time.Time       `json:"taken_at"`
	Totals   Totals          `json:"totals"`
	Ads      []AdLine        `json:"ads"`
	Timeline []TimelinePoint `json:"timeline,omitempty"`
}

// Build assembles a report from campaign state and a snapshot. Ads are ordered
// by cost per listen, cheapest first, with unmeasurable ads last.
func Build(state *models.CampaignState, snap models.Snapshot) Report {
	r := Report{
		Campaign: state.Key,
		Name:     state.Name,
		Phase:    state.Phase,
		TakenAt:  snap.TakenAt,
	}

	var total models.AdMetrics
	for _, id := range snap.IDs() {
		m := snap.Ads[id]
		line := AdLine{
			AdID:          id,
			Name:          m.Name,
			Status:        adStatus(state, id),
			Spent:         m.Spent,
			Reach:         m.Reach,
			Listens:       m.Listens,
			CPM:           m.CurrentBid,
			CostPerListen: ratio(logic.ListenCost(m)),
			ListenRate:    ratio(logic.ListensRate(m)),
		}
		r.Ads = append(r.Ads, line)

		total.Spent += m.Spent
		total.Reach += m.Reach
		total.Listens += m.Listens
		switch line.Status {
		case StatusActive:
			r.Totals.AdsActive++
		case StatusStopped:
			r.Totals.AdsStopped++
		}
	}

	r.Totals.Spent = total.Spent
	r.Totals.Reach = total.Reach
	r.Totals.Listens = total.Listens
	r.Totals.CostPerListen = ratio(logic.ListenCost(total))
	r.Totals.ListenRate = ratio(logic.ListensRate(total))

	sort.SliceStable(r.Ads, func(i, j int) bool {
		a, b := r.Ads[i].CostPerListen, r.Ads[j].CostPerListen
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return r
}

func adStatus(state *models.CampaignState, id int) string {
	ad, ok := state.Ads[id]
	switch {
	case !ok:
		return StatusRemoved
	case ad.Stopped:
		return StatusStopped
	default:
		return StatusActive
	}
}

func ratio(v float64, err error) *float64 {
	if err != nil {
		return nil
	}
	return &v
}

// Timeline queries ClickHouse for the campaign's hourly cumulative totals.
// Snapshots are cumulative, so each hour keeps the latest value per ad.
func Timeline(ctx context.Context, db *sql.DB, campaignKey string) ([]TimelinePoint, error) {
	query := `
		SELECT hour, sum(spent), sum(reach), sum(listens)
		FROM (
			SELECT
				toStartOfHour(taken_at) AS hour,
				ad_id,
				argMax(spent, taken_at) AS spent,
				argMax(reach, taken_at) AS reach,
				argMax(listens, taken_at) AS listens
			FROM ad_snapshots
			WHERE campaign_key = ?
			GROUP BY hour, ad_id
		)
		GROUP BY hour
		ORDER BY hour
	`

	rows, err := db.QueryContext(ctx, query, campaignKey)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var points []TimelinePoint
	for rows.Next() {
		var p TimelinePoint
		if err := rows.Scan(&p.Hour, &p.Spent, &p.Reach, &p.Listens); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
