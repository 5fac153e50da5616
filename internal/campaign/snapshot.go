package campaign

import (
	"context"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// snapshot fetches stats and listens for ids and joins them by playlist URL.
// Ads the platform no longer reports are returned in missing rather than as
// zero metrics.
func (o *Orchestrator) snapshot(ctx context.Context, ids []int) (models.Snapshot, []int, error) {
	snap := models.Snapshot{TakenAt: o.clock.Now(), Ads: make(map[int]models.AdMetrics, len(ids))}
	if len(ids) == 0 {
		o.last = &snap
		return snap, nil, nil
	}

	stats, err := withRetry(ctx, o.cfg.Retry, o.metrics, "fetch_ad_stats", func(ctx context.Context) (map[int]models.AdStats, error) {
		return o.deps.Stats.FetchAdStats(ctx, ids)
	})
	if err != nil {
		return snap, nil, err
	}
	listens, err := withRetry(ctx, o.cfg.Retry, o.metrics, "fetch_listens", func(ctx context.Context) (map[string]int64, error) {
		return o.deps.Listens.FetchListens(ctx, o.state.Key)
	})
	if err != nil {
		return snap, nil, err
	}

	var missing []int
	for _, id := range ids {
		s, ok := stats[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		rec := o.state.Ads[id]
		name := s.Name
		if name == "" {
			name = rec.Name
		}
		snap.Ads[id] = models.AdMetrics{
			AdID:        id,
			Name:        name,
			Spent:       s.Spent,
			Reach:       s.Reach,
			Listens:     listens[rec.PlaylistURL],
			CurrentBid:  s.CurrentBid,
			PlaylistURL: rec.PlaylistURL,
		}
	}
	snap.TakenAt = o.clock.Now()
	o.last = &snap

	spent, _, _ := snap.Totals()
	o.metrics.SetCampaignSpend(o.state.Key, spent)

	for _, sink := range o.deps.Sinks {
		if err := sink.RecordSnapshot(ctx, o.state.Key, snap); err != nil {
			o.logger.Warn("snapshot sink failed", zap.String("campaign", o.state.Key), zap.Error(err))
		}
	}
	if len(missing) > 0 {
		o.logger.Warn("ads missing from platform stats",
			zap.String("campaign", o.state.Key),
			zap.Ints("ad_ids", missing),
		)
	}
	return snap, missing, nil
}
