package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// Save writes the campaign, its cabinet and its ads in one transaction. Ads
// are upserted by ad ID; ads no longer in the state are deleted.
func (r *Repository) Save(ctx context.Context, st *models.CampaignState) error {
	audiences, err := json.Marshal(nonNil(st.Audiences))
	if err != nil {
		return fmt.Errorf("encode audiences: %w", err)
	}
	playlists, err := json.Marshal(nonNil(st.Playlists))
	if err != nil {
		return fmt.Errorf("encode playlists: %w", err)
	}
	var targetCost, stopCost sql.NullFloat64
	if st.CostTargets != nil {
		targetCost = sql.NullFloat64{Float64: st.CostTargets.TargetCost, Valid: true}
		stopCost = sql.NullFloat64{Float64: st.CostTargets.StopCost, Valid: true}
	}
	tested := make(map[int]bool, len(st.TestPassed))
	for _, id := range st.TestPassed {
		tested[id] = true
	}

	return retryWrite(ctx, func() error {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `INSERT INTO cabinets (account_id, client_id, kind, name) VALUES ($1,$2,$3,$4)
			ON CONFLICT (account_id, client_id) DO UPDATE SET kind = excluded.kind, name = excluded.name`,
			st.Cabinet.AccountID, st.Cabinet.ClientID, string(st.Cabinet.Kind), st.Cabinet.Name); err != nil {
			return fmt.Errorf("upsert cabinet: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO campaigns (campaign_key, name, account_id, client_id, remote_id, phase,
			schedule_start, schedule_end, audiences, playlists, moderation_started_at, target_cost, stop_cost, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (campaign_key) DO UPDATE SET name = excluded.name, account_id = excluded.account_id,
			client_id = excluded.client_id, remote_id = excluded.remote_id, phase = excluded.phase,
			schedule_start = excluded.schedule_start, schedule_end = excluded.schedule_end,
			audiences = excluded.audiences, playlists = excluded.playlists,
			moderation_started_at = excluded.moderation_started_at, target_cost = excluded.target_cost,
			stop_cost = excluded.stop_cost, updated_at = excluded.updated_at`,
			st.Key, st.Name, st.Cabinet.AccountID, st.Cabinet.ClientID, st.CampaignID, string(st.Phase),
			unix(st.Schedule.Start), unix(st.Schedule.End), string(audiences), string(playlists),
			unix(st.ModerationStartedAt), targetCost, stopCost, unix(st.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert campaign: %w", err)
		}

		ids := st.AdIDs()
		for _, id := range ids {
			ad := st.Ads[id]
			if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_ads (ad_id, campaign_key, name, playlist_url, post_url, tested, stopped)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (ad_id) DO UPDATE SET campaign_key = excluded.campaign_key, name = excluded.name,
				playlist_url = excluded.playlist_url, post_url = excluded.post_url,
				tested = excluded.tested, stopped = excluded.stopped`,
				id, st.Key, ad.Name, ad.PlaylistURL, ad.PostURL, tested[id], ad.Stopped); err != nil {
				return fmt.Errorf("upsert ad %d: %w", id, err)
			}
		}

		query, args := pruneAdsQuery(st.Key, ids)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete removed ads: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit save: %w", err)
		}
		return nil
	})
}

func pruneAdsQuery(key string, keep []int) (string, []any) {
	args := []any{key}
	if len(keep) == 0 {
		return `DELETE FROM campaign_ads WHERE campaign_key = $1`, args
	}
	placeholders := make([]string, len(keep))
	for i, id := range keep {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", i+2)
	}
	return `DELETE FROM campaign_ads WHERE campaign_key = $1 AND ad_id NOT IN (` + strings.Join(placeholders, ",") + `)`, args
}

// Load returns the campaign stored under key, or models.ErrNotFound.
func (r *Repository) Load(ctx context.Context, key string) (*models.CampaignState, error) {
	var (
		st                          models.CampaignState
		phase, kind, audiences, pls string
		start, end, moderated, upd  int64
		targetCost, stopCost        sql.NullFloat64
	)
	err := r.DB.QueryRowContext(ctx, `SELECT c.campaign_key, c.name, c.account_id, c.client_id, COALESCE(cb.kind, ''), COALESCE(cb.name, ''),
		c.remote_id, c.phase, c.schedule_start, c.schedule_end, c.audiences, c.playlists, c.moderation_started_at,
		c.target_cost, c.stop_cost, c.updated_at
		FROM campaigns c LEFT JOIN cabinets cb ON cb.account_id = c.account_id AND cb.client_id = c.client_id
		WHERE c.campaign_key = $1`, key).Scan(
		&st.Key, &st.Name, &st.Cabinet.AccountID, &st.Cabinet.ClientID, &kind, &st.Cabinet.Name,
		&st.CampaignID, &phase, &start, &end, &audiences, &pls, &moderated,
		&targetCost, &stopCost, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", key, err)
	}

	st.Phase = models.Phase(phase)
	st.Cabinet.Kind = models.CabinetKind(kind)
	st.Schedule = models.Schedule{Start: fromUnix(start), End: fromUnix(end)}
	st.ModerationStartedAt = fromUnix(moderated)
	st.UpdatedAt = fromUnix(upd)
	if targetCost.Valid && stopCost.Valid {
		st.CostTargets = &models.CostTargets{TargetCost: targetCost.Float64, StopCost: stopCost.Float64}
	}
	if err := json.Unmarshal([]byte(audiences), &st.Audiences); err != nil {
		return nil, fmt.Errorf("decode audiences for %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(pls), &st.Playlists); err != nil {
		return nil, fmt.Errorf("decode playlists for %s: %w", key, err)
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT ad_id, name, playlist_url, post_url, tested, stopped
		FROM campaign_ads WHERE campaign_key = $1 ORDER BY ad_id`, key)
	if err != nil {
		return nil, fmt.Errorf("load ads for %s: %w", key, err)
	}
	defer rows.Close()

	st.Ads = make(map[int]models.AdRecord)
	for rows.Next() {
		var ad models.AdRecord
		var tested bool
		if err := rows.Scan(&ad.AdID, &ad.Name, &ad.PlaylistURL, &ad.PostURL, &tested, &ad.Stopped); err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		st.Ads[ad.AdID] = ad
		if tested {
			st.TestPassed = append(st.TestPassed, ad.AdID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Ints(st.TestPassed)
	return &st, nil
}

// List returns every stored campaign, ordered by key.
func (r *Repository) List(ctx context.Context) ([]*models.CampaignState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT campaign_key FROM campaigns ORDER BY campaign_key`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan campaign key: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.CampaignState, 0, len(keys))
	for _, k := range keys {
		st, err := r.Load(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(s int64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(s, 0).UTC()
}
