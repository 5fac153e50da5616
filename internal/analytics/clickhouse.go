// Package analytics records campaign snapshot history in ClickHouse.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
)

// SnapshotRecorder stores snapshots for later reporting. Implementations
// return ErrUnavailable when the underlying storage is not configured.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, campaignKey string, snap models.Snapshot) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB      *sql.DB
	Metrics observability.MetricsRegistry
}

// SnapshotRow mirrors a row in the ad_snapshots table.
type SnapshotRow struct {
	TakenAt     time.Time `json:"taken_at"`
	CampaignKey string    `json:"campaign_key"`
	AdID        int64     `json:"ad_id"`
	Name        string    `json:"name"`
	Spent       float64   `json:"spent"`
	Reach       int64     `json:"reach"`
	Listens     int64     `json:"listens"`
	CurrentBid  float64   `json:"current_bid"`
	PlaylistURL string    `json:"playlist_url"`
}

// InitClickHouse connects to ClickHouse and ensures the ad_snapshots table exists.
func InitClickHouse(ctx context.Context, dsn string, maxOpenConns int, metrics observability.MetricsRegistry) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS ad_snapshots (
       taken_at     DateTime,
       campaign_key String,
       ad_id        Int64,
       name         String,
       spent        Float64,
       reach        Int64,
       listens      Int64,
       current_bid  Float64,
       playlist_url String
   ) ENGINE=MergeTree() ORDER BY (campaign_key, ad_id, taken_at)`
	if _, err := db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db, Metrics: metrics}, nil
}

// Rows flattens a snapshot into table rows ordered by ad ID.
func Rows(campaignKey string, snap models.Snapshot) []SnapshotRow {
	rows := make([]SnapshotRow, 0, len(snap.Ads))
	for _, id := range snap.IDs() {
		m := snap.Ads[id]
		rows = append(rows, SnapshotRow{
			TakenAt:     snap.TakenAt.UTC().Truncate(time.Second),
			CampaignKey: campaignKey,
			AdID:        int64(id),
			Name:        m.Name,
			Spent:       m.Spent,
			Reach:       m.Reach,
			Listens:     m.Listens,
			CurrentBid:  m.CurrentBid,
			PlaylistURL: m.PlaylistURL,
		})
	}
	return rows
}

// RecordSnapshot inserts one row per ad in a single batch.
func (a *Analytics) RecordSnapshot(ctx context.Context, campaignKey string, snap models.Snapshot) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	rows := Rows(campaignKey, snap)
	if len(rows) == 0 {
		return nil
	}

	start := time.Now()
	err := a.insert(ctx, rows)
	a.Metrics.RecordRemoteCallLatency("clickhouse_insert", time.Since(start))
	if err != nil {
		a.Metrics.IncrementRemoteCalls("clickhouse_insert", "failure")
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("campaign", campaignKey))
		return fmt.Errorf("insert snapshot for %s: %w", campaignKey, err)
	}
	a.Metrics.IncrementRemoteCalls("clickhouse_insert", "success")
	return nil
}

func (a *Analytics) insert(ctx context.Context, rows []SnapshotRow) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ad_snapshots (taken_at, campaign_key, ad_id, name, spent, reach, listens, current_bid, playlist_url)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.TakenAt, r.CampaignKey, r.AdID, r.Name, r.Spent, r.Reach, r.Listens, r.CurrentBid, r.PlaylistURL); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SnapshotsForAd returns an ad's recorded history, oldest first.
func (a *Analytics) SnapshotsForAd(ctx context.Context, campaignKey string, adID int) ([]SnapshotRow, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	rows, err := a.DB.QueryContext(ctx, `SELECT taken_at, campaign_key, ad_id, name, spent, reach, listens, current_bid, playlist_url
		FROM ad_snapshots WHERE campaign_key = ? AND ad_id = ? ORDER BY taken_at`, campaignKey, int64(adID))
	if err != nil {
		return nil, fmt.Errorf("query ad snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.TakenAt, &r.CampaignKey, &r.AdID, &r.Name, &r.Spent, &r.Reach, &r.Listens, &r.CurrentBid, &r.PlaylistURL); err != nil {
			return nil, fmt.Errorf("scan ad snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
