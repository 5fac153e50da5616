package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/campaign"
	"github.com/patrickwarner/trackpromo/internal/config"
	"github.com/patrickwarner/trackpromo/internal/db"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
	"github.com/patrickwarner/trackpromo/internal/reporting"
)

const campaignFile = `
key = "night-drive"
artist = "Kino"
track = "Night Drive"
artist_group_id = 12345
account_id = 1600000
cabinet_name = "Kino label"
budget = 5000
playlists = ["https://vk.com/music/playlist/-1_1"]
`

type env struct {
	dsn   string
	redis *db.RedisStore
	dir   string
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	dir := t.TempDir()
	dsn := filepath.Join(dir, "trackpromo.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", dsn)
	t.Setenv("REDIS_ADDR", mr.Addr())
	t.Setenv("CLICKHOUSE_DSN", "")
	t.Setenv("TRACING_ENABLED", "false")

	store := db.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(store.Close)
	return &env{dsn: dsn, redis: store, dir: dir}
}

func (e *env) save(t *testing.T, st *models.CampaignState) {
	t.Helper()
	repo, err := db.Open(context.Background(), db.Options{Driver: db.DriverSQLite, DSN: e.dsn})
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Save(context.Background(), st))
}

func (e *env) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommandWith(&commandContext{
		logger:  zap.NewNop(),
		metrics: observability.NewMockMetricsRegistry(),
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runningState() *models.CampaignState {
	return &models.CampaignState{
		Key:        "night-drive",
		Name:       "KINO / Night Drive",
		Cabinet:    models.Cabinet{AccountID: 1600000, Kind: models.CabinetUser, Name: "Kino label"},
		CampaignID: 9001,
		Phase:      models.PhaseRunning,
		Ads: map[int]models.AdRecord{
			101: {AdID: 101, Name: "Listeners", PlaylistURL: "https://vk.com/music/playlist/-1_1"},
			102: {AdID: 102, Name: "Fans", Stopped: true},
		},
		TestPassed: []int{101, 102},
		UpdatedAt:  time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatusEmpty(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No campaigns")
}

func TestStatusList(t *testing.T) {
	e := setupEnv(t)
	e.save(t, runningState())

	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "night-drive")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "9001")
}

func TestStatusCampaign(t *testing.T) {
	e := setupEnv(t)
	e.save(t, runningState())
	ctx := context.Background()
	require.NoError(t, e.redis.CacheSnapshot(ctx, "night-drive", models.Snapshot{
		TakenAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Ads:     map[int]models.AdMetrics{101: {AdID: 101, Spent: 120.5, Reach: 4000, Listens: 80, CurrentBid: 40}},
	}))
	ok, err := e.redis.AcquireLease(ctx, "night-drive", "run-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := execute(t, "status", "night-drive")
	require.NoError(t, err)
	assert.Contains(t, out, "Owner:     run-1")
	assert.Contains(t, out, "Kino label")
	assert.Contains(t, out, "120.50")
	assert.Contains(t, out, "Listeners")
	assert.Contains(t, out, "stopped")
}

func TestStatusUnknownCampaign(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing" not found`)
}

func TestReportJSON(t *testing.T) {
	e := setupEnv(t)
	e.save(t, runningState())
	require.NoError(t, e.redis.CacheSnapshot(context.Background(), "night-drive", models.Snapshot{
		TakenAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Ads: map[int]models.AdMetrics{
			101: {AdID: 101, Name: "Listeners", Spent: 120, Reach: 4000, Listens: 80, CurrentBid: 40},
			102: {AdID: 102, Name: "Fans", Spent: 100, Reach: 4000, Listens: 20, CurrentBid: 30},
		},
	}))

	out, err := execute(t, "report", "night-drive", "--json")
	require.NoError(t, err)

	var got reporting.Report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 220.0, got.Totals.Spent)
	assert.Equal(t, int64(100), got.Totals.Listens)
	require.Len(t, got.Ads, 2)
	assert.Equal(t, 101, got.Ads[0].AdID)
}

func TestReportTable(t *testing.T) {
	e := setupEnv(t)
	e.save(t, runningState())
	require.NoError(t, e.redis.CacheSnapshot(context.Background(), "night-drive", models.Snapshot{
		TakenAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Ads:     map[int]models.AdMetrics{101: {AdID: 101, Name: "Listeners", Spent: 120, Reach: 4000, Listens: 80, CurrentBid: 40}},
	}))

	out, err := execute(t, "report", "night-drive")
	require.NoError(t, err)
	assert.Contains(t, out, "Spent 120.00")
	assert.Contains(t, out, "cost/listen 1.50")
	assert.Contains(t, out, "Listeners")
}

func TestReportWithoutSnapshot(t *testing.T) {
	e := setupEnv(t)
	e.save(t, runningState())
	_, err := execute(t, "report", "night-drive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recorded snapshot")
}

func TestRunFinishedCampaign(t *testing.T) {
	e := setupEnv(t)
	st := runningState()
	st.Phase = models.PhaseDone
	e.save(t, st)

	out, err := execute(t, "run", e.writeFile(t, "night-drive.toml", campaignFile))
	require.NoError(t, err)
	assert.Contains(t, out, "night-drive")
	assert.Contains(t, out, "already done")
}

func TestRunLeaseHeld(t *testing.T) {
	e := setupEnv(t)
	ok, err := e.redis.AcquireLease(context.Background(), "night-drive", "other-run", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := execute(t, "run", e.writeFile(t, "night-drive.toml", campaignFile))
	require.Error(t, err)
	assert.ErrorIs(t, err, campaign.ErrLeaseHeld)
	assert.Contains(t, out, campaign.ErrLeaseHeld.Error())
}

func TestRunRejectsDuplicateKeys(t *testing.T) {
	e := setupEnv(t)
	a := e.writeFile(t, "a.toml", campaignFile)
	b := e.writeFile(t, "b.toml", campaignFile)

	_, err := execute(t, "run", a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `campaign key "night-drive" used by both`)
}

func TestRunRequiresFile(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestCampaignConfig(t *testing.T) {
	c := &config.Campaign{
		Key:           "night-drive",
		Artist:        "Kino",
		Track:         "Night Drive",
		ArtistGroupID: 12345,
		AccountID:     1600000,
		ClientID:      77,
		Objective:     "rate",
		Pacing:        config.PacingConfig{Enabled: true, Tolerance: 0.2},
	}
	cfg := config.Config{
		ModerationPoll:    time.Minute,
		RebalanceInterval: 20 * time.Minute,
		RetryAttempts:     5,
		TestSpendLimit:    150,
	}

	got := campaignConfig(c, cfg)
	assert.Equal(t, models.CabinetClient, got.Cabinet.Kind)
	assert.Equal(t, 77, got.Cabinet.ClientID)
	assert.Equal(t, "rate", string(got.Objective))
	assert.Equal(t, 0.2, got.Pacing.Tolerance)
	assert.Equal(t, time.Minute, got.Timing.ModerationPoll)
	assert.Equal(t, 20*time.Minute, got.Timing.RebalanceInterval)
	assert.Equal(t, 5, got.Retry.Attempts)
	assert.Equal(t, 150, got.TestSpendLimit)

	c.ClientID = 0
	assert.Equal(t, models.CabinetUser, campaignConfig(c, cfg).Cabinet.Kind)
}

func TestJSONProgress(t *testing.T) {
	var buf bytes.Buffer
	sink := jsonProgress(&buf)
	sink.Emit(campaign.Progress{Campaign: "night-drive", Phase: models.PhaseRunning, Event: campaign.EventPhase})

	var got campaign.Progress
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "night-drive", got.Campaign)
	assert.Equal(t, models.PhaseRunning, got.Phase)
}
