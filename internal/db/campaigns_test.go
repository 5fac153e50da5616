package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/trackpromo/internal/models"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	r, err := Open(context.Background(), Options{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "campaigns.db"),
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func sampleState() *models.CampaignState {
	start := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	return &models.CampaignState{
		Key:        "night-drive",
		Name:       "KINO / Night Drive",
		Cabinet:    models.Cabinet{AccountID: 7, ClientID: 3, Kind: models.CabinetClient, Name: "label"},
		CampaignID: 42,
		Phase:      models.PhaseRunning,
		Schedule:   models.Schedule{Start: start, End: start.Add(48 * time.Hour)},
		Audiences:  []models.Audience{{ID: 1, Name: "fans"}, {ID: 2, Name: "cold"}},
		Playlists:  []string{"https://vk.com/music/playlist/-1_1", "https://vk.com/music/playlist/-1_2"},
		Ads: map[int]models.AdRecord{
			101: {AdID: 101, Name: "fans", PlaylistURL: "https://vk.com/music/playlist/-1_1", PostURL: "https://vk.com/wall-1_1"},
			102: {AdID: 102, Name: "cold", PlaylistURL: "https://vk.com/music/playlist/-1_2", PostURL: "https://vk.com/wall-1_2", Stopped: true},
		},
		TestPassed:          []int{101, 102},
		ModerationStartedAt: start.Add(-24 * time.Hour),
		CostTargets:         &models.CostTargets{TargetCost: 1.25, StopCost: 2.25},
		UpdatedAt:           start.Add(time.Hour),
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	want := sampleState()

	require.NoError(t, r.Save(ctx, want))
	got, err := r.Load(ctx, want.Key)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestRepositoryLoadMissing(t *testing.T) {
	r := newTestRepository(t)
	_, err := r.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRepositorySaveUpsertsAndPrunesAds(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	st := sampleState()
	require.NoError(t, r.Save(ctx, st))

	st.Phase = models.PhaseStopping
	st.RemoveAds([]int{102})
	st.MarkStopped([]int{101})
	st.CostTargets = nil
	require.NoError(t, r.Save(ctx, st))

	got, err := r.Load(ctx, st.Key)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStopping, got.Phase)
	assert.Equal(t, []int{101}, got.AdIDs())
	assert.True(t, got.Ads[101].Stopped)
	assert.Equal(t, []int{101}, got.TestPassed)
	assert.Nil(t, got.CostTargets)

	var n int
	require.NoError(t, r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_ads`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRepositoryFreshCampaign(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	st := &models.CampaignState{
		Key:     "fresh",
		Cabinet: models.Cabinet{AccountID: 7, Kind: models.CabinetUser},
		Phase:   models.PhaseCollectingPlaylists,
		Ads:     map[int]models.AdRecord{},
	}
	require.NoError(t, r.Save(ctx, st))

	got, err := r.Load(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCollectingPlaylists, got.Phase)
	assert.Empty(t, got.Ads)
	assert.Empty(t, got.TestPassed)
	assert.True(t, got.Schedule.Start.IsZero())
	assert.Empty(t, got.Audiences)
}

func TestRepositoryList(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()

	b := sampleState()
	b.Key = "b-side"
	b.Ads = map[int]models.AdRecord{201: {AdID: 201}}
	b.TestPassed = nil
	require.NoError(t, r.Save(ctx, b))
	require.NoError(t, r.Save(ctx, sampleState()))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b-side", all[0].Key)
	assert.Equal(t, "night-drive", all[1].Key)
	assert.Len(t, all[1].Ads, 2)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"})
	assert.Error(t, err)
}
