package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/db"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
	"github.com/patrickwarner/trackpromo/internal/reporting"
)

type memStore struct {
	states map[string]*models.CampaignState
	err    error
}

func (m *memStore) Load(_ context.Context, key string) (*models.CampaignState, error) {
	if m.err != nil {
		return nil, m.err
	}
	st, ok := m.states[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return st, nil
}

func (m *memStore) List(context.Context) ([]*models.CampaignState, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.CampaignState
	for _, k := range []string{"a-side", "night-drive"} {
		if st, ok := m.states[k]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

var updated = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func testStates() map[string]*models.CampaignState {
	return map[string]*models.CampaignState{
		"night-drive": {
			Key:        "night-drive",
			Name:       "KINO / Night Drive",
			Cabinet:    models.Cabinet{AccountID: 7, Kind: models.CabinetUser},
			CampaignID: 9001,
			Phase:      models.PhaseRunning,
			Ads: map[int]models.AdRecord{
				101: {AdID: 101, Name: "Listeners"},
				102: {AdID: 102, Name: "Fans", Stopped: true},
			},
			TestPassed: []int{101, 102},
			UpdatedAt:  updated,
		},
		"a-side": {Key: "a-side", Name: "A / Side", Phase: models.PhasePosting, Ads: map[int]models.AdRecord{}, UpdatedAt: updated},
	}
}

type fixture struct {
	srv     *Server
	redis   *db.RedisStore
	metrics *observability.MockMetricsRegistry
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	store := db.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(store.Close)

	metrics := observability.NewMockMetricsRegistry()
	srv := NewServer(zap.NewNop(), &memStore{states: testStates()}, store, store, nil, metrics)
	return &fixture{srv: srv, redis: store, metrics: metrics, handler: srv.Router()}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, 1, f.metrics.RequestCount("/health", http.MethodGet, "200"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListCampaigns(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/campaigns")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []CampaignSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, CampaignSummary{
		Key: "night-drive", Name: "KINO / Night Drive", Phase: models.PhaseRunning,
		CampaignID: 9001, Ads: 2, ActiveAds: 1, UpdatedAt: updated,
	}, got[1])
}

func TestListCampaignsStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.Store = &memStore{err: errors.New("db down")}
	rec := f.get(t, "/campaigns")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCampaignStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := models.Snapshot{TakenAt: updated, Ads: map[int]models.AdMetrics{
		101: {AdID: 101, Spent: 120, Reach: 4000, Listens: 80, CurrentBid: 40},
	}}
	require.NoError(t, f.redis.CacheSnapshot(ctx, "night-drive", snap))
	ok, err := f.redis.AcquireLease(ctx, "night-drive", "run-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec := f.get(t, "/campaigns/night-drive")
	require.Equal(t, http.StatusOK, rec.Code)

	var got CampaignStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "night-drive", got.State.Key)
	assert.Equal(t, "run-1", got.Owner)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, int64(80), got.Snapshot.Ads[101].Listens)
	assert.Equal(t, 1, f.metrics.RequestCount("/campaigns/{key}", http.MethodGet, "200"))
}

func TestCampaignStatusWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/campaigns/a-side")
	require.Equal(t, http.StatusOK, rec.Code)

	var got CampaignStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Nil(t, got.Snapshot)
	assert.Empty(t, got.Owner)
}

func TestCampaignNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/campaigns/missing").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/campaigns/missing/report").Code)
	assert.Equal(t, 1, f.metrics.RequestCount("/campaigns/{key}", http.MethodGet, "404"))
}

func TestCampaignReport(t *testing.T) {
	f := newFixture(t)
	snap := models.Snapshot{TakenAt: updated, Ads: map[int]models.AdMetrics{
		101: {AdID: 101, Name: "Listeners", Spent: 120, Reach: 4000, Listens: 80, CurrentBid: 40},
		102: {AdID: 102, Name: "Fans", Spent: 100, Reach: 4000, Listens: 20, CurrentBid: 30},
	}}
	require.NoError(t, f.redis.CacheSnapshot(context.Background(), "night-drive", snap))

	rec := f.get(t, "/campaigns/night-drive/report")
	require.Equal(t, http.StatusOK, rec.Code)

	var got reporting.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 220.0, got.Totals.Spent)
	assert.Equal(t, int64(100), got.Totals.Listens)
	require.Len(t, got.Ads, 2)
	assert.Equal(t, 101, got.Ads[0].AdID)
	assert.Equal(t, reporting.StatusStopped, got.Ads[1].Status)
	assert.Empty(t, got.Timeline)
}

func TestCampaignReportWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/campaigns/a-side/report").Code)

	f.srv.Snapshots = nil
	f.handler = f.srv.Router()
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/campaigns/a-side/report").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/campaigns", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
