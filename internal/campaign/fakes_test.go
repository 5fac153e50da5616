package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/logic"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// profile is how much a delivering ad accrues per stats fetch.
type profile struct {
	spend   float64
	reach   int64
	listens int64
}

type fakeAd struct {
	id       int
	name     string
	playlist string
	bid      float64
	limit    int
	active   bool
	deleted  bool
	stats    models.AdStats
	profile  profile
}

type call struct {
	op  string
	ids []int
	at  time.Time
}

// fakePlatform stands in for the ads API, the listens feed and the content
// collaborators. Active ads accrue their profile on every stats fetch.
type fakePlatform struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	audiences []models.Audience
	profiles  map[int]profile // keyed by audience ID
	ads       map[int]*fakeAd
	listens   map[string]int64
	calls     []call
	nextAd    int

	statsErr     error
	statusErr    map[int]error
	deleteReject map[int]bool // ads DeleteAds refuses while deleting the rest
}

func newFakePlatform(clock clockwork.Clock, profiles map[int]profile) *fakePlatform {
	p := &fakePlatform{
		clock:     clock,
		profiles:  profiles,
		ads:       make(map[int]*fakeAd),
		listens:   make(map[string]int64),
		nextAd:       100,
		statusErr:    make(map[int]error),
		deleteReject: make(map[int]bool),
	}
	for id := 1; id <= len(profiles); id++ {
		p.audiences = append(p.audiences, models.Audience{ID: id, Name: fmt.Sprintf("audience-%d", id)})
	}
	return p
}

func (p *fakePlatform) record(op string, ids []int) {
	p.calls = append(p.calls, call{op: op, ids: append([]int(nil), ids...), at: p.clock.Now()})
}

func (p *fakePlatform) callsFor(op string) []call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []call
	for _, c := range p.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakePlatform) ad(id int) fakeAd {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.ads[id]
}

func (p *fakePlatform) ListAudiences(context.Context) ([]models.Audience, error) {
	return p.audiences, nil
}

func (p *fakePlatform) CreatePlaylists(_ context.Context, count int) ([]string, error) {
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("https://vk.com/music/playlist/-1_%d", i+1)
	}
	return out, nil
}

func (p *fakePlatform) CreateDarkPosts(_ context.Context, playlists []string, text string) ([]models.DarkPost, error) {
	if text == "" {
		return nil, errors.New("empty post text")
	}
	out := make([]models.DarkPost, len(playlists))
	for i, pl := range playlists {
		out[i] = models.DarkPost{URL: fmt.Sprintf("https://vk.com/wall-1_%d", i+1), PlaylistURL: pl}
	}
	return out, nil
}

func (p *fakePlatform) CreateCampaign(_ context.Context, name string, limit int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create_campaign", []int{limit})
	return 42, nil
}

func (p *fakePlatform) CreateAds(_ context.Context, req AdsRequest) ([]models.CreatedAd, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.CreatedAd
	for i, aud := range req.Audiences {
		p.nextAd++
		ad := &fakeAd{
			id:       p.nextAd,
			name:     aud.Name,
			playlist: fmt.Sprintf("https://vk.com/music/playlist/-1_%d", i+1),
			bid:      models.CPMFloor,
			limit:    req.SpendLimit,
			active:   true,
			profile:  p.profiles[aud.ID],
		}
		p.ads[ad.id] = ad
		out = append(out, models.CreatedAd{AdID: ad.id, Name: aud.Name, PostURL: req.Posts[i]})
	}
	return out, nil
}

func (p *fakePlatform) FetchAdStats(_ context.Context, ids []int) (map[int]models.AdStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statsErr != nil {
		return nil, p.statsErr
	}
	out := make(map[int]models.AdStats, len(ids))
	for _, id := range ids {
		ad, ok := p.ads[id]
		if !ok || ad.deleted {
			continue
		}
		if ad.active && (ad.limit == 0 || ad.stats.Spent < float64(ad.limit)) {
			ad.stats.Spent += ad.profile.spend
			ad.stats.Reach += ad.profile.reach
			p.listens[ad.playlist] += ad.profile.listens
		}
		out[id] = models.AdStats{Name: ad.name, Spent: ad.stats.Spent, Reach: ad.stats.Reach, CurrentBid: ad.bid}
	}
	return out, nil
}

func (p *fakePlatform) FetchListens(context.Context, string) (map[string]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.listens))
	for k, v := range p.listens {
		out[k] = v
	}
	return out, nil
}

func (p *fakePlatform) UpdateStatus(_ context.Context, ids []int, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	op := OpStop
	if active {
		op = OpStart
	}
	p.record(op, ids)
	for _, id := range ids {
		if err := p.statusErr[id]; err != nil {
			return err
		}
	}
	for _, id := range ids {
		if ad, ok := p.ads[id]; ok {
			ad.active = active
		}
	}
	return nil
}

func (p *fakePlatform) UpdateLimits(_ context.Context, ids []int, limit int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(OpRemoveSpendCap, ids)
	for _, id := range ids {
		if ad, ok := p.ads[id]; ok {
			ad.limit = limit
		}
	}
	return nil
}

func (p *fakePlatform) UpdateBids(_ context.Context, bids map[int]float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(bids))
	for id, bid := range bids {
		ids = append(ids, id)
		if ad, ok := p.ads[id]; ok {
			ad.bid = bid
		}
	}
	p.record(OpSetBids, ids)
	return nil
}

func (p *fakePlatform) DeleteAds(_ context.Context, ids []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(OpDelete, ids)
	var rejected rejectedErr
	for _, id := range ids {
		if p.deleteReject[id] {
			rejected = append(rejected, id)
			continue
		}
		if ad, ok := p.ads[id]; ok {
			ad.deleted = true
			ad.active = false
		}
	}
	if len(rejected) > 0 {
		return rejected
	}
	return nil
}

// memRepo stores deep copies so the orchestrator never shares memory with it.
type memRepo struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  []models.Phase
	err    error
}

func newMemRepo() *memRepo {
	return &memRepo{states: make(map[string][]byte)}
}

func (r *memRepo) Save(_ context.Context, st *models.CampaignState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	r.states[st.Key] = b
	r.saves = append(r.saves, st.Phase)
	return nil
}

func (r *memRepo) Load(_ context.Context, key string) (*models.CampaignState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.states[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	var st models.CampaignState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *memRepo) state(t *testing.T, key string) *models.CampaignState {
	t.Helper()
	st, err := r.Load(context.Background(), key)
	require.NoError(t, err)
	return st
}

type fakeLocker struct {
	mu      sync.Mutex
	owner   string
	deny    bool
	lost    bool
	refresh int
}

func (l *fakeLocker) AcquireLease(_ context.Context, _, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny {
		return false, nil
	}
	l.owner = owner
	return true, nil
}

func (l *fakeLocker) RefreshLease(_ context.Context, _, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refresh++
	return !l.lost && l.owner == owner, nil
}

func (l *fakeLocker) ReleaseLease(_ context.Context, _, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []models.Snapshot
}

func (s *recordingSink) RecordSnapshot(_ context.Context, _ string, snap models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

// rejectedErr is a partially applied batch.
type rejectedErr []int

func (e rejectedErr) Error() string { return fmt.Sprintf("items rejected: %v", []int(e)) }
func (e rejectedErr) RejectedIDs() []int { return e }

type transientErr struct{ msg string }

func (e transientErr) Error() string { return e.msg }
func (e transientErr) Temporary() bool { return true }

func testTiming() Timing {
	return Timing{
		ModerationPoll:    10 * time.Minute,
		ModerationTimeout: time.Hour,
		ModerationSpend:   100,
		SchedulePoll:      5 * time.Minute,
		RebalanceInterval: 20 * time.Minute,
		ReportCooldown:    30 * time.Minute,
		StopTimeout:       time.Minute,
		LeaseMargin:       5 * time.Minute,
	}
}

func testConfig() Config {
	return Config{
		Key:           "night-drive",
		Artist:        "Kino",
		Track:         "Night Drive",
		ArtistGroupID: 1,
		Cabinet:       models.Cabinet{AccountID: 7, Kind: models.CabinetUser},
		Budget:        10000,
		Objective:     logic.ObjectiveCost,
		Policy: logic.Policy{
			TargetRate: 0.04, StopRate: 0.03,
			TargetCost: 1, StopCost: 2,
			CPMStep: 10, CPMFloor: models.CPMFloor, ReachSpeedCap: 50,
		},
		Timing:         testTiming(),
		Retry:          RetryConfig{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		TestSpendLimit: 100,
	}
}

type harness struct {
	clock    *clockwork.FakeClock
	platform *fakePlatform
	repo     *memRepo
	metrics  *observability.MockMetricsRegistry
	deps     Deps

	mu     sync.Mutex
	events []Progress
}

func newHarness(profiles map[int]profile) *harness {
	clock := clockwork.NewFakeClockAt(t0)
	p := newFakePlatform(clock, profiles)
	h := &harness{
		clock:    clock,
		platform: p,
		repo:     newMemRepo(),
		metrics:  observability.NewMockMetricsRegistry(),
	}
	h.deps = Deps{
		Stats:     p,
		Listens:   p,
		Audiences: p,
		Playlists: p,
		Posts:     p,
		Campaigns: p,
		Control:   p,
		Repo:      h.repo,
		Clock:     clock,
		Logger:    zap.NewNop(),
		Metrics:   h.metrics,
		Progress: ProgressFunc(func(ev Progress) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		}),
	}
	return h
}

func (h *harness) phases() []models.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Phase
	for _, ev := range h.events {
		if ev.Event == EventPhase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

// drive advances the fake clock a minute at a time whenever the orchestrator
// is blocked on it, until the test ends.
func (h *harness) drive(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			h.clock.Advance(time.Minute)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) run(t *testing.T, ctx context.Context, cfg Config) (*Result, error) {
	t.Helper()
	o, err := New(cfg, h.deps)
	require.NoError(t, err)
	return o.Run(ctx)
}
