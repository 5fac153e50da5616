package campaign

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
)

// StatsSource reports per-ad spend, reach and current bid. Ads the platform
// does not know are absent from the result.
type StatsSource interface {
	FetchAdStats(ctx context.Context, adIDs []int) (map[int]models.AdStats, error)
}

// ListensSource reports listens per playlist URL for a campaign.
type ListensSource interface {
	FetchListens(ctx context.Context, campaignRef string) (map[string]int64, error)
}

// AudienceSource lists the retarget audiences available in the cabinet.
type AudienceSource interface {
	ListAudiences(ctx context.Context) ([]models.Audience, error)
}

// PlaylistCreator provides one promotional playlist per audience.
type PlaylistCreator interface {
	CreatePlaylists(ctx context.Context, count int) ([]string, error)
}

// PostCreator wraps playlists in dark posts, preserving playlist order.
type PostCreator interface {
	CreateDarkPosts(ctx context.Context, playlists []string, text string) ([]models.DarkPost, error)
}

// AdsRequest pairs audiences with posts one to one, in order.
type AdsRequest struct {
	CampaignID    int
	Audiences     []models.Audience
	Posts         []string
	MusicInterest bool
	SpendLimit    int
}

// CampaignCreator creates the remote campaign and its ads.
type CampaignCreator interface {
	CreateCampaign(ctx context.Context, name string, moneyLimit int) (int, error)
	CreateAds(ctx context.Context, req AdsRequest) ([]models.CreatedAd, error)
}

// AdsControl issues one platform request per call. Controller handles
// batching, throttling and retries on top of it.
type AdsControl interface {
	UpdateStatus(ctx context.Context, adIDs []int, active bool) error
	UpdateLimits(ctx context.Context, adIDs []int, limit int) error
	UpdateBids(ctx context.Context, bids map[int]float64) error
	DeleteAds(ctx context.Context, adIDs []int) error
}

// Repository is the durable source of truth for campaign state. Save must
// upsert ads by ID.
type Repository interface {
	Save(ctx context.Context, state *models.CampaignState) error
	Load(ctx context.Context, key string) (*models.CampaignState, error)
}

// SnapshotSink receives every snapshot the orchestrator takes.
type SnapshotSink interface {
	RecordSnapshot(ctx context.Context, key string, snap models.Snapshot) error
}

// Locker grants a single run exclusive ownership of a campaign.
type Locker interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	RefreshLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
}

// Throttle spaces out calls against one ads account.
type Throttle interface {
	Wait(ctx context.Context, accountID int) error
}

// Deps are the orchestrator's collaborators. Locker, Throttle, Progress,
// Sinks, Clock, Logger and Metrics are optional.
type Deps struct {
	Stats     StatsSource
	Listens   ListensSource
	Audiences AudienceSource
	Playlists PlaylistCreator
	Posts     PostCreator
	Campaigns CampaignCreator
	Control   AdsControl
	Repo      Repository

	Sinks    []SnapshotSink
	Locker   Locker
	Throttle Throttle
	Progress ProgressSink
	Clock    clockwork.Clock
	Logger   *zap.Logger
	Metrics  observability.MetricsRegistry
}

type noThrottle struct{}

func (noThrottle) Wait(ctx context.Context, _ int) error { return ctx.Err() }
