package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/analytics"
	"github.com/patrickwarner/trackpromo/internal/campaign"
	"github.com/patrickwarner/trackpromo/internal/config"
	"github.com/patrickwarner/trackpromo/internal/db"
	"github.com/patrickwarner/trackpromo/internal/logic"
	"github.com/patrickwarner/trackpromo/internal/logic/ratelimit"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
	"github.com/patrickwarner/trackpromo/internal/playlists"
	"github.com/patrickwarner/trackpromo/internal/vkads"
)

// services are the process-wide stores and limiters shared by every campaign.
// Redis and ClickHouse are nil when not configured.
type services struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	repo      *db.Repository
	redis     *db.RedisStore
	analytics *analytics.Analytics
	throttle  *ratelimit.AccountLimiter
	listens   *playlists.Feed
}

func openServices(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics observability.MetricsRegistry) (*services, error) {
	repo, err := db.Open(ctx, db.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open campaign store: %w", err)
	}
	s := &services{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		repo:    repo,
		throttle: ratelimit.NewAccountLimiter(ratelimit.Config{
			Interval: cfg.ControlInterval,
			Burst:    1,
			Enabled:  cfg.ControlInterval > 0,
		}, metrics),
		listens: playlists.NewFeed(cfg.ListensFeedURL, cfg.ListensFeedTimeout, logger),
	}

	if cfg.RedisAddr != "" {
		store, err := db.InitRedis(ctx, cfg.RedisAddr, cfg.SnapshotTTL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.redis = store
	}
	if cfg.ClickHouseDSN != "" {
		a, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, cfg.CHMaxOpenConns, metrics)
		if err != nil {
			// Snapshot history is optional; runs continue without it.
			logger.Warn("clickhouse unavailable, snapshot history disabled", zap.Error(err))
		} else {
			a.DB.SetMaxIdleConns(cfg.CHMaxIdleConns)
			a.DB.SetConnMaxLifetime(cfg.CHConnMaxLifetime)
			a.DB.SetConnMaxIdleTime(cfg.CHConnMaxIdleTime)
			s.analytics = a
		}
	}
	return s, nil
}

func (s *services) Close() {
	if s.analytics != nil {
		s.analytics.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	s.repo.Close()
}

// adsClient returns an ads API client bound to the campaign's cabinet.
func (s *services) adsClient(c *config.Campaign) *vkads.Client {
	return vkads.New(vkads.Options{
		BaseURL:        s.cfg.AdsAPIURL,
		Token:          s.cfg.AdsAPIToken,
		Version:        s.cfg.AdsAPIVersion,
		Timeout:        s.cfg.AdsAPITimeout,
		AccountID:      c.AccountID,
		ClientID:       c.ClientID,
		MinAudience:    int64(s.cfg.AdsMinAudience),
		CreateInterval: s.cfg.AdsCreateInterval,
		Logger:         s.logger.With(zap.String("campaign", c.Key)),
	})
}

// orchestrator wires one campaign file to the shared services.
func (s *services) orchestrator(ctx context.Context, c *config.Campaign, progress campaign.ProgressSink) (*campaign.Orchestrator, error) {
	client := s.adsClient(c)
	cfg := campaignConfig(c, s.cfg)
	if cfg.Cabinet.Name == "" {
		name, err := client.AccountName(ctx)
		if err != nil {
			s.logger.Warn("cabinet name unavailable", zap.String("campaign", c.Key), zap.Error(err))
		}
		cfg.Cabinet.Name = name
	}

	deps := campaign.Deps{
		Stats:     client,
		Listens:   s.listens,
		Audiences: client,
		Playlists: playlists.NewStatic(c.Playlists),
		Posts:     client.Posts(c.ArtistGroupID),
		Campaigns: client,
		Control:   client,
		Repo:      s.repo,
		Throttle:  s.throttle,
		Progress:  progress,
		Logger:    s.logger,
		Metrics:   s.metrics,
	}
	if s.redis != nil {
		deps.Locker = s.redis
		deps.Sinks = append(deps.Sinks, s.redis)
	}
	if s.analytics != nil {
		deps.Sinks = append(deps.Sinks, s.analytics)
	}
	return campaign.New(cfg, deps)
}

// campaignConfig merges a campaign file with the service-wide lifecycle settings.
func campaignConfig(c *config.Campaign, cfg config.Config) campaign.Config {
	kind := models.CabinetUser
	if c.ClientID > 0 {
		kind = models.CabinetClient
	}
	return campaign.Config{
		Key:           c.Key,
		Name:          c.Name,
		Artist:        c.Artist,
		Track:         c.Track,
		ArtistGroupID: c.ArtistGroupID,
		ArtistGroup:   c.ArtistGroup,
		Citation:      c.Citation,
		Cabinet: models.Cabinet{
			AccountID: c.AccountID,
			ClientID:  c.ClientID,
			Kind:      kind,
			Name:      c.CabinetName,
		},
		Budget:        c.Budget,
		MusicInterest: c.MusicInterest,
		Schedule:      models.Schedule{Start: c.Schedule.Start.UTC(), End: c.Schedule.End.UTC()},
		Objective:     logic.Objective(c.Objective),
		Policy:        c.Policy,
		Pacing:        campaign.Pacing{Enabled: c.Pacing.Enabled, Tolerance: c.Pacing.Tolerance},
		Timing: campaign.Timing{
			ModerationPoll:    cfg.ModerationPoll,
			ModerationTimeout: cfg.ModerationTimeout,
			ModerationSpend:   cfg.ModerationSpend,
			SchedulePoll:      cfg.SchedulePoll,
			RebalanceInterval: cfg.RebalanceInterval,
			ReportCooldown:    cfg.ReportCooldown,
			StopTimeout:       cfg.StopTimeout,
			LeaseMargin:       cfg.LeaseMargin,
		},
		Retry: campaign.RetryConfig{
			Attempts:       cfg.RetryAttempts,
			InitialBackoff: cfg.RetryInitialBackoff,
			MaxBackoff:     cfg.RetryMaxBackoff,
		},
		TestSpendLimit: cfg.TestSpendLimit,
	}
}
