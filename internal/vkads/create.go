package vkads

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/campaign"
	"github.com/patrickwarner/trackpromo/internal/models"
)

// Ad creation constants for promoted posts.
const (
	adFormatPost       = 9
	costTypeCPM        = 1
	categoryMusic      = 51
	interestMusic      = 10010
	ageRestrictionNone = 1
	devicesSmartphones = 1001
	impressionsPerUser = 1
)

type campaignSpec struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	AllLimit int    `json:"all_limit"`
	Status   int    `json:"status"`
}

// CreateCampaign creates a running promoted-posts campaign capped at
// moneyLimit and returns its ID. A zero limit leaves the campaign uncapped.
func (c *Client) CreateCampaign(ctx context.Context, name string, moneyLimit int) (int, error) {
	p := c.accountParams(true)
	p.Set("data", jsonParam([]campaignSpec{{Type: "promoted_posts", Name: name, AllLimit: moneyLimit, Status: 1}}))
	var results []itemResult
	if err := c.call(ctx, "ads.createCampaigns", p, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, errors.New("ads.createCampaigns: empty response")
	}
	if r := results[0]; r.ErrorCode != 0 || r.ID == 0 {
		return 0, &ItemError{Method: "ads.createCampaigns", Items: map[int]string{0: r.ErrorDesc}}
	}
	return int(results[0].ID), nil
}

type adSpec struct {
	CampaignID         int     `json:"campaign_id"`
	AdFormat           int     `json:"ad_format"`
	Autobidding        int     `json:"autobidding"`
	CostType           int     `json:"cost_type"`
	CPM                float64 `json:"cpm"`
	ImpressionsLimit   int     `json:"impressions_limit"`
	AdPlatform         string  `json:"ad_platform"`
	AllLimit           int     `json:"all_limit"`
	Category1ID        int     `json:"category1_id"`
	AgeRestriction     int     `json:"age_restriction"`
	Status             int     `json:"status"`
	Name               string  `json:"name"`
	LinkURL            string  `json:"link_url"`
	Country            int     `json:"country"`
	InterestCategories string  `json:"interest_categories,omitempty"`
	UserDevices        int     `json:"user_devices"`
	RetargetingGroups  int     `json:"retargeting_groups"`
}

// CreateAds creates one ad per audience, each promoting the post at the same
// index, starting at the platform floor bid. Ads the API refuses are logged
// and skipped; an error is returned only when none could be created.
func (c *Client) CreateAds(ctx context.Context, req campaign.AdsRequest) ([]models.CreatedAd, error) {
	if len(req.Posts) < len(req.Audiences) {
		return nil, fmt.Errorf("create ads: %d posts for %d audiences", len(req.Posts), len(req.Audiences))
	}

	var created []models.CreatedAd
	var lastErr error
	for i, aud := range req.Audiences {
		if err := c.create.Wait(ctx); err != nil {
			return created, err
		}
		spec := adSpec{
			CampaignID:        req.CampaignID,
			AdFormat:          adFormatPost,
			CostType:          costTypeCPM,
			CPM:               models.CPMFloor,
			ImpressionsLimit:  impressionsPerUser,
			AdPlatform:        "mobile",
			AllLimit:          req.SpendLimit,
			Category1ID:       categoryMusic,
			AgeRestriction:    ageRestrictionNone,
			Status:            1,
			Name:              aud.Name,
			LinkURL:           req.Posts[i],
			UserDevices:       devicesSmartphones,
			RetargetingGroups: aud.ID,
		}
		if req.MusicInterest {
			spec.InterestCategories = strconv.Itoa(interestMusic)
		}

		id, err := c.createAd(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			lastErr = err
			c.logger.Warn("ad not created",
				zap.String("audience", aud.Name),
				zap.Int("audience_id", aud.ID),
				zap.Error(err))
			continue
		}
		created = append(created, models.CreatedAd{AdID: id, Name: aud.Name, PostURL: req.Posts[i]})
	}
	if len(created) == 0 && lastErr != nil {
		return nil, fmt.Errorf("create ads: %w", lastErr)
	}
	return created, nil
}

func (c *Client) createAd(ctx context.Context, spec adSpec) (int, error) {
	p := c.accountParams(true)
	p.Set("data", jsonParam([]adSpec{spec}))
	var results []itemResult
	if err := c.call(ctx, "ads.createAds", p, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, errors.New("ads.createAds: empty response")
	}
	if r := results[0]; r.ErrorCode != 0 || r.ID == 0 {
		return 0, &ItemError{Method: "ads.createAds", Items: map[int]string{spec.RetargetingGroups: r.ErrorDesc}}
	}
	return int(results[0].ID), nil
}
