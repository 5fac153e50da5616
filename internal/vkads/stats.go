package vkads

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
)

type targetGroup struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	AudienceCount int64  `json:"audience_count"`
}

// ListAudiences returns the cabinet's retarget groups large enough to
// advertise to, in the order the API lists them.
func (c *Client) ListAudiences(ctx context.Context) ([]models.Audience, error) {
	var groups []targetGroup
	if err := c.call(ctx, "ads.getTargetGroups", c.accountParams(true), &groups); err != nil {
		return nil, err
	}
	out := make([]models.Audience, 0, len(groups))
	for _, g := range groups {
		if g.AudienceCount < c.minAudience {
			continue
		}
		out = append(out, models.Audience{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

type adInfo struct {
	ID   number `json:"id"`
	Name string `json:"name"`
	CPM  number `json:"cpm"` // kopecks
}

type statLine struct {
	Spent       number `json:"spent"`
	Impressions number `json:"impressions"`
}

type adStatistics struct {
	ID    number     `json:"id"`
	Stats []statLine `json:"stats"`
}

// FetchAdStats reports overall spend, reach and current bid per ad. Ads the
// account does not know are absent from the result; ads without statistics
// yet report zero spend and reach.
func (c *Client) FetchAdStats(ctx context.Context, adIDs []int) (map[int]models.AdStats, error) {
	out := make(map[int]models.AdStats, len(adIDs))
	for _, ids := range chunk(adIDs, idsPerRequest) {
		if err := c.fetchStats(ctx, ids, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) fetchStats(ctx context.Context, ids []int, out map[int]models.AdStats) error {
	p := c.accountParams(true)
	p.Set("ad_ids", jsonParam(ids))
	p.Set("include_deleted", "0")
	var ads []adInfo
	if err := c.call(ctx, "ads.getAds", p, &ads); err != nil {
		return err
	}

	p = c.accountParams(false)
	p.Set("ids_type", "ad")
	p.Set("ids", jsonParam(ids))
	p.Set("period", "overall")
	p.Set("date_from", "0")
	p.Set("date_to", "0")
	var stats []adStatistics
	if err := c.call(ctx, "ads.getStatistics", p, &stats); err != nil {
		return err
	}

	byID := make(map[int]statLine, len(stats))
	for _, s := range stats {
		if len(s.Stats) > 0 {
			byID[int(s.ID)] = s.Stats[0]
		}
	}
	for _, ad := range ads {
		id := int(ad.ID)
		line := byID[id]
		out[id] = models.AdStats{
			Name:       ad.Name,
			Spent:      float64(line.Spent),
			Reach:      int64(line.Impressions),
			CurrentBid: float64(ad.CPM) / 100,
		}
	}
	if len(ads) < len(ids) {
		c.logger.Debug("ads missing from account", zap.Int("requested", len(ids)), zap.Int("found", len(ads)))
	}
	return nil
}

// AccountName returns the display name of the configured ads account, or an
// error if the token cannot see it.
func (c *Client) AccountName(ctx context.Context) (string, error) {
	var accounts []struct {
		AccountID   int    `json:"account_id"`
		AccountName string `json:"account_name"`
	}
	if err := c.call(ctx, "ads.getAccounts", c.accountParams(false), &accounts); err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.AccountID == c.accountID {
			return a.AccountName, nil
		}
	}
	return "", fmt.Errorf("ads account %d is not accessible with this token", c.accountID)
}
