package vkads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/trackpromo/internal/campaign"
	"github.com/patrickwarner/trackpromo/internal/models"
)

func TestUpdateStatus(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.updateAds", `{"response":[{"id":1},{"id":2}]}`)

	require.NoError(t, c.UpdateStatus(context.Background(), []int{1, 2}, false))
	require.NoError(t, c.UpdateStatus(context.Background(), []int{1}, true))

	calls := api.callsTo("ads.updateAds")
	assert.Equal(t, `[{"ad_id":1,"status":0},{"ad_id":2,"status":0}]`, calls[0].Get("data"))
	assert.Equal(t, `[{"ad_id":1,"status":1}]`, calls[1].Get("data"))
	assert.Empty(t, calls[0].Get("client_id"))
}

func TestUpdateLimits(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.updateAds", `{"response":[{"id":5}]}`)

	require.NoError(t, c.UpdateLimits(context.Background(), []int{5}, 0))
	assert.Equal(t, `[{"ad_id":5,"all_limit":0}]`, api.callsTo("ads.updateAds")[0].Get("data"))
}

func TestUpdateBidsSendsTwoDecimalNumbers(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.updateAds", `{"response":[{"id":1},{"id":2}]}`)

	require.NoError(t, c.UpdateBids(context.Background(), map[int]float64{2: 30, 1: 45.5}))
	assert.Equal(t, `[{"ad_id":1,"cpm":45.50},{"ad_id":2,"cpm":30.00}]`, api.callsTo("ads.updateAds")[0].Get("data"))
}

func TestUpdateAdsPartialRejection(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.updateAds", `{"response":[{"id":1},{"id":0,"error_code":602,"error_desc":"ad is archived"}]}`)

	err := c.UpdateStatus(context.Background(), []int{1, 2}, false)
	var itemErr *ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, map[int]string{2: "ad is archived"}, itemErr.Items)
	assert.Equal(t, []int{2}, itemErr.RejectedIDs())
	assert.False(t, campaign.IsTransient(err))
}

func TestDeleteAds(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.deleteAds", `{"response":[0,0]}`)

	require.NoError(t, c.DeleteAds(context.Background(), []int{3, 4}))
	assert.Equal(t, "[3,4]", api.callsTo("ads.deleteAds")[0].Get("ids"))

	api.on("ads.deleteAds", `{"response":[0,602]}`)
	err := c.DeleteAds(context.Background(), []int{3, 4})
	var itemErr *ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Contains(t, itemErr.Items, 4)
}

func TestControlThroughController(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.updateAds", `{"response":[]}`)

	ctl := campaign.NewController(c, nil, 7, campaign.RetryConfig{Attempts: 1}, nil, nil)
	res := ctl.Stop(context.Background(), []int{1, 2, 3, 4, 5, 6, 7})

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, res.Succeeded)
	assert.Len(t, api.callsTo("ads.updateAds"), 2)

	api.on("ads.updateAds", `{"response":[{"id":1},{"id":0,"error_code":602,"error_desc":"ad is archived"}]}`)
	res = ctl.Stop(context.Background(), []int{1, 2})
	assert.Equal(t, []int{1}, res.Succeeded)
	assert.Equal(t, []int{2}, res.Failed)
}

func TestCreateCampaign(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.createCampaigns", `{"response":[{"id":9001}]}`)

	id, err := c.CreateCampaign(context.Background(), "KINO / Night Drive", 5000)
	require.NoError(t, err)
	assert.Equal(t, 9001, id)

	form := api.callsTo("ads.createCampaigns")[0]
	assert.Equal(t, "42", form.Get("client_id"))
	assert.Equal(t, []map[string]any{{
		"type": "promoted_posts", "name": "KINO / Night Drive", "all_limit": 5000.0, "status": 1.0,
	}}, decodeData(t, form))

	api.on("ads.createCampaigns", `{"response":[{"id":0,"error_code":603,"error_desc":"limit too low"}]}`)
	_, err = c.CreateCampaign(context.Background(), "x", 1)
	assert.Error(t, err)
}

func TestCreateAdsOnePerAudience(t *testing.T) {
	api, c := newFakeAPI(t)
	next := 500
	api.handle("ads.createAds", func(form url.Values) (int, string) {
		next++
		return http.StatusOK, `{"response":[{"id":` + strconv.Itoa(next) + `}]}`
	})

	got, err := c.CreateAds(context.Background(), campaign.AdsRequest{
		CampaignID:    9001,
		Audiences:     []models.Audience{{ID: 11, Name: "Listeners"}, {ID: 13, Name: "Fans"}},
		Posts:         []string{"https://vk.com/wall-1_1", "https://vk.com/wall-1_2"},
		MusicInterest: true,
		SpendLimit:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, []models.CreatedAd{
		{AdID: 501, Name: "Listeners", PostURL: "https://vk.com/wall-1_1"},
		{AdID: 502, Name: "Fans", PostURL: "https://vk.com/wall-1_2"},
	}, got)

	data := decodeData(t, api.callsTo("ads.createAds")[0])[0]
	assert.Equal(t, 9001.0, data["campaign_id"])
	assert.Equal(t, 9.0, data["ad_format"])
	assert.Equal(t, 30.0, data["cpm"])
	assert.Equal(t, 100.0, data["all_limit"])
	assert.Equal(t, "https://vk.com/wall-1_1", data["link_url"])
	assert.Equal(t, 11.0, data["retargeting_groups"])
	assert.Equal(t, "10010", data["interest_categories"])
}

func TestCreateAdsWithoutMusicInterest(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.createAds", `{"response":[{"id":1}]}`)

	_, err := c.CreateAds(context.Background(), campaign.AdsRequest{
		Audiences: []models.Audience{{ID: 11, Name: "Listeners"}},
		Posts:     []string{"https://vk.com/wall-1_1"},
	})
	require.NoError(t, err)
	assert.NotContains(t, decodeData(t, api.callsTo("ads.createAds")[0])[0], "interest_categories")
}

func TestCreateAdsSkipsRejected(t *testing.T) {
	api, c := newFakeAPI(t)
	api.handle("ads.createAds", func(form url.Values) (int, string) {
		var data []map[string]any
		_ = json.Unmarshal([]byte(form.Get("data")), &data)
		if data[0]["retargeting_groups"] == 13.0 {
			return http.StatusOK, `{"response":[{"id":0,"error_code":602,"error_desc":"audience too small"}]}`
		}
		return http.StatusOK, `{"response":[{"id":77}]}`
	})

	got, err := c.CreateAds(context.Background(), campaign.AdsRequest{
		Audiences: []models.Audience{{ID: 11, Name: "Listeners"}, {ID: 13, Name: "Fans"}},
		Posts:     []string{"p1", "p2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []models.CreatedAd{{AdID: 77, Name: "Listeners", PostURL: "p1"}}, got)

	api.on("ads.createAds", `{"response":[{"id":0,"error_code":602,"error_desc":"no"}]}`)
	_, err = c.CreateAds(context.Background(), campaign.AdsRequest{
		Audiences: []models.Audience{{ID: 11, Name: "Listeners"}},
		Posts:     []string{"p1"},
	})
	assert.Error(t, err)
}

func TestCreateAdsNeedsAPostPerAudience(t *testing.T) {
	_, c := newFakeAPI(t)
	_, err := c.CreateAds(context.Background(), campaign.AdsRequest{
		Audiences: []models.Audience{{ID: 1}, {ID: 2}},
		Posts:     []string{"p1"},
	})
	assert.Error(t, err)
}
