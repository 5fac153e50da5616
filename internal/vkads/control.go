package vkads

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

type itemResult struct {
	ID        number `json:"id"`
	ErrorCode int    `json:"error_code"`
	ErrorDesc string `json:"error_desc"`
}

type statusUpdate struct {
	AdID   int `json:"ad_id"`
	Status int `json:"status"`
}

type limitUpdate struct {
	AdID     int `json:"ad_id"`
	AllLimit int `json:"all_limit"`
}

type bidUpdate struct {
	AdID int         `json:"ad_id"`
	CPM  json.Number `json:"cpm"`
}

// UpdateStatus starts or stops the given ads in one request.
func (c *Client) UpdateStatus(ctx context.Context, adIDs []int, active bool) error {
	status := 0
	if active {
		status = 1
	}
	data := make([]statusUpdate, len(adIDs))
	for i, id := range adIDs {
		data[i] = statusUpdate{AdID: id, Status: status}
	}
	return c.updateAds(ctx, data, adIDs)
}

// UpdateLimits sets the spend cap of the given ads. A zero limit removes it.
func (c *Client) UpdateLimits(ctx context.Context, adIDs []int, limit int) error {
	data := make([]limitUpdate, len(adIDs))
	for i, id := range adIDs {
		data[i] = limitUpdate{AdID: id, AllLimit: limit}
	}
	return c.updateAds(ctx, data, adIDs)
}

// UpdateBids sets the CPM of each ad, in account currency with two decimals.
func (c *Client) UpdateBids(ctx context.Context, bids map[int]float64) error {
	ids := make([]int, 0, len(bids))
	for id := range bids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	data := make([]bidUpdate, len(ids))
	for i, id := range ids {
		data[i] = bidUpdate{AdID: id, CPM: json.Number(decimal.NewFromFloat(bids[id]).StringFixed(2))}
	}
	return c.updateAds(ctx, data, ids)
}

func (c *Client) updateAds(ctx context.Context, data any, ids []int) error {
	p := c.accountParams(false)
	p.Set("data", jsonParam(data))
	var results []itemResult
	if err := c.call(ctx, "ads.updateAds", p, &results); err != nil {
		return err
	}
	return itemErrors("ads.updateAds", ids, results)
}

func itemErrors(method string, ids []int, results []itemResult) error {
	rejected := make(map[int]string)
	for i, r := range results {
		if r.ErrorCode == 0 {
			continue
		}
		id := int(r.ID)
		if id == 0 && i < len(ids) {
			id = ids[i]
		}
		rejected[id] = r.ErrorDesc
	}
	if len(rejected) == 0 {
		return nil
	}
	return &ItemError{Method: method, Items: rejected}
}

// DeleteAds removes the given ads from the account.
func (c *Client) DeleteAds(ctx context.Context, adIDs []int) error {
	p := c.accountParams(false)
	p.Set("ids", jsonParam(adIDs))
	var codes []int
	if err := c.call(ctx, "ads.deleteAds", p, &codes); err != nil {
		return err
	}
	rejected := make(map[int]string)
	for i, code := range codes {
		if code != 0 && i < len(adIDs) {
			rejected[adIDs[i]] = "error code " + strconv.Itoa(code)
		}
	}
	if len(rejected) > 0 {
		return &ItemError{Method: "ads.deleteAds", Items: rejected}
	}
	return nil
}
