package vkads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/campaign"
	"github.com/patrickwarner/trackpromo/internal/models"
)

// fakeAPI serves canned responses per method and records every form it receives.
type fakeAPI struct {
	t        *testing.T
	baseURL  string
	mu       sync.Mutex
	handlers map[string]func(form url.Values) (int, string)
	calls    []apiCall
}

type apiCall struct {
	method string
	form   url.Values
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{t: t, handlers: make(map[string]func(url.Values) (int, string))}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	f.baseURL = srv.URL + "/method"

	c := New(Options{
		BaseURL:    f.baseURL,
		Token:      "secret",
		Version:    "5.199",
		AccountID:  7,
		ClientID:   42,
		HTTPClient: srv.Client(),
		Logger:     zap.NewNop(),
	})
	return f, c
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		f.t.Errorf("expected POST, got %s", r.Method)
	}
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse form: %v", err)
	}
	method := r.URL.Path[len("/method/"):]

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, form: r.PostForm})
	h, ok := f.handlers[method]
	f.mu.Unlock()

	if !ok {
		f.t.Errorf("unexpected method %s", method)
		http.NotFound(w, r)
		return
	}
	status, body := h(r.PostForm)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) on(method, body string) {
	f.handle(method, func(url.Values) (int, string) { return http.StatusOK, body })
}

func (f *fakeAPI) handle(method string, h func(url.Values) (int, string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeAPI) callsTo(method string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []url.Values
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c.form)
		}
	}
	return out
}

func decodeData(t *testing.T, form url.Values) []map[string]any {
	t.Helper()
	var data []map[string]any
	require.NoError(t, json.Unmarshal([]byte(form.Get("data")), &data))
	return data
}

func TestCallSendsCredentialsAndAccount(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.getTargetGroups", `{"response":[]}`)

	_, err := c.ListAudiences(context.Background())
	require.NoError(t, err)

	form := api.callsTo("ads.getTargetGroups")[0]
	assert.Equal(t, "secret", form.Get("access_token"))
	assert.Equal(t, "5.199", form.Get("v"))
	assert.Equal(t, "7", form.Get("account_id"))
	assert.Equal(t, "42", form.Get("client_id"))
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		temporary bool
	}{
		{"flood control", http.StatusOK, `{"error":{"error_code":9,"error_msg":"Flood control"}}`, true},
		{"too many requests", http.StatusOK, `{"error":{"error_code":6,"error_msg":"Too many requests per second"}}`, true},
		{"internal", http.StatusOK, `{"error":{"error_code":10,"error_msg":"Internal server error"}}`, true},
		{"access denied", http.StatusOK, `{"error":{"error_code":15,"error_msg":"Access denied"}}`, false},
		{"gateway", http.StatusBadGateway, `bad gateway`, true},
		{"rate limited", http.StatusTooManyRequests, ``, true},
		{"bad request", http.StatusBadRequest, `nope`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, c := newFakeAPI(t)
			api.handle("ads.deleteAds", func(url.Values) (int, string) { return tt.status, tt.body })

			err := c.DeleteAds(context.Background(), []int{1})
			require.Error(t, err)
			assert.Equal(t, tt.temporary, campaign.IsTransient(err))
		})
	}
}

func TestAPIErrorCarriesMethod(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.updateAds", `{"error":{"error_code":100,"error_msg":"One of the parameters specified was missing or invalid"}}`)

	err := c.UpdateStatus(context.Background(), []int{1}, false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ads.updateAds", apiErr.Method)
	assert.Equal(t, 100, apiErr.Code)
	assert.Contains(t, err.Error(), "ads.updateAds")
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Options{BaseURL: base, Timeout: time.Second, AccountID: 1})
	_, err := c.FetchAdStats(context.Background(), []int{1})
	require.Error(t, err)
	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.True(t, campaign.IsTransient(err))
}

func TestMalformedResponse(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.getTargetGroups", `{"response":`)

	_, err := c.ListAudiences(context.Background())
	require.Error(t, err)
	assert.False(t, campaign.IsTransient(err))
}

func TestCancelledContext(t *testing.T) {
	_, c := newFakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.UpdateBids(ctx, map[int]float64{1: 40})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListAudiencesFiltersSmallGroups(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.getTargetGroups", `{"response":[
		{"id":11,"name":"Listeners","audience_count":350000},
		{"id":12,"name":"Tiny","audience_count":1200},
		{"id":13,"name":"Fans","audience_count":200000}
	]}`)

	got, err := c.ListAudiences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Audience{{ID: 11, Name: "Listeners"}, {ID: 13, Name: "Fans"}}, got)
}

func TestFetchAdStatsMergesAdsAndStatistics(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.getAds", `{"response":[
		{"id":"101","name":"Listeners","cpm":"4550","status":1},
		{"id":102,"name":"Fans","cpm":3000,"status":1}
	]}`)
	api.on("ads.getStatistics", `{"response":[
		{"id":101,"type":"ad","stats":[{"spent":"120.50","impressions":"4000"}]},
		{"id":102,"type":"ad","stats":[]}
	]}`)

	got, err := c.FetchAdStats(context.Background(), []int{101, 102, 103})
	require.NoError(t, err)

	assert.Equal(t, map[int]models.AdStats{
		101: {Name: "Listeners", Spent: 120.5, Reach: 4000, CurrentBid: 45.5},
		102: {Name: "Fans", Spent: 0, Reach: 0, CurrentBid: 30},
	}, got)

	stats := api.callsTo("ads.getStatistics")[0]
	assert.Equal(t, "ad", stats.Get("ids_type"))
	assert.Equal(t, "overall", stats.Get("period"))
	assert.Equal(t, "[101,102,103]", stats.Get("ids"))
	assert.Empty(t, stats.Get("client_id"))
	assert.Equal(t, "[101,102,103]", api.callsTo("ads.getAds")[0].Get("ad_ids"))
}

func TestFetchAdStatsChunksLargeRequests(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.getAds", `{"response":[]}`)
	api.on("ads.getStatistics", `{"response":[]}`)

	ids := make([]int, idsPerRequest+1)
	for i := range ids {
		ids[i] = i + 1
	}
	_, err := c.FetchAdStats(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, api.callsTo("ads.getAds"), 2)
	assert.Len(t, api.callsTo("ads.getStatistics"), 2)
}

func TestAccountName(t *testing.T) {
	api, c := newFakeAPI(t)
	api.on("ads.getAccounts", `{"response":[{"account_id":3,"account_name":"Other"},{"account_id":7,"account_name":"Label"}]}`)

	name, err := c.AccountName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Label", name)

	api.on("ads.getAccounts", `{"response":[{"account_id":3,"account_name":"Other"}]}`)
	_, err = c.AccountName(context.Background())
	assert.Error(t, err)
}
