// Package vkads talks to the VK ads API: it reads ad statistics and retarget
// audiences, creates campaigns, ads and dark posts, and applies the status,
// limit and bid updates the campaign controller issues.
package vkads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultMinAudience is the smallest retarget group worth an ad.
	DefaultMinAudience = 200000
	// idsPerRequest bounds ID lists sent to read methods.
	idsPerRequest = 200
	maxBody       = 4 << 20
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Token     string
	Version   string
	Timeout   time.Duration
	AccountID int
	ClientID  int // Agency client; zero for a direct advertiser account.

	MinAudience int64
	// CreateInterval spaces out post and ad creation calls. Zero disables it.
	CreateInterval time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a VK ads API client bound to one ads account.
type Client struct {
	baseURL     string
	token       string
	version     string
	accountID   int
	clientID    int
	minAudience int64
	create      *rate.Limiter
	httpClient  *http.Client
	logger      *zap.Logger
}

// New builds a Client. The HTTP transport is instrumented with otelhttp.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	minAudience := opts.MinAudience
	if minAudience == 0 {
		minAudience = DefaultMinAudience
	}
	limit := rate.Inf
	if opts.CreateInterval > 0 {
		limit = rate.Every(opts.CreateInterval)
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		version:     opts.Version,
		accountID:   opts.AccountID,
		clientID:    opts.ClientID,
		minAudience: minAudience,
		create:      rate.NewLimiter(limit, 1),
		httpClient:  httpClient,
		logger:      logger,
	}
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *APIError       `json:"error"`
}

// call POSTs params to method and decodes the response field into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	params.Set("access_token", c.token)
	params.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &NetworkError{Method: method, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", zap.String("method", method), zap.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &NetworkError{Method: method, Err: err}
	}
	c.logger.Debug("ads api call",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{Method: method, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if env.Error != nil {
		env.Error.Method = method
		return env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// accountParams returns the account selector. Agency clients are only
// accepted by some methods, so withClient picks whether to send one.
func (c *Client) accountParams(withClient bool) url.Values {
	p := url.Values{}
	p.Set("account_id", strconv.Itoa(c.accountID))
	if withClient && c.clientID > 0 {
		p.Set("client_id", strconv.Itoa(c.clientID))
	}
	return p
}

func jsonParam(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only called with slices of plain structs and ints.
		panic(fmt.Sprintf("vkads: marshal request data: %v", err))
	}
	return string(b)
}

func chunk(ids []int, size int) [][]int {
	var out [][]int
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// number decodes a JSON value the API sends either as a number or as a
// numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %s: %w", b, err)
	}
	*n = number(f)
	return nil
}
