// Package playlists supplies the promotional playlists a campaign fans out to
// and reads back how many listens each one earned.
package playlists

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Feed reads listens per playlist from an HTTP JSON endpoint:
//
//	GET <base>?campaign=<ref>  ->  {"listens": {"<playlist url>": 123, ...}}
type Feed struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewFeed creates a listens feed client.
func NewFeed(baseURL string, timeout time.Duration, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type feedResponse struct {
	Listens map[string]int64 `json:"listens"`
}

// FetchListens returns listens keyed by playlist URL. Playlists the feed
// does not report are absent.
func (f *Feed) FetchListens(ctx context.Context, campaignRef string) (map[string]int64, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse listens feed url: %w", err)
	}
	q := u.Query()
	q.Set("campaign", campaignRef)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FeedError{Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("failed to close response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &FeedError{StatusCode: resp.StatusCode, Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var out feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode listens: %w", err)
	}
	if out.Listens == nil {
		out.Listens = map[string]int64{}
	}
	return out.Listens, nil
}

// FeedError is a failed listens feed request.
type FeedError struct {
	StatusCode int // Zero for transport failures.
	Err        error
}

func (e *FeedError) Error() string { return "listens feed: " + e.Err.Error() }

func (e *FeedError) Unwrap() error { return e.Err }

// Temporary reports whether the request is worth retrying.
func (e *FeedError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
