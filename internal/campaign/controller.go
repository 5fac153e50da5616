package campaign

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/observability"
)

// Platform request size limits.
const (
	StatusBatchSize = 5
	BidBatchSize    = 4
	DeleteBatchSize = 100
)

// Control operation names, used in metrics and progress records.
const (
	OpStop           = "stop"
	OpStart          = "start"
	OpRemoveSpendCap = "remove_spend_cap"
	OpSetBids        = "set_bids"
	OpDelete         = "delete"
)

// BatchResult reports which ads a control operation reached. A failed batch
// never aborts the ones after it. When the platform rejects only some entries
// of a batch, the rest count as succeeded.
type BatchResult struct {
	Operation string
	Succeeded []int
	Failed    []int
}

// Controller is the batched, throttled and retried control surface over AdsControl.
type Controller struct {
	api       AdsControl
	throttle  Throttle
	accountID int
	retry     RetryConfig
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
}

// NewController wraps api. A nil throttle disables spacing between calls.
func NewController(api AdsControl, throttle Throttle, accountID int, retry RetryConfig, logger *zap.Logger, metrics observability.MetricsRegistry) *Controller {
	if throttle == nil {
		throttle = noThrottle{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Controller{
		api:       api,
		throttle:  throttle,
		accountID: accountID,
		retry:     retry,
		logger:    logger,
		metrics:   metrics,
	}
}

// Stop pauses delivery for the given ads.
func (c *Controller) Stop(ctx context.Context, adIDs []int) BatchResult {
	return c.each(ctx, OpStop, adIDs, StatusBatchSize, func(ctx context.Context, batch []int) error {
		return c.api.UpdateStatus(ctx, batch, false)
	})
}

// Start resumes delivery for the given ads.
func (c *Controller) Start(ctx context.Context, adIDs []int) BatchResult {
	return c.each(ctx, OpStart, adIDs, StatusBatchSize, func(ctx context.Context, batch []int) error {
		return c.api.UpdateStatus(ctx, batch, true)
	})
}

// RemoveSpendCap lifts the per-ad test limit.
func (c *Controller) RemoveSpendCap(ctx context.Context, adIDs []int) BatchResult {
	return c.each(ctx, OpRemoveSpendCap, adIDs, StatusBatchSize, func(ctx context.Context, batch []int) error {
		return c.api.UpdateLimits(ctx, batch, 0)
	})
}

// Delete removes the given ads from the platform.
func (c *Controller) Delete(ctx context.Context, adIDs []int) BatchResult {
	return c.each(ctx, OpDelete, adIDs, DeleteBatchSize, func(ctx context.Context, batch []int) error {
		return c.api.DeleteAds(ctx, batch)
	})
}

// SetBids applies new CPM bids.
func (c *Controller) SetBids(ctx context.Context, bids map[int]float64) BatchResult {
	ids := make([]int, 0, len(bids))
	for id := range bids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return c.each(ctx, OpSetBids, ids, BidBatchSize, func(ctx context.Context, batch []int) error {
		sub := make(map[int]float64, len(batch))
		for _, id := range batch {
			sub[id] = bids[id]
		}
		return c.api.UpdateBids(ctx, sub)
	})
}

// rejectedItems returns the ads a partially applied batch left untouched.
// Errors opt in by implementing RejectedIDs() []int.
func rejectedItems(err error) map[int]struct{} {
	var partial interface{ RejectedIDs() []int }
	if !errors.As(err, &partial) {
		return nil
	}
	ids := partial.RejectedIDs()
	out := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func (c *Controller) each(ctx context.Context, op string, ids []int, size int, call func(context.Context, []int) error) BatchResult {
	res := BatchResult{Operation: op}
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batch := ids[start:end]

		if err := c.throttle.Wait(ctx, c.accountID); err != nil {
			// Cancelled while waiting: nothing after this point was sent.
			res.Failed = append(res.Failed, ids[start:]...)
			break
		}

		_, err := withRetry(ctx, c.retry, c.metrics, op, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, call(ctx, batch)
		})
		if err != nil {
			c.logger.Warn("control batch failed",
				zap.String("operation", op),
				zap.Ints("ad_ids", batch),
				zap.Error(err),
			)
			if rejected := rejectedItems(err); len(rejected) > 0 {
				for _, id := range batch {
					if _, bad := rejected[id]; bad {
						res.Failed = append(res.Failed, id)
					} else {
						res.Succeeded = append(res.Succeeded, id)
					}
				}
				continue
			}
			res.Failed = append(res.Failed, batch...)
			if ctx.Err() != nil {
				res.Failed = append(res.Failed, ids[end:]...)
				break
			}
			continue
		}
		res.Succeeded = append(res.Succeeded, batch...)
	}
	return res
}
