package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/patrickwarner/trackpromo/internal/observability"
)

// AccountLimiter spaces out control calls made against the same ads account.
//
// The platform enforces per-account request limits, so every campaign that
// spends from an account shares one limiter. Each account gets its own
// rate.Limiter, created lazily on first use.
//
// Example usage:
//
//	limiter := NewAccountLimiter(Config{Interval: time.Second, Burst: 1, Enabled: true}, metrics)
//	if err := limiter.Wait(ctx, accountID); err != nil {
//	    return err // ctx was cancelled while waiting
//	}
type AccountLimiter struct {
	limiters map[int]*rate.Limiter       // Map of account ID to limiter
	waits    map[int]int64               // Calls that had to wait, per account
	calls    map[int]int64               // All calls, per account
	mu       sync.RWMutex                // Protects the maps
	config   Config                      // Rate limiting configuration
	metrics  observability.MetricsRegistry
}

// Config holds the configuration for control call throttling.
type Config struct {
	Interval time.Duration // Minimum spacing between calls on one account
	Burst    int           // Calls allowed back to back before spacing applies
	Enabled  bool          // Whether throttling is active
}

// NewAccountLimiter creates a limiter with the given configuration.
func NewAccountLimiter(config Config, metrics observability.MetricsRegistry) *AccountLimiter {
	if config.Burst < 1 {
		config.Burst = 1
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &AccountLimiter{
		limiters: make(map[int]*rate.Limiter),
		waits:    make(map[int]int64),
		calls:    make(map[int]int64),
		config:   config,
		metrics:  metrics,
	}
}

// Wait blocks until a call against accountID may proceed or ctx is done.
// When throttling is disabled or the interval is zero it returns immediately.
func (l *AccountLimiter) Wait(ctx context.Context, accountID int) error {
	if !l.config.Enabled || l.config.Interval <= 0 {
		return ctx.Err()
	}

	lim := l.limiter(accountID)

	// A reservation that needs a delay means this call is being throttled.
	r := lim.Reserve()
	if !r.OK() {
		return fmt.Errorf("account %d: throttle cannot satisfy request", accountID)
	}
	delay := r.Delay()

	l.mu.Lock()
	l.calls[accountID]++
	if delay > 0 {
		l.waits[accountID]++
	}
	l.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	l.metrics.IncrementThrottleWaits(strconv.Itoa(accountID))

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *AccountLimiter) limiter(accountID int) *rate.Limiter {
	l.mu.RLock()
	lim, exists := l.limiters[accountID]
	l.mu.RUnlock()
	if exists {
		return lim
	}

	// Double-checked locking pattern to avoid race conditions
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, exists = l.limiters[accountID]
	if !exists {
		lim = rate.NewLimiter(rate.Every(l.config.Interval), l.config.Burst)
		l.limiters[accountID] = lim
	}
	return lim
}

// GetStats returns throttling statistics for every account seen so far.
func (l *AccountLimiter) GetStats() map[int]Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[int]Stats, len(l.calls))
	for accountID, total := range l.calls {
		stats[accountID] = Stats{
			AccountID: accountID,
			Waits:     l.waits[accountID],
			Total:     total,
		}
	}
	return stats
}

// Stats contains throttling statistics for a single account.
type Stats struct {
	AccountID int   `json:"account_id"`
	Waits     int64 `json:"waits"` // Calls that were delayed
	Total     int64 `json:"total"` // Calls processed
}

// String returns a human-readable representation of the statistics.
func (s Stats) String() string {
	return fmt.Sprintf("account %d: %d/%d calls throttled", s.AccountID, s.Waits, s.Total)
}
