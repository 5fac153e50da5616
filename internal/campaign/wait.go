package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// sleep suspends for d or until ctx is done. The campaign lease is extended
// to cover the wait before suspending.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if err := o.refreshLease(ctx, d+o.cfg.Timing.LeaseMargin); err != nil {
		return err
	}

	timer := o.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// pollUntil calls check every interval until it reports done, the deadline
// passes, or ctx is cancelled. It returns false with a nil error when the
// deadline expires first.
func (o *Orchestrator) pollUntil(ctx context.Context, what string, deadline time.Time, interval time.Duration, check func(context.Context) (bool, error)) (bool, error) {
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}

		remaining := deadline.Sub(o.clock.Now())
		if remaining <= 0 {
			o.logger.Warn("wait deadline reached",
				zap.String("campaign", o.state.Key),
				zap.String("waiting_for", what),
				zap.Int("checks", attempt),
			)
			return false, nil
		}
		o.logger.Debug("waiting",
			zap.String("campaign", o.state.Key),
			zap.String("waiting_for", what),
			zap.Duration("remaining", remaining),
		)
		if err := o.sleep(ctx, min(interval, remaining)); err != nil {
			return false, err
		}
	}
}

func (o *Orchestrator) acquireLease(ctx context.Context) error {
	if o.deps.Locker == nil {
		return nil
	}
	ok, err := o.deps.Locker.AcquireLease(ctx, o.cfg.Key, o.runID, o.cfg.Timing.LeaseMargin)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return ErrLeaseHeld
	}
	return nil
}

// refreshLease extends the lease by ttl. A lease backend that is temporarily
// unreachable does not stop the run; a lease taken by another owner does.
func (o *Orchestrator) refreshLease(ctx context.Context, ttl time.Duration) error {
	if o.deps.Locker == nil {
		return nil
	}
	ok, err := o.deps.Locker.RefreshLease(ctx, o.cfg.Key, o.runID, ttl)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		o.logger.Warn("lease refresh failed", zap.String("campaign", o.cfg.Key), zap.Error(err))
		return nil
	case !ok:
		return ErrLeaseLost
	}
	return nil
}

func (o *Orchestrator) releaseLease(ctx context.Context) {
	if o.deps.Locker == nil {
		return
	}
	if err := o.deps.Locker.ReleaseLease(ctx, o.cfg.Key, o.runID); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("lease release failed", zap.String("campaign", o.cfg.Key), zap.Error(err))
	}
}
