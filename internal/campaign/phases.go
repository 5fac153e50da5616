package campaign

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/logic"
	"github.com/patrickwarner/trackpromo/internal/models"
)

func (o *Orchestrator) collectPlaylists(ctx context.Context) error {
	audiences, err := withRetry(ctx, o.cfg.Retry, o.metrics, "list_audiences", o.deps.Audiences.ListAudiences)
	if err != nil {
		return fmt.Errorf("list audiences: %w", err)
	}
	if len(audiences) == 0 {
		return ErrNoAudiences
	}

	playlists, err := o.deps.Playlists.CreatePlaylists(ctx, len(audiences))
	if err != nil {
		return fmt.Errorf("create playlists: %w", err)
	}
	if len(playlists) < len(audiences) {
		return fmt.Errorf("create playlists: got %d for %d audiences", len(playlists), len(audiences))
	}

	o.state.Audiences = audiences
	o.state.Playlists = playlists[:len(audiences)]
	return o.transition(ctx, models.PhasePosting)
}

func (o *Orchestrator) post(ctx context.Context) error {
	text := PostText(o.cfg.Artist, o.cfg.Track, o.cfg.ArtistGroupID, o.cfg.ArtistGroup, o.cfg.Citation)
	posts, err := withRetry(ctx, o.cfg.Retry, o.metrics, "create_dark_posts", func(ctx context.Context) ([]models.DarkPost, error) {
		return o.deps.Posts.CreateDarkPosts(ctx, o.state.Playlists, text)
	})
	if err != nil {
		return fmt.Errorf("create dark posts: %w", err)
	}
	if len(posts) < len(o.state.Audiences) {
		return fmt.Errorf("create dark posts: got %d for %d audiences", len(posts), len(o.state.Audiences))
	}

	if o.state.CampaignID == 0 {
		id, err := o.deps.Campaigns.CreateCampaign(ctx, o.state.Name, int(o.cfg.Budget))
		if err != nil {
			return fmt.Errorf("create campaign: %w", err)
		}
		o.state.CampaignID = id
		if err := o.persist(ctx); err != nil {
			return err
		}
	}

	playlistByPost := make(map[string]string, len(posts))
	urls := make([]string, 0, len(o.state.Audiences))
	for _, p := range posts[:len(o.state.Audiences)] {
		playlistByPost[p.URL] = p.PlaylistURL
		urls = append(urls, p.URL)
	}

	created, err := o.deps.Campaigns.CreateAds(ctx, AdsRequest{
		CampaignID:    o.state.CampaignID,
		Audiences:     o.state.Audiences,
		Posts:         urls,
		MusicInterest: o.cfg.MusicInterest,
		SpendLimit:    o.cfg.TestSpendLimit,
	})
	if err != nil {
		return fmt.Errorf("create ads: %w", err)
	}

	for _, ad := range created {
		o.state.Ads[ad.AdID] = models.AdRecord{
			AdID:        ad.AdID,
			Name:        ad.Name,
			PostURL:     ad.PostURL,
			PlaylistURL: playlistByPost[ad.PostURL],
		}
	}
	o.state.ModerationStartedAt = o.clock.Now()
	o.emit(Progress{Event: EventBatch, Operation: "create_ads", Succeeded: len(created), Failed: len(urls) - len(created), Ads: len(urls)})
	return o.transition(ctx, models.PhaseAwaitingModeration)
}

// awaitModeration waits until every ad has spent the moderation threshold.
// Past the deadline, ads that never showed up or never spent are treated as
// rejected and deleted. An ad whose delete fails stays in the state and fails
// the test gate again during pruning.
func (o *Orchestrator) awaitModeration(ctx context.Context) error {
	deadline := o.state.ModerationStartedAt.Add(o.cfg.Timing.ModerationTimeout)
	var snap models.Snapshot
	var missing []int

	done, err := o.pollUntil(ctx, "moderation", deadline, o.cfg.Timing.ModerationPoll, func(ctx context.Context) (bool, error) {
		s, m, err := o.snapshot(ctx, o.state.AdIDs())
		if err != nil {
			if ctx.Err() != nil {
				return false, err
			}
			o.logger.Warn("moderation check failed", zap.Error(err))
			return false, nil
		}
		snap, missing = s, m
		return len(missing) == 0 && o.moderated(snap), nil
	})
	if err != nil {
		return err
	}

	if !done {
		rejected := append([]int(nil), missing...)
		for _, id := range snap.IDs() {
			if snap.Ads[id].Spent == 0 {
				rejected = append(rejected, id)
			}
		}
		if len(rejected) > 0 {
			o.logger.Warn("moderation timed out, dropping rejected ads", zap.Ints("ad_ids", rejected))
			res := o.ctl.Delete(ctx, rejected)
			o.emitBatch(res)
			o.state.RemoveAds(res.Succeeded)
		}
	}
	return o.transition(ctx, models.PhasePruning)
}

func (o *Orchestrator) moderated(snap models.Snapshot) bool {
	for _, m := range snap.Ads {
		if m.Spent < o.cfg.Timing.ModerationSpend {
			return false
		}
	}
	return true
}

// prune classifies the test ads with the configured objective. Stopped,
// unmeasurable and vanished ads fail the gate and are deleted; the rest lose
// their test spend cap and go on to the main run. A failed ad that cannot be
// deleted is paused instead and never rebalanced.
func (o *Orchestrator) prune(ctx context.Context) error {
	ids := o.state.AdIDs()
	snap, missing, err := o.snapshot(ctx, ids)
	if err != nil {
		return fmt.Errorf("pruning snapshot: %w", err)
	}

	u := o.calc.Classify(o.cfg.Objective, snap.Ads)
	o.emitDecisions("test_"+string(o.cfg.Objective), u)

	failed := append(append(append([]int(nil), u.Stop...), u.Skipped...), missing...)
	failedSet := make(map[int]struct{}, len(failed))
	for _, id := range failed {
		failedSet[id] = struct{}{}
	}
	var passed []int
	for _, id := range ids {
		if _, ok := failedSet[id]; !ok {
			passed = append(passed, id)
		}
	}

	if len(failed) > 0 {
		res := o.ctl.Delete(ctx, failed)
		o.emitBatch(res)
		o.state.RemoveAds(res.Succeeded)
		if len(res.Failed) > 0 {
			o.logger.Warn("failed ads could not be deleted, pausing them", zap.Ints("ad_ids", res.Failed))
			if pause := intersect(res.Failed, o.state.ActiveAdIDs()); len(pause) > 0 {
				stopped := o.ctl.Stop(ctx, pause)
				o.emitBatch(stopped)
				o.state.MarkStopped(stopped.Succeeded)
			}
		}
	}
	o.logger.Info("test gate evaluated", zap.Ints("passed", passed), zap.Ints("failed", failed))

	if len(passed) == 0 {
		o.state.TestPassed = nil
		o.logger.Warn("no ads passed the test gate")
		return o.transition(ctx, models.PhaseDone)
	}

	o.state.TestPassed = passed
	o.state.SetCapped(passed, true)
	next := models.PhaseRunning
	uncap := passed
	if o.startsLater() {
		next = models.PhaseScheduled
		res := o.ctl.Stop(ctx, passed)
		o.emitBatch(res)
		// An ad that is still delivering keeps its cap until the start.
		uncap = res.Succeeded
	}
	o.liftCaps(ctx, uncap)
	return o.transition(ctx, next)
}

// liftCaps removes the test spend limit. Ads that keep it are retried at the
// scheduled start and on every rebalance.
func (o *Orchestrator) liftCaps(ctx context.Context, ids []int) {
	if len(ids) == 0 {
		return
	}
	res := o.ctl.RemoveSpendCap(ctx, ids)
	o.emitBatch(res)
	o.state.SetCapped(res.Succeeded, false)
}

func (o *Orchestrator) startsLater() bool {
	start := o.cfg.Schedule.Start
	return !start.IsZero() && o.clock.Now().Before(start)
}

// awaitStart holds the surviving ads until the scheduled start. No start
// command is issued before then.
func (o *Orchestrator) awaitStart(ctx context.Context) error {
	start := o.cfg.Schedule.Start
	_, err := o.pollUntil(ctx, "scheduled start", start, o.cfg.Timing.SchedulePoll, func(context.Context) (bool, error) {
		return !o.clock.Now().Before(start), nil
	})
	if err != nil {
		return err
	}

	o.liftCaps(ctx, intersect(o.state.CappedAdIDs(), o.state.TestPassed))
	res := o.ctl.Start(ctx, o.activeTested())
	o.emitBatch(res)
	o.pendingStart = res.Failed
	return o.transition(ctx, models.PhaseRunning)
}

func (o *Orchestrator) activeTested() []int {
	var ids []int
	for _, id := range o.state.TestPassed {
		if ad, ok := o.state.Ads[id]; ok && !ad.Stopped {
			ids = append(ids, id)
		}
	}
	return ids
}

// runMain waits one rebalance interval, bounded by the schedule end.
func (o *Orchestrator) runMain(ctx context.Context) error {
	if o.ended() || len(o.activeTested()) == 0 {
		return o.transition(ctx, models.PhaseStopping)
	}

	wait := o.cfg.Timing.RebalanceInterval
	if end := o.cfg.Schedule.End; !end.IsZero() {
		wait = min(wait, end.Sub(o.clock.Now()))
	}
	if err := o.sleep(ctx, wait); err != nil {
		return err
	}

	if o.ended() {
		return o.transition(ctx, models.PhaseStopping)
	}
	return o.transition(ctx, models.PhaseRebalancing)
}

func (o *Orchestrator) ended() bool {
	end := o.cfg.Schedule.End
	return !end.IsZero() && !o.clock.Now().Before(end)
}

// rebalance runs one control pass: budget check, cost-targeting decisions,
// stops, and optional reach-speed pacing.
func (o *Orchestrator) rebalance(ctx context.Context) error {
	snap, missing, err := o.snapshot(ctx, o.state.AdIDs())
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		o.logger.Warn("rebalance skipped, snapshot unavailable", zap.Error(err))
		return o.transition(ctx, models.PhaseRunning)
	}

	if o.resumed && !o.verified {
		for _, id := range missing {
			if o.tested(id) {
				return &ConflictError{Key: o.cfg.Key, Reason: fmt.Sprintf("ad %d marked tested but missing from platform stats", id)}
			}
		}
	}
	o.verified = true

	spent, _, _ := snap.Totals()
	if o.cfg.Budget > 0 && spent >= o.cfg.Budget {
		o.logger.Info("budget exhausted", zap.Float64("spent", spent), zap.Float64("budget", o.cfg.Budget))
		return o.transition(ctx, models.PhaseStopping)
	}

	active := o.activeTested()
	o.liftCaps(ctx, intersect(o.state.CappedAdIDs(), active))
	if len(o.pendingStart) > 0 {
		res := o.ctl.Start(ctx, intersect(o.pendingStart, active))
		o.emitBatch(res)
		o.pendingStart = res.Failed
	}

	current := snap.Subset(active)
	u := o.calc.UpdatesForTargetCost(current.Ads)
	o.emitDecisions("target_cost", u)

	if len(u.Stop) > 0 {
		res := o.ctl.Stop(ctx, u.Stop)
		o.emitBatch(res)
		o.state.MarkStopped(res.Succeeded)
	}

	bids := u.Bids
	if o.cfg.Pacing.Enabled {
		if pace := o.pace(spent); pace != logic.PaceOnTrack {
			for _, id := range u.Stop {
				delete(current.Ads, id)
			}
			rs := o.calc.UpdatesForReachSpeed(current.Ads, pace == logic.PaceBehind)
			o.emitDecisions("reach_speed_"+pace.String(), rs)
			bids = rs.Bids
			targets := o.calc.Policy().CostTargets()
			o.state.CostTargets = &targets
			o.logger.Info("reach speed adjusted",
				zap.String("pace", pace.String()),
				zap.Float64("target_cost", targets.TargetCost),
				zap.Float64("stop_cost", targets.StopCost),
			)
		}
	}

	if len(bids) > 0 {
		o.emitBatch(o.ctl.SetBids(ctx, bids))
	}
	return o.transition(ctx, models.PhaseRunning)
}

func (o *Orchestrator) pace(spent float64) logic.Pace {
	elapsed := logic.ElapsedFraction(o.cfg.Schedule, o.clock.Now())
	return logic.PaceDirection(spent, o.cfg.Budget, elapsed, o.cfg.Pacing.Tolerance)
}

func (o *Orchestrator) tested(id int) bool {
	for _, t := range o.state.TestPassed {
		if t == id {
			return true
		}
	}
	return false
}

// stopAll pauses every ad still delivering. The campaign only moves on to
// reporting once all of them are paused; otherwise the partial progress is
// saved and the phase stays stopping so a resume retries the rest.
func (o *Orchestrator) stopAll(ctx context.Context) error {
	if active := o.state.ActiveAdIDs(); len(active) > 0 {
		res := o.ctl.Stop(ctx, active)
		o.emitBatch(res)
		o.state.MarkStopped(res.Succeeded)
		if len(res.Failed) > 0 {
			o.logger.Error("ads still active after stop", zap.Ints("ad_ids", res.Failed))
			err := fmt.Errorf("stop ads %v: %w", res.Failed, ErrStopIncomplete)
			if perr := o.persist(ctx); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		}
	}
	return o.transition(ctx, models.PhaseReporting)
}

// report lets final stats settle, then takes the terminal snapshot.
func (o *Orchestrator) report(ctx context.Context) error {
	if err := o.sleep(ctx, o.cfg.Timing.ReportCooldown); err != nil {
		return err
	}
	if _, _, err := o.snapshot(ctx, o.state.AdIDs()); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return o.transition(ctx, models.PhaseDone)
}

func intersect(a, b []int) []int {
	keep := make(map[int]struct{}, len(b))
	for _, id := range b {
		keep[id] = struct{}{}
	}
	var out []int
	for _, id := range a {
		if _, ok := keep[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
