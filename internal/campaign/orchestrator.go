// Package campaign drives one track promotion through its lifecycle: fan out
// playlists and dark posts, create test ads, wait out moderation, prune the
// losers, then rebalance bids on the survivors until the schedule ends or the
// budget runs out.
//
// The Orchestrator is a sequential loop. Every suspension point goes through
// the injected clock and honours cancellation, and every phase transition is
// persisted before the next phase issues remote calls.
package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/logic"
	"github.com/patrickwarner/trackpromo/internal/models"
	"github.com/patrickwarner/trackpromo/internal/observability"
	"github.com/patrickwarner/trackpromo/internal/reporting"
)

// Result is what a run leaves behind.
type Result struct {
	Key         string
	RunID       string
	Phase       models.Phase
	Snapshot    *models.Snapshot // Latest snapshot taken during the run, if any.
	Report      *reporting.Report
	Interrupted bool // Cancelled before reaching done.
}

// Orchestrator runs a single campaign. It is not safe for concurrent use;
// run independent campaigns on independent orchestrators.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	calc     *logic.Calculator
	ctl      *Controller
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	progress ProgressSink
	tracer   trace.Tracer
	runID    string

	state        *models.CampaignState
	last         *models.Snapshot
	resumed      bool
	verified     bool
	pendingStart []int
}

// New validates cfg and wires the orchestrator. Invalid configuration fails
// here, before any remote call.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.Policy = cfg.Policy.WithDefaults()
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.TestSpendLimit == 0 {
		cfg.TestSpendLimit = 100
	}
	if cfg.Objective == "" {
		cfg.Objective = logic.ObjectiveCost
	}
	if cfg.Name == "" {
		cfg.Name = CampaignName(cfg.Artist, cfg.Track)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}

	calc, err := logic.NewCalculator(cfg.Policy)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewNoOpRegistry()
	}
	runID := uuid.NewString()
	sinks := multiSink{LogProgressSink{Logger: deps.Logger}}
	if deps.Progress != nil {
		sinks = append(sinks, deps.Progress)
	}
	logger := deps.Logger.With(zap.String("campaign", cfg.Key), zap.String("run_id", runID))

	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		calc:     calc,
		ctl:      NewController(deps.Control, deps.Throttle, cfg.Cabinet.AccountID, cfg.Retry, logger, deps.Metrics),
		clock:    deps.Clock,
		logger:   logger,
		metrics:  deps.Metrics,
		progress: sinks,
		tracer:   observability.Tracer("campaign"),
		runID:    runID,
	}, nil
}

func (d Deps) validate() error {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("stats", d.Stats != nil)
	check("listens", d.Listens != nil)
	check("audiences", d.Audiences != nil)
	check("playlists", d.Playlists != nil)
	check("posts", d.Posts != nil)
	check("campaigns", d.Campaigns != nil)
	check("control", d.Control != nil)
	check("repository", d.Repo != nil)
	if len(missing) > 0 {
		return fmt.Errorf("missing collaborators: %v", missing)
	}
	return nil
}

// RunID identifies this orchestrator's run in logs, progress records and the lease.
func (o *Orchestrator) RunID() string { return o.runID }

// Run drives the campaign from its persisted phase to done. Cancelling ctx
// stops every active ad and leaves the campaign in reporting; the returned
// Result is then marked Interrupted and the error is ctx.Err(). If some ads
// cannot be paused the campaign stays in stopping and the error also wraps
// ErrStopIncomplete.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if err := o.acquireLease(ctx); err != nil {
		return nil, err
	}
	defer o.releaseLease(context.WithoutCancel(ctx))

	if err := o.loadState(ctx); err != nil {
		return nil, err
	}
	if o.state.Phase == models.PhaseDone {
		return o.result(false), ErrCampaignDone
	}

	o.logger.Info("campaign run started",
		zap.String("phase", string(o.state.Phase)),
		zap.Bool("resumed", o.resumed),
		zap.Int("ads", len(o.state.Ads)),
	)

	for o.state.Phase != models.PhaseDone {
		if ctx.Err() != nil {
			return o.interrupt(ctx)
		}
		if err := o.step(ctx); err != nil {
			if ctx.Err() != nil && !errors.Is(err, ErrLeaseLost) {
				return o.interrupt(ctx)
			}
			o.logger.Error("campaign halted", zap.String("phase", string(o.state.Phase)), zap.Error(err))
			return o.result(false), err
		}
	}

	o.logger.Info("campaign run finished", zap.Int("ads", len(o.state.Ads)))
	return o.result(false), nil
}

func (o *Orchestrator) step(ctx context.Context) error {
	phase := o.state.Phase
	ctx, span := o.tracer.Start(ctx, "campaign."+string(phase), trace.WithAttributes(
		attribute.String("campaign.key", o.cfg.Key),
		attribute.String("campaign.run_id", o.runID),
	))
	defer span.End()

	var err error
	switch phase {
	case models.PhaseCollectingPlaylists:
		err = o.collectPlaylists(ctx)
	case models.PhasePosting:
		err = o.post(ctx)
	case models.PhaseAwaitingModeration:
		err = o.awaitModeration(ctx)
	case models.PhasePruning:
		err = o.prune(ctx)
	case models.PhaseScheduled:
		err = o.awaitStart(ctx)
	case models.PhaseRunning:
		err = o.runMain(ctx)
	case models.PhaseRebalancing:
		err = o.rebalance(ctx)
	case models.PhaseStopping:
		err = o.stopAll(ctx)
	case models.PhaseReporting:
		err = o.report(ctx)
	default:
		err = &ConflictError{Key: o.cfg.Key, Reason: fmt.Sprintf("unknown phase %q", phase)}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// interrupt handles cancellation: ads that may be delivering are stopped on a
// context detached from the cancelled one, bounded by StopTimeout.
func (o *Orchestrator) interrupt(ctx context.Context) (*Result, error) {
	cause := ctx.Err()
	phase := o.state.Phase
	o.logger.Warn("campaign run cancelled", zap.String("phase", string(phase)), zap.Error(cause))

	if phase.AtLeast(models.PhaseReporting) || len(o.state.ActiveAdIDs()) == 0 {
		return o.result(true), cause
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timing.StopTimeout)
	defer cancel()
	if phase != models.PhaseStopping {
		if err := o.transition(stopCtx, models.PhaseStopping); err != nil {
			return o.result(true), errors.Join(cause, err)
		}
	}
	if err := o.stopAll(stopCtx); err != nil {
		return o.result(true), errors.Join(cause, err)
	}
	return o.result(true), cause
}

// transition persists the next phase before reporting it. On a failed write
// the in-memory phase is rolled back so the loop never runs ahead of storage.
func (o *Orchestrator) transition(ctx context.Context, next models.Phase) error {
	prev := o.state.Phase
	o.state.Phase = next
	if err := o.persist(ctx); err != nil {
		o.state.Phase = prev
		return err
	}
	if err := o.refreshLease(ctx, o.cfg.Timing.LeaseMargin); err != nil {
		return err
	}

	o.metrics.IncrementPhaseTransitions(string(next))
	o.metrics.SetActiveAds(o.cfg.Key, len(o.state.ActiveAdIDs()))
	o.logger.Info("phase transition", zap.String("from", string(prev)), zap.String("to", string(next)))
	o.emit(Progress{Event: EventPhase, Ads: len(o.state.Ads)})
	return nil
}

// persist writes the state even when ctx is already cancelled: a remote side
// effect that happened must be recorded.
func (o *Orchestrator) persist(ctx context.Context) error {
	o.state.UpdatedAt = o.clock.Now()
	if err := o.deps.Repo.Save(context.WithoutCancel(ctx), o.state); err != nil {
		o.metrics.IncrementPersistErrors()
		return fmt.Errorf("persist campaign %s at %s: %w", o.state.Key, o.state.Phase, err)
	}
	return nil
}

func (o *Orchestrator) loadState(ctx context.Context) error {
	st, err := o.deps.Repo.Load(ctx, o.cfg.Key)
	switch {
	case errors.Is(err, models.ErrNotFound):
		o.state = &models.CampaignState{
			Key:     o.cfg.Key,
			Name:    o.cfg.Name,
			Cabinet: o.cfg.Cabinet,
			Phase:   models.PhaseCollectingPlaylists,
			Ads:     make(map[int]models.AdRecord),
		}
		o.state.Schedule = o.cfg.Schedule
		return o.persist(ctx)
	case err != nil:
		return fmt.Errorf("load campaign %s: %w", o.cfg.Key, err)
	}

	if err := o.validateResumed(st); err != nil {
		return err
	}
	if st.Ads == nil {
		st.Ads = make(map[int]models.AdRecord)
	}
	st.Schedule = o.cfg.Schedule
	if st.CostTargets != nil && !o.calc.RestoreCostTargets(*st.CostTargets) {
		o.logger.Warn("ignoring invalid persisted cost targets",
			zap.Float64("target_cost", st.CostTargets.TargetCost),
			zap.Float64("stop_cost", st.CostTargets.StopCost),
		)
	}
	o.state = st
	o.resumed = true
	return nil
}

// validateResumed refuses persisted state that cannot be continued without
// guessing.
func (o *Orchestrator) validateResumed(st *models.CampaignState) error {
	conflict := func(format string, args ...any) error {
		return &ConflictError{Key: o.cfg.Key, Reason: fmt.Sprintf(format, args...)}
	}
	if !st.Phase.Valid() {
		return conflict("unknown phase %q", st.Phase)
	}
	if st.Cabinet.AccountID != o.cfg.Cabinet.AccountID {
		return conflict("persisted for account %d, configured for %d", st.Cabinet.AccountID, o.cfg.Cabinet.AccountID)
	}
	if st.Phase == models.PhaseAwaitingModeration && len(st.Ads) == 0 {
		return conflict("awaiting moderation without any ads")
	}
	switch st.Phase {
	case models.PhaseScheduled, models.PhaseRunning, models.PhaseRebalancing:
		if len(st.TestPassed) == 0 {
			return conflict("phase %s without any tested ads", st.Phase)
		}
	}
	for _, id := range st.TestPassed {
		if _, ok := st.Ads[id]; !ok {
			return conflict("ad %d marked tested but missing from the ad set", id)
		}
	}
	return nil
}

func (o *Orchestrator) result(interrupted bool) *Result {
	r := &Result{
		Key:         o.cfg.Key,
		RunID:       o.runID,
		Interrupted: interrupted,
		Snapshot:    o.last,
	}
	if o.state != nil {
		r.Phase = o.state.Phase
		if o.last != nil {
			report := reporting.Build(o.state, *o.last)
			r.Report = &report
		}
	}
	return r
}

func (o *Orchestrator) emit(p Progress) {
	p.RunID = o.runID
	p.Campaign = o.cfg.Key
	p.Phase = o.state.Phase
	p.At = o.clock.Now()
	o.progress.Emit(p)
}

func (o *Orchestrator) emitBatch(res BatchResult) {
	o.emit(Progress{
		Event:     EventBatch,
		Operation: res.Operation,
		Succeeded: len(res.Succeeded),
		Failed:    len(res.Failed),
		Ads:       len(res.Succeeded) + len(res.Failed),
	})
}

func (o *Orchestrator) emitDecisions(mode string, u logic.Updates) {
	for _, d := range []logic.Decision{
		logic.DecisionRaise, logic.DecisionLower, logic.DecisionClamp,
		logic.DecisionHold, logic.DecisionStop, logic.DecisionSkip,
	} {
		if n := u.Count(d); n > 0 {
			o.metrics.IncrementDecisions(mode, string(d), n)
		}
	}
	o.emit(Progress{
		Event:     EventDecisions,
		Operation: mode,
		Succeeded: len(u.Bids) + len(u.Held),
		Skipped:   len(u.Skipped),
		Stopped:   len(u.Stop),
		Ads:       len(u.Decisions),
	})
}
