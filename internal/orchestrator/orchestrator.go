// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator drives a research session through its states:
//
//	Planning -> Searching -> [GapChecking -> GapSearching] -> FactChecking -> Writing -> Done
//
// with Failed as the other terminal state. Each session owns its Evidence
// Store, emits one progress event per state transition, and ends with either
// a ResearchReport or a *StageFailure naming the stage and the cause.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/deep-research/internal/credibility"
	"github.com/pdiddy/deep-research/internal/evidence"
	"github.com/pdiddy/deep-research/internal/gap"
	"github.com/pdiddy/deep-research/internal/metrics"
	"github.com/pdiddy/deep-research/internal/report"
	"github.com/pdiddy/deep-research/internal/search"
	"github.com/pdiddy/deep-research/internal/stage"
	"github.com/pdiddy/deep-research/pkg/types"
)

// Reason classifies a fatal session failure.
type Reason string

const (
	ReasonPlanningFailed  Reason = "PlanningFailed"
	ReasonSearchFailed    Reason = "SearchFailed"
	ReasonFactCheckFailed Reason = "FactCheckFailed"
	ReasonWritingFailed   Reason = "WritingFailed"
	ReasonCancelled       Reason = "Cancelled"
)

// StageFailure is the error a failed session ends with.
type StageFailure struct {
	// Stage is the state the session was in when it failed.
	Stage  types.State
	Reason Reason
	Cause  error
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("research failed in %s (%s): %v", f.Stage, f.Reason, f.Cause)
}

func (f *StageFailure) Unwrap() error { return f.Cause }

// failureReason is the reason for an unclassified error in state.
func failureReason(state types.State) Reason {
	switch state {
	case types.StatePlanning:
		return ReasonPlanningFailed
	case types.StateFactChecking:
		return ReasonFactCheckFailed
	case types.StateWriting:
		return ReasonWritingFailed
	}
	return ReasonSearchFailed
}

// ErrEmptyPlan is the cause of a PlanningFailed failure when the planner
// returns no usable items.
var ErrEmptyPlan = errors.New("planner returned no search items")

// EventSink receives every progress event of every session, in order. Sinks
// run on their own goroutine per session, so a slow sink never holds up a
// transition; Wait returns once every sink has seen the terminal event.
// Publish errors are logged and never affect the session.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, ev types.ProgressEvent) error
}

// sinkTimeout bounds each sink delivery.
const sinkTimeout = 3 * time.Second

// Orchestrator starts research sessions. One Orchestrator may run many
// sessions concurrently; sessions share nothing but the backend and sinks.
type Orchestrator struct {
	Backend stage.Backend
	Config  types.OrchestratorConfig
	Logger  *zap.Logger
	Sinks   []EventSink

	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// New returns an Orchestrator with the given backend and configuration.
func New(backend stage.Backend, cfg types.OrchestratorConfig, logger *zap.Logger, sinks ...EventSink) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{Backend: backend, Config: cfg, Logger: logger, Sinks: sinks}
}

// Start validates the request and begins a session in the background. The
// returned session's Events channel yields one event per transition and is
// closed after the terminal event; Wait returns the outcome. Cancelling ctx
// abandons outstanding stage calls and fails the session with Cancelled.
func (o *Orchestrator) Start(ctx context.Context, req types.ResearchRequest) (*Session, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid research request: %w", err)
	}

	id := uuid.NewString()
	if o.NewID != nil {
		id = o.NewID()
	}
	s := newSession(id, req)
	r := &run{
		o:       o,
		s:       s,
		cfg:     o.config(),
		log:     o.logger().With(zap.String("session_id", id)),
		started: o.now(),
	}

	metrics.SessionsStarted.WithLabelValues(string(req.Depth)).Inc()
	r.log.Info("Research session started",
		zap.String("query", req.Query),
		zap.String("depth", string(req.Depth)),
		zap.Int("budget", req.Depth.Budget()),
	)

	if len(o.Sinks) > 0 {
		r.pub = make(chan types.ProgressEvent, eventBuffer)
		r.published = make(chan struct{})
		go r.publish(context.WithoutCancel(ctx))
	}
	go r.loop(ctx)
	return s, nil
}

// Run starts a session, discards its progress events, and waits for the outcome.
func (o *Orchestrator) Run(ctx context.Context, req types.ResearchRequest) (*types.ResearchReport, error) {
	s, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	for range s.Events() {
	}
	return s.Wait()
}

func (o *Orchestrator) config() types.OrchestratorConfig {
	cfg := o.Config
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	switch {
	case cfg.SearchRetries == 0:
		cfg.SearchRetries = search.DefaultRetries
	case cfg.SearchRetries < 0:
		cfg.SearchRetries = 0
	}
	if cfg.LowConfidenceThreshold == 0 {
		cfg.LowConfidenceThreshold = credibility.DefaultThreshold
	}
	return cfg
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// stateFunc performs the work of one state and returns the next state.
type stateFunc func(r *run, ctx context.Context) (types.State, error)

// states maps every non-terminal state to its handler.
var states = map[types.State]stateFunc{
	types.StatePlanning:     (*run).plan,
	types.StateSearching:    (*run).search,
	types.StateGapChecking:  (*run).checkGaps,
	types.StateGapSearching: (*run).searchGaps,
	types.StateFactChecking: (*run).factCheck,
	types.StateWriting:      (*run).write,
}

// run is the mutable state of one session, confined to its goroutine.
type run struct {
	o       *Orchestrator
	s       *Session
	cfg     types.OrchestratorConfig
	log     *zap.Logger
	started time.Time

	seq       int
	progress  float64
	items     []types.SearchPlanItem
	gapReport types.GapReport
	report    *types.ResearchReport

	// pub feeds the sink goroutine; nil without sinks.
	pub       chan types.ProgressEvent
	published chan struct{}
}

// loop drives the state machine until a terminal state.
func (r *run) loop(ctx context.Context) {
	defer close(r.s.events)

	state := types.StatePlanning
	for {
		if err := ctx.Err(); err != nil {
			r.finish(&StageFailure{Stage: state, Reason: ReasonCancelled, Cause: err})
			return
		}
		r.emit(state, r.detail(state))
		if state == types.StateDone {
			r.finish(nil)
			return
		}

		next, err := states[state](r, ctx)
		if err != nil {
			var f *StageFailure
			if !errors.As(err, &f) {
				f = &StageFailure{Stage: state, Reason: failureReason(state), Cause: err}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				f = &StageFailure{Stage: state, Reason: ReasonCancelled, Cause: ctxErr}
			}
			r.finish(f)
			return
		}
		r.log.Debug("State transition", zap.String("from", string(state)), zap.String("to", string(next)))
		state = next
	}
}

// finish records the outcome and emits Failed for failures. Done was
// already emitted by the loop.
func (r *run) finish(f *StageFailure) {
	outcome := string(types.StateDone)
	if f != nil {
		r.emit(types.StateFailed, f.Error())
		r.s.err = f
		outcome = string(f.Reason)
		r.log.Warn("Research session failed",
			zap.String("stage", string(f.Stage)),
			zap.String("reason", string(f.Reason)),
			zap.Error(f.Cause),
		)
	} else {
		r.s.report = r.report
		r.log.Info("Research session done",
			zap.Int("citations", len(r.report.Citations)),
			zap.Int("unresolved", len(r.report.Unresolved)),
			zap.Int("low_confidence", r.report.LowConfidence),
		)
	}
	metrics.SessionsCompleted.WithLabelValues(outcome).Inc()
	metrics.SessionDuration.WithLabelValues(string(r.s.Request.Depth)).Observe(time.Since(r.started).Seconds())
	if r.pub != nil {
		close(r.pub)
		<-r.published
	}
	close(r.s.done)
}

// emit sends one progress event to the session stream and queues it for
// the sinks.
func (r *run) emit(state types.State, detail string) {
	r.seq++
	if state != types.StateFailed {
		r.progress = state.Progress()
	}
	ev := types.ProgressEvent{
		SessionID: r.s.ID,
		Seq:       r.seq,
		State:     state,
		Progress:  r.progress,
		Timestamp: r.o.now().UTC(),
		Detail:    detail,
	}
	metrics.StateTransitions.WithLabelValues(string(state)).Inc()
	r.s.events <- ev
	if r.pub != nil {
		r.pub <- ev
	}
}

// publish delivers queued events to every sink in order. ctx carries the
// session's values but not its cancellation, so the Failed event of a
// cancelled session still reaches the sinks.
func (r *run) publish(ctx context.Context) {
	defer close(r.published)
	for ev := range r.pub {
		for _, sink := range r.o.Sinks {
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := sink.Publish(sctx, ev)
			cancel()
			if err != nil {
				metrics.EventsPublished.WithLabelValues(sink.Name(), metrics.OutcomeError).Inc()
				r.log.Warn("Publishing progress event failed", zap.String("sink", sink.Name()), zap.Error(err))
				continue
			}
			metrics.EventsPublished.WithLabelValues(sink.Name(), metrics.OutcomeSuccess).Inc()
		}
	}
}

// detail describes the state being entered.
func (r *run) detail(state types.State) string {
	store := r.s.store
	switch state {
	case types.StatePlanning:
		return fmt.Sprintf("planning up to %d searches for %q", store.Budget(), r.s.Request.Query)
	case types.StateSearching:
		return fmt.Sprintf("running %d search(es)", len(r.items))
	case types.StateGapChecking:
		return fmt.Sprintf("checking for gaps, %d search(es) left in budget", store.Remaining())
	case types.StateGapSearching:
		return fmt.Sprintf("running %d gap search(es) for: %s",
			len(r.gapReport.AdditionalPlanItems), strings.Join(r.gapReport.MissingAspects, "; "))
	case types.StateFactChecking:
		sum := store.Summary()
		return fmt.Sprintf("fact checking %d result(s) from %d search(es), %d unresolved", sum.Results, sum.Recorded, sum.Failed)
	case types.StateWriting:
		return fmt.Sprintf("writing %s report", r.s.Request.Style)
	case types.StateDone:
		return fmt.Sprintf("report ready with %d citation(s)", len(r.report.Citations))
	}
	return ""
}

func (r *run) plan(ctx context.Context) (types.State, error) {
	budget := r.s.store.Budget()
	out, err := stage.Plan(ctx, r.o.Backend, stage.PlanInput{Request: r.s.Request, MaxItems: budget})
	if err != nil {
		return "", &StageFailure{Stage: types.StatePlanning, Reason: ReasonPlanningFailed, Cause: err}
	}

	items, dropped := normalizePlan(out.Items, budget)
	if dropped > 0 {
		r.log.Info("Planner output trimmed", zap.Int("proposed", len(out.Items)), zap.Int("dropped", dropped))
	}
	if len(items) == 0 {
		return "", &StageFailure{Stage: types.StatePlanning, Reason: ReasonPlanningFailed, Cause: ErrEmptyPlan}
	}
	r.items = items
	return types.StateSearching, nil
}

func (r *run) search(ctx context.Context) (types.State, error) {
	if _, err := r.coordinator().Execute(ctx, r.s.store, r.items, r.cfg.Concurrency); err != nil {
		return "", &StageFailure{Stage: types.StateSearching, Reason: ReasonSearchFailed, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.cfg.DisableGapRound || r.s.store.Remaining() == 0 {
		return types.StateFactChecking, nil
	}
	return types.StateGapChecking, nil
}

func (r *run) checkGaps(ctx context.Context) (types.State, error) {
	a := &gap.Analyzer{Backend: r.o.Backend, Logger: r.log}
	rep, err := a.Analyze(ctx, r.s.Request.Query, r.s.store.Snapshot(), r.s.store.Remaining())
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		// The gap round is optional; go on with the first round's evidence.
		r.log.Warn("Gap analysis failed, skipping gap round", zap.Error(err))
		return types.StateFactChecking, nil
	}
	r.gapReport = rep
	if len(rep.AdditionalPlanItems) == 0 {
		return types.StateFactChecking, nil
	}
	return types.StateGapSearching, nil
}

func (r *run) searchGaps(ctx context.Context) (types.State, error) {
	items := r.gapReport.AdditionalPlanItems
	if _, err := r.coordinator().Execute(ctx, r.s.store, items, r.cfg.Concurrency); err != nil {
		// Select caps at the remaining budget, so this only happens if the
		// ledger changed underneath us; keep the first round's evidence.
		r.log.Warn("Gap round not issued", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return types.StateFactChecking, nil
}

func (r *run) factCheck(ctx context.Context) (types.State, error) {
	store := r.s.store
	results := store.Results()
	scorer := &credibility.Scorer{
		Backend:   r.o.Backend,
		Threshold: r.cfg.LowConfidenceThreshold,
		FactCheck: !r.cfg.DisableFactCheck,
		Logger:    r.log,
	}
	assessments, err := scorer.Score(ctx, r.s.Request.Query, results)
	if err != nil {
		return "", &StageFailure{Stage: types.StateFactChecking, Reason: ReasonFactCheckFailed, Cause: err}
	}
	for _, a := range assessments {
		if err := store.Assess(a); err != nil {
			return "", &StageFailure{Stage: types.StateFactChecking, Reason: ReasonFactCheckFailed, Cause: err}
		}
	}
	if err := store.Verify(); err != nil {
		return "", &StageFailure{Stage: types.StateFactChecking, Reason: ReasonFactCheckFailed,
			Cause: fmt.Errorf("evidence store invariant violated: %w", err)}
	}
	return types.StateWriting, nil
}

func (r *run) write(ctx context.Context) (types.State, error) {
	rc := report.Assemble(r.s.store.Snapshot(), r.s.Request, r.gapReport.MissingAspects)
	w := &report.Writer{Backend: r.o.Backend, Logger: r.log, Now: r.o.Now}
	rep, err := w.Write(ctx, r.s.ID, rc)
	if err != nil {
		return "", &StageFailure{Stage: types.StateWriting, Reason: ReasonWritingFailed, Cause: err}
	}
	r.report = rep
	return types.StateDone, nil
}

func (r *run) coordinator() *search.Coordinator {
	return &search.Coordinator{
		Backend:  r.o.Backend,
		Retries:  r.cfg.SearchRetries,
		Language: r.s.Request.Language,
		Logger:   r.log,
		Now:      r.o.Now,
	}
}

// normalizePlan orders planner items by priority, drops blank and duplicate
// queries (keeping the higher-priority copy), truncates to budget, and gives
// every item a unique ID (p1, p2, ... for missing or repeated IDs). It
// returns the items and how many were dropped.
func normalizePlan(proposed []types.SearchPlanItem, budget int) ([]types.SearchPlanItem, int) {
	sorted := append([]types.SearchPlanItem(nil), proposed...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	seenQuery := make(map[string]bool, len(sorted))
	var kept []types.SearchPlanItem
	for _, it := range sorted {
		it.QueryText = strings.TrimSpace(it.QueryText)
		key := evidence.NormalizeQuery(it.QueryText)
		if key == "" || seenQuery[key] {
			continue
		}
		seenQuery[key] = true
		kept = append(kept, it)
	}
	if len(kept) > budget {
		kept = kept[:budget]
	}

	usedIDs := make(map[string]bool, len(kept))
	for _, it := range kept {
		if it.ID != "" {
			usedIDs[it.ID] = false
		}
	}
	n := 0
	for i := range kept {
		kept[i].Round = 1
		id := kept[i].ID
		if id != "" && !usedIDs[id] {
			usedIDs[id] = true
			continue
		}
		for {
			n++
			id = fmt.Sprintf("p%d", n)
			if _, taken := usedIDs[id]; !taken {
				break
			}
		}
		usedIDs[id] = true
		kept[i].ID = id
	}
	return kept, len(proposed) - len(kept)
}
