// Package engine orchestrates an evaluation: it expands an idea into a
// proposal, fans persona reviews out concurrently, waits for the full set and
// hands it to the aggregator before completing the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/verdict/internal/aggregate"
	"github.com/dwsmith1983/verdict/internal/diff"
	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/internal/metrics"
	"github.com/dwsmith1983/verdict/pkg/types"
)

const tracerName = "github.com/dwsmith1983/verdict/internal/engine"

// Defaults applied when Config fields are zero.
const (
	DefaultStepTimeout   = 90 * time.Second
	DefaultMaxRetries    = 2
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultTemperature   = 0.7
)

// Client is the language model collaborator.
type Client interface {
	Expand(ctx context.Context, req llm.ExpandRequest) (*types.ProposalDocument, error)
	Review(ctx context.Context, proposal types.ProposalDocument, p types.Persona) (*types.PersonaReviewDocument, error)
	Model() string
}

// Config holds orchestration settings.
type Config struct {
	StepTimeout            time.Duration
	MaxRetries             int
	RetryInterval          time.Duration
	Temperature            float64
	PersonaTemplateVersion string
}

func (c Config) withDefaults() Config {
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	return c
}

// ConfigFrom builds a Config from the engine section of verdict.yaml.
func ConfigFrom(ec *types.EngineConfig) (Config, error) {
	cfg := Config{MaxRetries: DefaultMaxRetries}
	if ec == nil {
		return cfg.withDefaults(), nil
	}
	if ec.StepTimeout != "" {
		d, err := time.ParseDuration(ec.StepTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("engine.stepTimeout: %w", err)
		}
		cfg.StepTimeout = d
	}
	if ec.MaxRetries > 0 {
		cfg.MaxRetries = ec.MaxRetries
	}
	cfg.PersonaTemplateVersion = ec.PromptSetVersion
	return cfg.withDefaults(), nil
}

// Engine runs evaluations and revisions against a lifecycle manager.
type Engine struct {
	manager    *lifecycle.Manager
	client     Client
	aggregator *aggregate.Aggregator
	cfg        Config
	alertFn    func(context.Context, types.Alert)
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets orchestration settings.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg.withDefaults() }
}

// WithAlertFunc sets the callback invoked for failed, rejected and vetoed runs.
func WithAlertFunc(fn func(context.Context, types.Alert)) Option {
	return func(e *Engine) { e.alertFn = fn }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for review timestamps and alerts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(m *lifecycle.Manager, c Client, opts ...Option) *Engine {
	e := &Engine{
		manager:    m,
		client:     c,
		aggregator: aggregate.New(m.Registry()),
		cfg:        Config{MaxRetries: DefaultMaxRetries}.withDefaults(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Manager returns the lifecycle manager the engine drives.
func (e *Engine) Manager() *lifecycle.Manager { return e.manager }

// Evaluate runs a new INITIAL evaluation to completion. Input errors are
// returned before a run exists; any later failure marks the run FAILED and
// is returned as a *StepError.
func (e *Engine) Evaluate(ctx context.Context, req types.EvaluateRequest) (*types.RunBundle, error) {
	ctx, span := e.tracer.Start(ctx, "verdict.evaluate")
	defer span.End()

	temp := e.cfg.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	model := req.Model
	if model == "" {
		model = e.client.Model()
	}

	run, err := e.manager.CreateInitialRun(ctx, lifecycle.InitialRunInput{
		Idea:        req.Idea,
		Context:     req.Context,
		Model:       model,
		Temperature: temp,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RunsStarted.Add(1)
	span.SetAttributes(attribute.String("run.id", run.ID), attribute.String("run.type", string(run.RunType)))

	proposal, err := call(ctx, e.cfg, types.StepExpand, "", func(cctx context.Context) (*types.ProposalDocument, error) {
		return e.client.Expand(cctx, llm.ExpandRequest{Idea: req.Idea, Context: req.Context, Temperature: temp})
	})
	if err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepExpand, Err: err})
	}
	pv := types.ProposalVersion{Proposal: *proposal, PersonaTemplateVersion: e.cfg.PersonaTemplateVersion}
	if err := e.manager.AttachProposal(ctx, run.ID, pv); err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepPersist, Err: err})
	}

	fresh, err := e.reviewPersonas(ctx, run.ID, *proposal, e.manager.Registry().IDs())
	if err != nil {
		return nil, e.fail(ctx, span, run, err)
	}
	return e.finish(ctx, span, run, nil, fresh)
}

// Revise branches a revision from a COMPLETED parent, re-expands the proposal
// with the edits, re-reviews only the personas that scored below the revise
// threshold and aggregates over the reused and fresh reviews together.
func (e *Engine) Revise(ctx context.Context, parentID string, edits types.RevisionEdits) (*types.RunBundle, error) {
	ctx, span := e.tracer.Start(ctx, "verdict.revise", trace.WithAttributes(attribute.String("run.parent", parentID)))
	defer span.End()

	plan, err := e.manager.CreateRevision(ctx, parentID, edits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	run := plan.Run
	metrics.RunsStarted.Add(1)
	metrics.RevisionsCreated.Add(1)
	metrics.ReviewsReused.Add(int64(len(plan.Reused)))
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.type", string(run.RunType)),
		attribute.StringSlice("revision.rerun", plan.Rerun),
		attribute.Int("revision.reused", len(plan.Reused)),
	)

	var parentDoc *types.ProposalDocument
	if plan.Parent.Proposal != nil {
		doc := plan.Parent.Proposal.Proposal
		parentDoc = &doc
	}
	proposal, err := call(ctx, e.cfg, types.StepExpand, "", func(cctx context.Context) (*types.ProposalDocument, error) {
		return e.client.Expand(cctx, llm.ExpandRequest{
			Idea:        run.InputIdea,
			Context:     run.ExtraContext,
			Temperature: run.Temperature,
			Parent:      parentDoc,
			Edits:       &plan.Edits,
		})
	})
	if err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepExpand, Err: err})
	}

	changes := diff.ProposalChanges(parentDoc, proposal)
	pv := types.ProposalVersion{
		Proposal:               *proposal,
		DiffFromParent:         &changes,
		PersonaTemplateVersion: e.cfg.PersonaTemplateVersion,
		EditNotes:              edits.UserNotes,
	}
	if err := e.manager.AttachProposal(ctx, run.ID, pv); err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepPersist, Err: err})
	}

	fresh, err := e.reviewPersonas(ctx, run.ID, *proposal, plan.Rerun)
	if err != nil {
		return nil, e.fail(ctx, span, run, err)
	}
	return e.finish(ctx, span, run, plan.Reused, fresh)
}

// reviewPersonas reviews proposal as each persona in ids concurrently. It
// returns only when every call has finished; the first permanent failure
// cancels the rest.
func (e *Engine) reviewPersonas(ctx context.Context, runID string, proposal types.ProposalDocument, ids []string) ([]types.PersonaReview, error) {
	reg := e.manager.Registry()
	personas := make([]types.Persona, len(ids))
	for i, id := range ids {
		p, ok := reg.Get(id)
		if !ok {
			return nil, &StepError{Step: types.StepReview, PersonaID: id, Err: fmt.Errorf("persona %q not registered", id)}
		}
		personas[i] = p
	}

	reviews := make([]types.PersonaReview, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range personas {
		id := p.ID
		g.Go(func() error {
			pctx, span := e.tracer.Start(gctx, "verdict.review", trace.WithAttributes(
				attribute.String("run.id", runID),
				attribute.String("persona.id", id),
			))
			defer span.End()

			doc, err := call(pctx, e.cfg, types.StepReview, id, func(cctx context.Context) (*types.PersonaReviewDocument, error) {
				return e.client.Review(cctx, proposal, p)
			})
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return &StepError{Step: types.StepReview, PersonaID: id, Err: err}
			}
			span.SetAttributes(attribute.Float64("review.confidence", doc.ConfidenceScore))
			reviews[i] = types.NewPersonaReview(runID, id, *doc, e.now())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reviews, nil
}

// finish attaches fresh reviews, aggregates over reused and fresh reviews,
// records the decision and completes the run.
func (e *Engine) finish(ctx context.Context, span trace.Span, run *types.Run, reused, fresh []types.PersonaReview) (*types.RunBundle, error) {
	for _, r := range fresh {
		if err := e.manager.AttachReview(ctx, run.ID, r); err != nil {
			return nil, e.fail(ctx, span, run, &StepError{Step: types.StepPersist, PersonaID: r.PersonaID, Err: err})
		}
	}

	all := make([]types.PersonaReview, 0, len(reused)+len(fresh))
	all = append(all, reused...)
	all = append(all, fresh...)

	doc, err := e.aggregator.Aggregate(all)
	if err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepAggregate, Err: err})
	}
	if _, err := e.manager.AttachDecision(ctx, run.ID, *doc); err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepPersist, Err: err})
	}
	if _, err := e.manager.Complete(ctx, run.ID); err != nil {
		return nil, e.fail(ctx, span, run, &StepError{Step: types.StepComplete, Err: err})
	}

	metrics.RecordRun(ctx, string(run.RunType), string(types.RunCompleted))
	metrics.RecordDecision(ctx, string(doc.Decision), doc.VetoApplied)
	span.SetAttributes(
		attribute.String("decision", string(doc.Decision)),
		attribute.Float64("decision.confidence", doc.OverallWeightedConfidence),
		attribute.Bool("decision.veto", doc.VetoApplied),
	)
	e.logger.Info("evaluation complete", "run", run.ID, "decision", doc.Decision,
		"confidence", doc.OverallWeightedConfidence, "veto", doc.VetoApplied)
	e.decisionAlerts(ctx, run.ID, doc)

	return e.manager.Bundle(ctx, run.ID)
}

// fail marks run FAILED and returns se with the run id filled in. The FAILED
// transition uses a context detached from cancellation so a cancelled caller
// still leaves a terminal run behind.
func (e *Engine) fail(ctx context.Context, span trace.Span, run *types.Run, err error) error {
	var se *StepError
	if !errors.As(err, &se) {
		se = &StepError{Step: types.StepReview, Err: err}
	}
	se.RunID = run.ID

	span.RecordError(se)
	span.SetStatus(codes.Error, se.Error())

	cause := se.Err
	if se.PersonaID != "" {
		cause = fmt.Errorf("persona %s: %w", se.PersonaID, se.Err)
	}
	if _, ferr := e.manager.Fail(context.WithoutCancel(ctx), run.ID, se.Step, cause); ferr != nil {
		e.logger.Error("failed to mark run failed", "run", run.ID, "step", se.Step, "error", ferr)
	}
	metrics.RecordRun(ctx, string(run.RunType), string(types.RunFailed))
	e.logger.Error("evaluation failed", "run", run.ID, "step", se.Step, "persona", se.PersonaID, "error", se.Err)

	e.fireAlert(ctx, types.Alert{
		Level:     types.AlertLevelError,
		RunID:     run.ID,
		PersonaID: se.PersonaID,
		Message:   fmt.Sprintf("Run %s failed at %s: %v", run.ID, se.Step, se.Err),
		Details:   map[string]any{"step": string(se.Step), "llm_error_kind": string(llm.KindOf(se.Err))},
		Timestamp: e.now(),
	})
	return se
}

func (e *Engine) decisionAlerts(ctx context.Context, runID string, doc *types.DecisionDocument) {
	if doc.VetoApplied {
		e.fireAlert(ctx, types.Alert{
			Level:     types.AlertLevelWarning,
			RunID:     runID,
			PersonaID: types.SecurityGuardianID,
			Message:   fmt.Sprintf("Run %s: security veto demoted approve to revise", runID),
			Details:   map[string]any{"confidence": doc.OverallWeightedConfidence},
			Timestamp: e.now(),
		})
	}
	if doc.Decision == types.DecisionReject {
		e.fireAlert(ctx, types.Alert{
			Level:     types.AlertLevelWarning,
			RunID:     runID,
			Message:   fmt.Sprintf("Run %s rejected with confidence %.3f", runID, doc.OverallWeightedConfidence),
			Details:   map[string]any{"confidence": doc.OverallWeightedConfidence},
			Timestamp: e.now(),
		})
	}
}

func (e *Engine) fireAlert(ctx context.Context, a types.Alert) {
	if e.alertFn != nil {
		e.alertFn(ctx, a)
	}
}
