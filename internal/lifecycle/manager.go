package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Manager creates runs, attaches their write-once artifacts and drives status
// transitions through the provider's compare-and-swap.
type Manager struct {
	provider         provider.Provider
	registry         *persona.Registry
	logger           *slog.Logger
	now              func() time.Time
	newID            func() string
	schemaVersion    string
	promptSetVersion string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithVersions sets the schema and prompt-set versions stamped on runs and decisions.
func WithVersions(schema, promptSet string) Option {
	return func(m *Manager) {
		m.schemaVersion = schema
		m.promptSetVersion = promptSet
	}
}

// NewManager creates a Manager.
func NewManager(p provider.Provider, reg *persona.Registry, opts ...Option) *Manager {
	m := &Manager{
		provider: p,
		registry: reg,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return ulid.Make().String() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Registry returns the persona registry the manager validates against.
func (m *Manager) Registry() *persona.Registry { return m.registry }

// InitialRunInput holds the inputs of a first evaluation.
type InitialRunInput struct {
	Idea        string
	Context     map[string]any
	Model       string
	Temperature float64
}

// CreateInitialRun persists a new RUNNING run of type INITIAL.
func (m *Manager) CreateInitialRun(ctx context.Context, in InitialRunInput) (*types.Run, error) {
	if strings.TrimSpace(in.Idea) == "" {
		return nil, ErrEmptyIdea
	}
	run := m.newRun(types.RunInitial, nil, in.Idea, in.Context, in.Model, in.Temperature)
	if err := m.provider.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	m.logger.Info("run created", "run", run.ID)
	m.appendEvent(ctx, types.Event{Kind: types.EventRunCreated, RunID: run.ID, Status: string(run.Status)})
	return &run, nil
}

func (m *Manager) newRun(rt types.RunType, parentID *string, idea string, extra map[string]any, model string, temp float64) types.Run {
	now := m.now()
	run := types.Run{
		ID:           m.newID(),
		Status:       types.RunRunning,
		RunType:      rt,
		ParentRunID:  parentID,
		InputIdea:    idea,
		ExtraContext: extra,
		Model:        model,
		Temperature:  temp,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.schemaVersion != "" {
		v := m.schemaVersion
		run.SchemaVersion = &v
	}
	if m.promptSetVersion != "" {
		v := m.promptSetVersion
		run.PromptSetVersion = &v
	}
	return run
}

// AttachProposal stores the run's single proposal version.
func (m *Manager) AttachProposal(ctx context.Context, runID string, pv types.ProposalVersion) error {
	if _, err := m.requireRunning(ctx, runID); err != nil {
		return err
	}
	pv.RunID = runID
	if pv.CreatedAt.IsZero() {
		pv.CreatedAt = m.now()
	}
	if err := m.provider.PutProposal(ctx, pv); err != nil {
		return fmt.Errorf("attaching proposal to %s: %w", runID, err)
	}
	m.appendEvent(ctx, types.Event{Kind: types.EventProposalAttached, RunID: runID})
	return nil
}

// AttachReview stores one persona's review. Unknown personas are subject to
// the registry's policy.
func (m *Manager) AttachReview(ctx context.Context, runID string, review types.PersonaReview) error {
	if _, err := m.requireRunning(ctx, runID); err != nil {
		return err
	}
	if err := m.registry.Check(review.PersonaID); err != nil {
		return err
	}
	review.RunID = runID
	if review.CreatedAt.IsZero() {
		review.CreatedAt = m.now()
	}
	if err := m.provider.PutPersonaReview(ctx, review); err != nil {
		return fmt.Errorf("attaching review %s to %s: %w", review.PersonaID, runID, err)
	}
	kind := types.EventReviewAttached
	details := map[string]any{"confidence": review.ConfidenceScore}
	if review.Reused {
		kind = types.EventReviewReused
		details["source_run"] = review.SourceRunID
	}
	m.appendEvent(ctx, types.Event{Kind: kind, RunID: runID, PersonaID: review.PersonaID, Details: details})
	return nil
}

// AttachDecision stores the run's decision. The run must already hold a
// proposal and a review from every registered persona.
func (m *Manager) AttachDecision(ctx context.Context, runID string, doc types.DecisionDocument) (*types.Decision, error) {
	if _, err := m.requireRunning(ctx, runID); err != nil {
		return nil, err
	}
	if err := m.checkProposalAndReviews(ctx, runID); err != nil {
		return nil, err
	}
	d := types.Decision{
		RunID:                     runID,
		Result:                    doc,
		OverallWeightedConfidence: doc.OverallWeightedConfidence,
		SchemaVersion:             m.schemaVersion,
		PromptSetVersion:          m.promptSetVersion,
		CreatedAt:                 m.now(),
	}
	if err := m.provider.PutDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("attaching decision to %s: %w", runID, err)
	}
	m.appendEvent(ctx, types.Event{
		Kind:    types.EventDecisionRecorded,
		RunID:   runID,
		Status:  string(doc.Decision),
		Details: map[string]any{"confidence": doc.OverallWeightedConfidence, "veto": doc.VetoApplied},
	})
	return &d, nil
}

// Complete transitions a run to COMPLETED once its proposal, full review set
// and decision exist, copying the decision onto the run.
func (m *Manager) Complete(ctx context.Context, runID string) (*types.Run, error) {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := Transition(run.Status, types.RunCompleted); err != nil {
		return nil, err
	}
	if err := m.checkProposalAndReviews(ctx, runID); err != nil {
		return nil, err
	}
	d, err := m.provider.GetDecision(ctx, runID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s has no decision", ErrIncompleteRun, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading decision for %s: %w", runID, err)
	}

	now := m.now()
	next := *run
	next.Status = types.RunCompleted
	next.Version = run.Version + 1
	next.UpdatedAt = now
	next.CompletedAt = &now
	conf := d.OverallWeightedConfidence
	label := d.Result.Decision
	next.OverallWeightedConfidence = &conf
	next.DecisionLabel = &label

	if err := m.swap(ctx, run, next); err != nil {
		return nil, err
	}
	m.logger.Info("run completed", "run", runID, "decision", label, "confidence", conf)
	m.appendEvent(ctx, types.Event{Kind: types.EventRunCompleted, RunID: runID, Status: string(label)})
	return &next, nil
}

// Fail transitions a run to FAILED, recording the step that failed and why.
func (m *Manager) Fail(ctx context.Context, runID string, step types.Step, cause error) (*types.Run, error) {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := Transition(run.Status, types.RunFailed); err != nil {
		return nil, err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	next := *run
	next.Status = types.RunFailed
	next.Version = run.Version + 1
	next.UpdatedAt = m.now()
	next.FailedStep = step
	next.FailureMessage = msg

	if err := m.swap(ctx, run, next); err != nil {
		return nil, err
	}
	m.logger.Warn("run failed", "run", runID, "step", step, "error", msg)
	m.appendEvent(ctx, types.Event{Kind: types.EventRunFailed, RunID: runID, Step: step, Status: string(types.RunFailed), Message: msg})
	return &next, nil
}

// Bundle loads a run with its proposal, reviews and decision. Missing
// artifacts are left nil.
func (m *Manager) Bundle(ctx context.Context, runID string) (*types.RunBundle, error) {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	b := &types.RunBundle{Run: *run}

	pv, err := m.provider.GetProposal(ctx, runID)
	switch {
	case err == nil:
		b.Proposal = pv
	case !errors.Is(err, provider.ErrNotFound):
		return nil, fmt.Errorf("loading proposal for %s: %w", runID, err)
	}

	b.Reviews, err = m.provider.ListPersonaReviews(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading reviews for %s: %w", runID, err)
	}
	if b.Reviews == nil {
		b.Reviews = []types.PersonaReview{}
	}

	d, err := m.provider.GetDecision(ctx, runID)
	switch {
	case err == nil:
		b.Decision = d
	case !errors.Is(err, provider.ErrNotFound):
		return nil, fmt.Errorf("loading decision for %s: %w", runID, err)
	}
	return b, nil
}

// Ping checks that the backing store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.provider.Ping(ctx)
}

// Get returns a single run.
func (m *Manager) Get(ctx context.Context, runID string) (*types.Run, error) {
	return m.getRun(ctx, runID)
}

// List returns runs newest first.
func (m *Manager) List(ctx context.Context, opts types.ListOptions) ([]types.Run, error) {
	return m.provider.ListRuns(ctx, opts)
}

// Children returns the revisions branched from runID, oldest first.
func (m *Manager) Children(ctx context.Context, runID string) ([]types.Run, error) {
	if _, err := m.getRun(ctx, runID); err != nil {
		return nil, err
	}
	return m.provider.ListChildRuns(ctx, runID)
}

// Events returns the audit trail of a run, oldest first.
func (m *Manager) Events(ctx context.Context, runID string, limit int) ([]types.Event, error) {
	if _, err := m.getRun(ctx, runID); err != nil {
		return nil, err
	}
	return m.provider.ListEvents(ctx, runID, limit)
}

// Delete removes a run together with its artifacts and all descendant runs.
func (m *Manager) Delete(ctx context.Context, runID string) error {
	if err := m.provider.DeleteRun(ctx, runID); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("deleting run %s: %w", runID, err)
	}
	m.logger.Info("run deleted", "run", runID)
	return nil
}

func (m *Manager) getRun(ctx context.Context, runID string) (*types.Run, error) {
	run, err := m.provider.GetRun(ctx, runID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return run, nil
}

func (m *Manager) requireRunning(ctx context.Context, runID string) (*types.Run, error) {
	run, err := m.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunNotRunning, runID, run.Status)
	}
	return run, nil
}

func (m *Manager) checkProposalAndReviews(ctx context.Context, runID string) error {
	if _, err := m.provider.GetProposal(ctx, runID); err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("%w: %s has no proposal", ErrIncompleteRun, runID)
		}
		return fmt.Errorf("loading proposal for %s: %w", runID, err)
	}
	reviews, err := m.provider.ListPersonaReviews(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading reviews for %s: %w", runID, err)
	}
	have := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		have[r.PersonaID] = true
	}
	var missing []string
	for _, id := range m.registry.IDs() {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing reviews from %s", ErrIncompleteRun, runID, strings.Join(missing, ", "))
	}
	return nil
}

func (m *Manager) swap(ctx context.Context, cur *types.Run, next types.Run) error {
	ok, err := m.provider.CompareAndSwapRun(ctx, cur.ID, cur.Version, next)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", cur.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrConcurrentUpdate, cur.ID)
	}
	return nil
}

// appendEvent records an audit event. Failures are logged and never fail the caller.
func (m *Manager) appendEvent(ctx context.Context, ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if err := m.provider.AppendEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to append event", "run", ev.RunID, "kind", ev.Kind, "error", err)
	}
}
