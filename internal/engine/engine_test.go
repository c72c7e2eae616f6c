package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/internal/provider/memory"
	"github.com/dwsmith1983/verdict/internal/testutil"
	"github.com/dwsmith1983/verdict/pkg/types"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (r *alertRecorder) record(_ context.Context, a types.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) levels() []types.AlertLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.AlertLevel
	for _, a := range r.alerts {
		out = append(out, a.Level)
	}
	return out
}

func newTestEngine(t *testing.T, client *testutil.FakeClient, cfg Config) (*Engine, *memory.Provider, *alertRecorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := memory.New()
	reg, err := persona.Default(persona.WithLogger(logger))
	require.NoError(t, err)

	n := 0
	mgr := lifecycle.NewManager(prov, reg,
		lifecycle.WithLogger(logger),
		lifecycle.WithClock(testutil.FixedClock(testTime)),
		lifecycle.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("run-%02d", n)
		}),
		lifecycle.WithVersions("v1", llm.PromptSetVersion),
	)

	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	rec := &alertRecorder{}
	eng := New(mgr, client,
		WithConfig(cfg),
		WithLogger(logger),
		WithAlertFunc(rec.record),
		WithClock(testutil.FixedClock(testTime)),
	)
	return eng, prov, rec
}

func rateLimited() error {
	return &llm.Error{Kind: llm.KindRateLimit, Op: "review", Err: errors.New("429 too many requests")}
}

func TestEvaluate_Approve(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.85, 0.95, 0.9, 0.8))
	eng, _, rec := newTestEngine(t, client, Config{MaxRetries: 2})

	b, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, b.Run.Status)
	assert.Equal(t, types.RunInitial, b.Run.RunType)
	assert.Equal(t, "fake-model", b.Run.Model)
	assert.Equal(t, DefaultTemperature, b.Run.Temperature)
	require.NotNil(t, b.Proposal)
	assert.Nil(t, b.Proposal.DiffFromParent)
	assert.Len(t, b.Reviews, 5)
	require.NotNil(t, b.Decision)
	assert.Equal(t, types.DecisionApprove, b.Decision.Result.Decision)
	require.NotNil(t, b.Run.DecisionLabel)
	assert.Equal(t, types.DecisionApprove, *b.Run.DecisionLabel)
	assert.InDelta(t, 0.88, *b.Run.OverallWeightedConfidence, 1e-9)
	assert.Empty(t, rec.levels())

	for _, id := range []string{"architect", "critic", "optimist", "security_guardian", "user_advocate"} {
		assert.Equal(t, 1, client.ReviewCalls(id), id)
	}
}

func TestEvaluate_RequestOverrides(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	eng, _, _ := newTestEngine(t, client, Config{})

	temp := 0.2
	b, err := eng.Evaluate(context.Background(), types.EvaluateRequest{
		Idea:        "offline sync",
		Context:     map[string]any{"team": "field"},
		Model:       "gpt-4o",
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", b.Run.Model)
	assert.Equal(t, 0.2, b.Run.Temperature)

	calls := client.ExpandCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "offline sync", calls[0].Idea)
	assert.Equal(t, 0.2, calls[0].Temperature)
	assert.Equal(t, "field", calls[0].Context["team"])
	assert.Nil(t, calls[0].Parent)
}

func TestEvaluate_RejectAlerts(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.3, 0.2, 0.5, 0.4, 0.3))
	eng, _, rec := newTestEngine(t, client, Config{})

	b, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "rewrite everything"})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionReject, b.Decision.Result.Decision)
	assert.Equal(t, []types.AlertLevel{types.AlertLevelWarning}, rec.levels())
}

func TestEvaluate_SecurityVeto(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.95, 0.9, 0.95, 0.85, 0.9))
	sec := testutil.ReviewDoc("security_guardian", 0.85)
	sec.BlockingIssues = []types.BlockingIssue{{Description: "tokens stored in plaintext", SecurityCritical: true}}
	client.SetReview("security_guardian", sec)
	eng, _, rec := newTestEngine(t, client, Config{})

	b, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRevise, b.Decision.Result.Decision)
	assert.True(t, b.Decision.Result.VetoApplied)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, types.SecurityGuardianID, rec.alerts[0].PersonaID)
}

func TestEvaluate_EmptyIdea(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	eng, prov, _ := newTestEngine(t, client, Config{})

	_, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "  "})
	require.ErrorIs(t, err, lifecycle.ErrEmptyIdea)

	runs, err := prov.ListRuns(context.Background(), types.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Empty(t, client.ExpandCalls())
}

func TestEvaluate_ExpandFailure(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.FailExpand(&llm.Error{Kind: llm.KindAuth, Op: "expand", Err: errors.New("401 unauthorized")})
	eng, _, rec := newTestEngine(t, client, Config{MaxRetries: 3})

	_, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.StepExpand, se.Step)
	assert.Equal(t, "run-01", se.RunID)
	assert.Equal(t, llm.KindAuth, llm.KindOf(err))
	assert.Len(t, client.ExpandCalls(), 1, "auth errors are not retried")
	assert.Zero(t, client.TotalReviewCalls())

	b, err := eng.Manager().Bundle(context.Background(), "run-01")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, b.Run.Status)
	assert.Equal(t, types.StepExpand, b.Run.FailedStep)
	assert.Nil(t, b.Proposal)
	assert.Equal(t, []types.AlertLevel{types.AlertLevelError}, rec.levels())
}

func TestEvaluate_PersonaFailureFailsRun(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.FailReview("critic", &llm.Error{Kind: llm.KindSchema, Op: "review", Err: errors.New("confidence_score out of range")})
	eng, _, rec := newTestEngine(t, client, Config{MaxRetries: 2})

	_, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.StepReview, se.Step)
	assert.Equal(t, "critic", se.PersonaID)
	assert.Equal(t, 1, client.ReviewCalls("critic"))

	b, err := eng.Manager().Bundle(context.Background(), se.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, b.Run.Status)
	assert.Equal(t, types.StepReview, b.Run.FailedStep)
	assert.Contains(t, b.Run.FailureMessage, "critic")
	assert.Empty(t, b.Reviews, "no partial review set is persisted")
	assert.Nil(t, b.Decision)
	assert.Nil(t, b.Run.DecisionLabel)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, "critic", rec.alerts[0].PersonaID)
	assert.Equal(t, "schema", rec.alerts[0].Details["llm_error_kind"])
}

func TestEvaluate_RetriesTransientErrors(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.FailReview("optimist", rateLimited(), rateLimited())
	eng, _, _ := newTestEngine(t, client, Config{MaxRetries: 2})

	b, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, b.Run.Status)
	assert.Equal(t, 3, client.ReviewCalls("optimist"))
	assert.Equal(t, 1, client.ReviewCalls("architect"))
}

func TestEvaluate_RetriesExhausted(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.FailReview("optimist", rateLimited(), rateLimited())
	eng, _, _ := newTestEngine(t, client, Config{MaxRetries: 1})

	_, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "optimist", se.PersonaID)
	assert.Equal(t, llm.KindRateLimit, llm.KindOf(err))
	assert.Equal(t, 2, client.ReviewCalls("optimist"))
}

func TestEvaluate_StepTimeout(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.Delay = 500 * time.Millisecond
	eng, _, _ := newTestEngine(t, client, Config{StepTimeout: 20 * time.Millisecond, MaxRetries: -1})

	start := time.Now()
	_, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	var se *StepError
	require.ErrorAs(t, err, &se)
	run, err := eng.Manager().Get(context.Background(), se.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
}

func TestEvaluate_ReviewsRunConcurrently(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.Delay = 50 * time.Millisecond
	eng, _, _ := newTestEngine(t, client, Config{})

	_, err := eng.Evaluate(context.Background(), types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)
	assert.Equal(t, 5, client.MaxInFlight())
}

func TestEvaluate_CancelledContextLeavesFailedRun(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	client.Delay = time.Second
	eng, _, _ := newTestEngine(t, client, Config{StepTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		testutil.WaitFor(t, time.Second, func() bool { return client.TotalReviewCalls() == 5 }, "reviews in flight")
		cancel()
	}()

	_, err := eng.Evaluate(ctx, types.EvaluateRequest{Idea: "offline sync"})
	require.ErrorIs(t, err, context.Canceled)

	run, err := eng.Manager().Get(context.Background(), "run-01")
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, types.StepReview, run.FailedStep)
}

func TestReviewPersonas_UnregisteredStartsNoCalls(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	eng, _, _ := newTestEngine(t, client, Config{MaxRetries: 1})

	ids := []string{persona.Architect, persona.Critic, "ghost", persona.Optimist}
	reviews, err := eng.reviewPersonas(context.Background(), "run-x", testutil.SampleProposal(), ids)
	assert.Nil(t, reviews)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, types.StepReview, stepErr.Step)
	assert.Equal(t, "ghost", stepErr.PersonaID)
	assert.Zero(t, client.TotalReviewCalls())
}

func TestRevise_RerunsLowConfidencePersonas(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.8, 0.5, 0.9, 0.55, 0.7))
	eng, _, _ := newTestEngine(t, client, Config{})
	ctx := context.Background()

	parent, err := eng.Evaluate(ctx, types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRevise, parent.Decision.Result.Decision)

	client.SetReview("critic", testutil.ReviewDoc("critic", 0.85))
	client.SetReview("security_guardian", testutil.ReviewDoc("security_guardian", 0.9))

	edited := testutil.SampleProposal()
	edited.ProposedSolution = "Queue edits locally, encrypt at rest and reconcile on reconnect."
	child, err := eng.Revise(ctx, parent.Run.ID, types.RevisionEdits{EditedProposal: &edited, UserNotes: "encrypt local queue"})
	require.NoError(t, err)

	assert.Equal(t, types.RunRevision, child.Run.RunType)
	require.NotNil(t, child.Run.ParentRunID)
	assert.Equal(t, parent.Run.ID, *child.Run.ParentRunID)
	assert.Equal(t, types.RunCompleted, child.Run.Status)
	assert.Equal(t, parent.Run.Model, child.Run.Model)

	assert.Equal(t, 2, client.ReviewCalls("critic"))
	assert.Equal(t, 2, client.ReviewCalls("security_guardian"))
	assert.Equal(t, 1, client.ReviewCalls("architect"))
	assert.Equal(t, 1, client.ReviewCalls("optimist"))
	assert.Equal(t, 1, client.ReviewCalls("user_advocate"))

	require.Len(t, child.Reviews, 5)
	reused := map[string]bool{}
	for _, r := range child.Reviews {
		if r.Reused {
			reused[r.PersonaID] = true
			assert.Equal(t, parent.Run.ID, r.SourceRunID)
		}
	}
	assert.Equal(t, map[string]bool{"architect": true, "optimist": true, "user_advocate": true}, reused)

	// 0.25*0.8 + 0.25*0.85 + 0.15*0.9 + 0.20*0.9 + 0.15*0.7
	assert.InDelta(t, 0.8325, child.Decision.OverallWeightedConfidence, 1e-9)
	assert.Equal(t, types.DecisionApprove, child.Decision.Result.Decision)

	require.NotNil(t, child.Proposal)
	assert.Equal(t, "encrypt local queue", child.Proposal.EditNotes)
	require.NotNil(t, child.Proposal.DiffFromParent)
	var modified []string
	for _, s := range child.Proposal.DiffFromParent.Sections {
		if s.Status == types.SectionModified {
			modified = append(modified, s.Section)
		}
	}
	assert.Equal(t, []string{"proposed_solution"}, modified)

	calls := client.ExpandCalls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[1].Parent)
	require.NotNil(t, calls[1].Edits)
	assert.Equal(t, "encrypt local queue", calls[1].Edits.UserNotes)

	assert.Equal(t, types.DecisionRevise, *parent.Run.DecisionLabel)
	reloaded, err := eng.Manager().Get(ctx, parent.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.Run, *reloaded)
}

func TestRevise_FailureLeavesParentUntouched(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.8, 0.5, 0.9, 0.9, 0.9))
	eng, _, _ := newTestEngine(t, client, Config{})
	ctx := context.Background()

	parent, err := eng.Evaluate(ctx, types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)

	client.FailReview("critic", &llm.Error{Kind: llm.KindAuth, Op: "review", Err: errors.New("invalid api key")})
	_, err = eng.Revise(ctx, parent.Run.ID, types.RevisionEdits{UserNotes: "tighten scope"})
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "critic", se.PersonaID)

	child, err := eng.Manager().Get(ctx, se.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, child.Status)

	reloaded, err := eng.Manager().Get(ctx, parent.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, reloaded.Status)
	assert.Equal(t, parent.Run.Version, reloaded.Version)
}

func TestRevise_InputErrors(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	eng, _, _ := newTestEngine(t, client, Config{})
	ctx := context.Background()

	_, err := eng.Revise(ctx, "missing", types.RevisionEdits{UserNotes: "x"})
	require.ErrorIs(t, err, lifecycle.ErrParentNotFound)

	parent, err := eng.Evaluate(ctx, types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)
	_, err = eng.Revise(ctx, parent.Run.ID, types.RevisionEdits{})
	require.ErrorIs(t, err, lifecycle.ErrMissingEditInput)
	assert.Len(t, client.ExpandCalls(), 1)
}

func TestRevise_AllReused(t *testing.T) {
	client := testutil.NewFakeClient(testutil.Confidences(0.9, 0.9, 0.9, 0.9, 0.9))
	eng, _, _ := newTestEngine(t, client, Config{})
	ctx := context.Background()

	parent, err := eng.Evaluate(ctx, types.EvaluateRequest{Idea: "offline sync"})
	require.NoError(t, err)

	child, err := eng.Revise(ctx, parent.Run.ID, types.RevisionEdits{UserNotes: "polish wording"})
	require.NoError(t, err)
	assert.Equal(t, 5, client.TotalReviewCalls())
	assert.Equal(t, parent.Decision.OverallWeightedConfidence, child.Decision.OverallWeightedConfidence)
	for _, r := range child.Reviews {
		assert.True(t, r.Reused, r.PersonaID)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg, err := ConfigFrom(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultStepTimeout, cfg.StepTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)

	cfg, err = ConfigFrom(&types.EngineConfig{StepTimeout: "30s", MaxRetries: 4, PromptSetVersion: "p2"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.StepTimeout)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, "p2", cfg.PersonaTemplateVersion)

	_, err = ConfigFrom(&types.EngineConfig{StepTimeout: "soon"})
	assert.Error(t, err)
}

func TestStepError_Message(t *testing.T) {
	err := &StepError{RunID: "r1", Step: types.StepReview, PersonaID: "critic", Err: errors.New("boom")}
	assert.Equal(t, "run r1: review step failed for persona critic: boom", err.Error())
	err = &StepError{RunID: "r1", Step: types.StepExpand, Err: errors.New("boom")}
	assert.Equal(t, "run r1: expand step failed: boom", err.Error())
}
