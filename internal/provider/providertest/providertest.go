// Package providertest provides shared conformance tests for provider.Provider
// implementations. Call RunAll from a test function to verify a provider
// satisfies the full behavioral contract.
package providertest

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// RunAll runs the complete provider conformance suite as subtests.
func RunAll(t *testing.T, prov provider.Provider) {
	t.Helper()

	t.Run("RunPutGet", func(t *testing.T) { TestRunPutGet(t, prov) })
	t.Run("RunList", func(t *testing.T) { TestRunList(t, prov) })
	t.Run("ChildRuns", func(t *testing.T) { TestChildRuns(t, prov) })
	t.Run("CompareAndSwap", func(t *testing.T) { TestCompareAndSwap(t, prov) })
	t.Run("CASRaceCondition", func(t *testing.T) { TestCASRaceCondition(t, prov) })
	t.Run("ProposalWriteOnce", func(t *testing.T) { TestProposalWriteOnce(t, prov) })
	t.Run("ReviewUniqueness", func(t *testing.T) { TestReviewUniqueness(t, prov) })
	t.Run("DecisionWriteOnce", func(t *testing.T) { TestDecisionWriteOnce(t, prov) })
	t.Run("ArtifactRequiresRun", func(t *testing.T) { TestArtifactRequiresRun(t, prov) })
	t.Run("EventAppendAndList", func(t *testing.T) { TestEventAppendAndList(t, prov) })
	t.Run("CascadeDelete", func(t *testing.T) { TestCascadeDelete(t, prov) })
}

// uid returns a unique id so suites can run repeatedly against a shared backend.
func uid(prefix string) string {
	return "ct-" + prefix + "-" + ulid.Make().String()
}

func newRun(id string, parent *types.Run, created time.Time) types.Run {
	run := types.Run{
		ID:          id,
		Status:      types.RunRunning,
		RunType:     types.RunInitial,
		InputIdea:   "a shared grocery list app",
		Model:       "test-model",
		Temperature: 0.4,
		Version:     1,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if parent != nil {
		pid := parent.ID
		run.ParentRunID = &pid
		run.RunType = types.RunRevision
	}
	return run
}

func proposal(runID string) types.ProposalVersion {
	title := "Grocery list"
	return types.ProposalVersion{
		RunID: runID,
		Proposal: types.ProposalDocument{
			Title:            &title,
			ProblemStatement: "Households forget items.",
			ProposedSolution: "A shared, real-time list.",
			Assumptions:      []string{"users have smartphones"},
			ScopeNonGoals:    []string{"payments"},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func review(runID, personaID string, conf float64) types.PersonaReview {
	return types.NewPersonaReview(runID, personaID, types.PersonaReviewDocument{
		PersonaName:     personaID,
		ConfidenceScore: conf,
		Strengths:       []string{"simple"},
		Recommendations: []string{"add offline mode"},
		BlockingIssues:  []types.BlockingIssue{{Description: "no auth", SecurityCritical: true}},
		EstimatedEffort: types.TextField("2 weeks"),
		DependencyRisks: []types.FlexField{types.StructuredField(map[string]any{"name": "push"})},
	}, time.Now().UTC().Truncate(time.Millisecond))
}

func decision(runID string) types.Decision {
	return types.Decision{
		RunID: runID,
		Result: types.DecisionDocument{
			OverallWeightedConfidence: 0.72,
			Decision:                  types.DecisionRevise,
			ScoreBreakdown: map[string]types.ScoreEntry{
				"critic": {Weight: 1, ConfidenceScore: 0.72, Contribution: 0.72},
			},
			Formula: "1.00×0.72 = 0.720",
		},
		OverallWeightedConfidence: 0.72,
		SchemaVersion:             "v1",
		CreatedAt:                 time.Now().UTC().Truncate(time.Millisecond),
	}
}
