package providertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

func putRun(t *testing.T, prov provider.Provider, prefix string) types.Run {
	t.Helper()
	run := newRun(uid(prefix), nil, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, prov.PutRun(context.Background(), run))
	return run
}

// TestProposalWriteOnce verifies exactly one proposal per run.
func TestProposalWriteOnce(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	run := putRun(t, prov, "proposal")

	_, err := prov.GetProposal(ctx, run.ID)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	pv := proposal(run.ID)
	pv.EditNotes = "tightened scope"
	require.NoError(t, prov.PutProposal(ctx, pv))

	got, err := prov.GetProposal(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Proposal.Title)
	assert.Equal(t, "Grocery list", *got.Proposal.Title)
	assert.Nil(t, got.Proposal.Summary)
	assert.Equal(t, []string{"users have smartphones"}, got.Proposal.Assumptions)
	assert.Equal(t, "tightened scope", got.EditNotes)

	err = prov.PutProposal(ctx, pv)
	assert.ErrorIs(t, err, provider.ErrAlreadyExists)
}

// TestReviewUniqueness verifies at most one review per (run, persona).
func TestReviewUniqueness(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	run := putRun(t, prov, "review")

	require.NoError(t, prov.PutPersonaReview(ctx, review(run.ID, "security_guardian", 0.4)))
	require.NoError(t, prov.PutPersonaReview(ctx, review(run.ID, "architect", 0.9)))

	err := prov.PutPersonaReview(ctx, review(run.ID, "architect", 0.1))
	assert.ErrorIs(t, err, provider.ErrAlreadyExists)

	reviews, err := prov.ListPersonaReviews(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "architect", reviews[0].PersonaID)
	assert.InDelta(t, 0.9, reviews[0].ConfidenceScore, 1e-12)
	assert.Equal(t, "security_guardian", reviews[1].PersonaID)
	assert.True(t, reviews[1].BlockingIssuesPresent)
	assert.True(t, reviews[1].SecurityConcernsPresent)
	assert.True(t, reviews[1].Review.BlockingIssues[0].SecurityCritical)
	assert.Equal(t, "2 weeks", reviews[1].Review.EstimatedEffort.Text)
	require.Len(t, reviews[1].Review.DependencyRisks, 1)
	assert.Equal(t, "push", reviews[1].Review.DependencyRisks[0].Structured["name"])

	empty, err := prov.ListPersonaReviews(ctx, uid("none"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// TestDecisionWriteOnce verifies exactly one decision per run.
func TestDecisionWriteOnce(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	run := putRun(t, prov, "decision")

	_, err := prov.GetDecision(ctx, run.ID)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	require.NoError(t, prov.PutDecision(ctx, decision(run.ID)))

	got, err := prov.GetDecision(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionRevise, got.Result.Decision)
	assert.InDelta(t, 0.72, got.OverallWeightedConfidence, 1e-12)
	assert.InDelta(t, 0.72, got.Result.ScoreBreakdown["critic"].Contribution, 1e-12)

	err = prov.PutDecision(ctx, decision(run.ID))
	assert.ErrorIs(t, err, provider.ErrAlreadyExists)
}

// TestArtifactRequiresRun verifies artifacts cannot be written for unknown runs.
func TestArtifactRequiresRun(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	missing := uid("orphan")

	assert.ErrorIs(t, prov.PutProposal(ctx, proposal(missing)), provider.ErrNotFound)
	assert.ErrorIs(t, prov.PutPersonaReview(ctx, review(missing, "critic", 0.5)), provider.ErrNotFound)
	assert.ErrorIs(t, prov.PutDecision(ctx, decision(missing)), provider.ErrNotFound)
}
