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

// TestEventAppendAndList verifies appending events and listing in chronological order.
func TestEventAppendAndList(t *testing.T, prov provider.Provider) {
	ctx := context.Background()
	run := putRun(t, prov, "event")

	kinds := []types.EventKind{
		types.EventRunCreated,
		types.EventProposalAttached,
		types.EventReviewAttached,
		types.EventDecisionRecorded,
		types.EventRunCompleted,
	}
	now := time.Now().UTC()
	for i, k := range kinds {
		ev := types.Event{
			Kind:      k,
			RunID:     run.ID,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, prov.AppendEvent(ctx, ev))
		// Small delay to ensure unique event ordering
		time.Sleep(2 * time.Millisecond)
	}

	events, err := prov.ListEvents(ctx, run.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, types.EventRunCreated, events[0].Kind)
	assert.Equal(t, types.EventRunCompleted, events[4].Kind)

	last, err := prov.ListEvents(ctx, run.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, types.EventDecisionRecorded, last[0].Kind)
	assert.Equal(t, types.EventRunCompleted, last[1].Kind)
}

// TestCascadeDelete verifies deleting a run removes artifacts, events and descendants
// while leaving the parent untouched.
func TestCascadeDelete(t *testing.T, prov provider.Provider) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	root := newRun(uid("root"), nil, base)
	require.NoError(t, prov.PutRun(ctx, root))
	child := newRun(uid("child"), &root, base.Add(time.Second))
	require.NoError(t, prov.PutRun(ctx, child))
	grandchild := newRun(uid("grandchild"), &child, base.Add(2*time.Second))
	require.NoError(t, prov.PutRun(ctx, grandchild))

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		require.NoError(t, prov.PutProposal(ctx, proposal(id)))
		require.NoError(t, prov.PutPersonaReview(ctx, review(id, "critic", 0.5)))
		require.NoError(t, prov.PutDecision(ctx, decision(id)))
		require.NoError(t, prov.AppendEvent(ctx, types.Event{Kind: types.EventRunCreated, RunID: id, Timestamp: base}))
	}

	require.NoError(t, prov.DeleteRun(ctx, child.ID))

	for _, id := range []string{child.ID, grandchild.ID} {
		_, err := prov.GetRun(ctx, id)
		assert.ErrorIs(t, err, provider.ErrNotFound)
		_, err = prov.GetProposal(ctx, id)
		assert.ErrorIs(t, err, provider.ErrNotFound)
		_, err = prov.GetDecision(ctx, id)
		assert.ErrorIs(t, err, provider.ErrNotFound)
		reviews, err := prov.ListPersonaReviews(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, reviews)
		events, err := prov.ListEvents(ctx, id, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	}

	got, err := prov.GetRun(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)
	_, err = prov.GetDecision(ctx, root.ID)
	assert.NoError(t, err)
	children, err := prov.ListChildRuns(ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	assert.ErrorIs(t, prov.DeleteRun(ctx, child.ID), provider.ErrNotFound)
}
