package providertest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// TestRunPutGet verifies put, get, duplicate and not-found behavior.
func TestRunPutGet(t *testing.T, prov provider.Provider) {
	ctx := context.Background()

	id := uid("run-pg")
	run := newRun(id, nil, time.Now().UTC().Truncate(time.Millisecond))
	run.ExtraContext = map[string]any{"team": "platform"}
	require.NoError(t, prov.PutRun(ctx, run))

	got, err := prov.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, types.RunRunning, got.Status)
	assert.Equal(t, types.RunInitial, got.RunType)
	assert.Nil(t, got.ParentRunID)
	assert.Equal(t, "platform", got.ExtraContext["team"])
	assert.Equal(t, 1, got.Version)

	err = prov.PutRun(ctx, run)
	assert.ErrorIs(t, err, provider.ErrAlreadyExists)

	_, err = prov.GetRun(ctx, uid("missing"))
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

// TestRunList verifies newest-first ordering, status filter and limit.
func TestRunList(t *testing.T, prov provider.Provider) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		run := newRun(uid("list"), nil, base.Add(time.Duration(i)*time.Second))
		run.Status = types.RunFailed
		require.NoError(t, prov.PutRun(ctx, run))
		ids = append(ids, run.ID)
	}

	runs, err := prov.ListRuns(ctx, types.ListOptions{Status: types.RunFailed})
	require.NoError(t, err)
	pos := map[string]int{}
	for i, r := range runs {
		assert.Equal(t, types.RunFailed, r.Status)
		pos[r.ID] = i
	}
	for _, id := range ids {
		require.Contains(t, pos, id)
	}
	assert.Less(t, pos[ids[2]], pos[ids[1]])
	assert.Less(t, pos[ids[1]], pos[ids[0]])

	limited, err := prov.ListRuns(ctx, types.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// TestChildRuns verifies lookup of revisions by parent id.
func TestChildRuns(t *testing.T, prov provider.Provider) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	parent := newRun(uid("parent"), nil, base)
	require.NoError(t, prov.PutRun(ctx, parent))

	c1 := newRun(uid("child"), &parent, base.Add(time.Second))
	c2 := newRun(uid("child"), &parent, base.Add(2*time.Second))
	require.NoError(t, prov.PutRun(ctx, c1))
	require.NoError(t, prov.PutRun(ctx, c2))

	children, err := prov.ListChildRuns(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, c1.ID, children[0].ID)
	assert.Equal(t, c2.ID, children[1].ID)
	require.NotNil(t, children[0].ParentRunID)
	assert.Equal(t, parent.ID, *children[0].ParentRunID)
	assert.Equal(t, types.RunRevision, children[0].RunType)

	none, err := prov.ListChildRuns(ctx, c1.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestCompareAndSwap verifies CAS with correct and stale versions.
func TestCompareAndSwap(t *testing.T, prov provider.Provider) {
	ctx := context.Background()

	id := uid("cas")
	run := newRun(id, nil, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, prov.PutRun(ctx, run))

	next := run
	next.Status = types.RunCompleted
	next.Version = 2
	conf := 0.81
	label := types.DecisionApprove
	next.OverallWeightedConfidence = &conf
	next.DecisionLabel = &label
	ok, err := prov.CompareAndSwapRun(ctx, id, 1, next)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := next
	stale.Status = types.RunFailed
	stale.Version = 3
	ok, err = prov.CompareAndSwapRun(ctx, id, 1, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := prov.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)
	assert.Equal(t, 2, got.Version)
	require.NotNil(t, got.OverallWeightedConfidence)
	assert.InDelta(t, 0.81, *got.OverallWeightedConfidence, 1e-12)
	require.NotNil(t, got.DecisionLabel)
	assert.Equal(t, types.DecisionApprove, *got.DecisionLabel)
}

// TestCASRaceCondition verifies exactly 1 goroutine wins a concurrent CAS.
func TestCASRaceCondition(t *testing.T, prov provider.Provider) {
	ctx := context.Background()

	id := uid("race")
	run := newRun(id, nil, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, prov.PutRun(ctx, run))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			next := run
			next.Version = 2
			next.Status = types.RunFailed
			if n%2 == 0 {
				next.Status = types.RunCompleted
			}
			ok, err := prov.CompareAndSwapRun(ctx, id, 1, next)
			if err == nil && ok {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load(), "exactly 1 goroutine should win the CAS")
}
