package lambda

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dwsmith1983/verdict/internal/engine"
	"github.com/dwsmith1983/verdict/pkg/types"
)

func TestSummarize(t *testing.T) {
	parent := "run-01"
	conf := 0.72
	b := &types.RunBundle{
		Run: types.Run{ID: "run-02", ParentRunID: &parent, Status: types.RunCompleted, OverallWeightedConfidence: &conf},
		Reviews: []types.PersonaReview{
			{PersonaID: "architect", Reused: true},
			{PersonaID: "critic"},
		},
		Decision: &types.Decision{Result: types.DecisionDocument{
			Decision:        types.DecisionRevise,
			VetoApplied:     true,
			MinorityReports: []types.MinorityReport{{PersonaID: "critic"}},
		}},
	}

	resp := Summarize(b)
	assert.Equal(t, "run-02", resp.RunID)
	assert.Equal(t, "run-01", resp.ParentRunID)
	assert.Equal(t, types.RunCompleted, resp.Status)
	assert.Equal(t, types.DecisionRevise, resp.Decision)
	assert.Equal(t, &conf, resp.OverallWeightedConfidence)
	assert.True(t, resp.VetoApplied)
	assert.Equal(t, 1, resp.MinorityReports)
	assert.Equal(t, 1, resp.ReusedReviews)
}

func TestFailureResponse(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &engine.StepError{RunID: "r1", Step: types.StepReview, PersonaID: "critic", Err: errors.New("timeout")})
	resp, ok := FailureResponse(err)
	assert.True(t, ok)
	assert.Equal(t, "r1", resp.RunID)
	assert.Equal(t, types.RunFailed, resp.Status)
	assert.Equal(t, types.StepReview, resp.FailedStep)
	assert.Equal(t, "critic", resp.FailedPersona)
	assert.Equal(t, "timeout", resp.Error)

	_, ok = FailureResponse(errors.New("idea must not be empty"))
	assert.False(t, ok)
}

func TestEvaluateEvent_IsRevision(t *testing.T) {
	assert.False(t, EvaluateEvent{Idea: "x"}.IsRevision())
	assert.True(t, EvaluateEvent{ParentRunID: "r1"}.IsRevision())
}
