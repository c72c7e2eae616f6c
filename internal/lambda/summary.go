package lambda

import (
	"errors"

	"github.com/dwsmith1983/verdict/internal/engine"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Summarize condenses a finished run bundle into a Lambda response.
func Summarize(b *types.RunBundle) EvaluateResponse {
	resp := EvaluateResponse{
		RunID:                     b.Run.ID,
		Status:                    b.Run.Status,
		OverallWeightedConfidence: b.Run.OverallWeightedConfidence,
		FailedStep:                b.Run.FailedStep,
		Error:                     b.Run.FailureMessage,
	}
	if b.Run.ParentRunID != nil {
		resp.ParentRunID = *b.Run.ParentRunID
	}
	if b.Decision != nil {
		resp.Decision = b.Decision.Result.Decision
		resp.VetoApplied = b.Decision.Result.VetoApplied
		resp.MinorityReports = len(b.Decision.Result.MinorityReports)
	}
	for _, r := range b.Reviews {
		if r.Reused {
			resp.ReusedReviews++
		}
	}
	return resp
}

// FailureResponse describes a run that the engine marked FAILED. It returns
// false for errors raised before a run existed.
func FailureResponse(err error) (EvaluateResponse, bool) {
	var se *engine.StepError
	if !errors.As(err, &se) {
		return EvaluateResponse{}, false
	}
	return EvaluateResponse{
		RunID:         se.RunID,
		Status:        types.RunFailed,
		FailedStep:    se.Step,
		FailedPersona: se.PersonaID,
		Error:         se.Err.Error(),
	}, true
}
