// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

import (
	"github.com/dwsmith1983/verdict/pkg/types"
)

// EvaluateEvent is the input to the evaluator Lambda. With ParentRunID set
// the event revises that run instead of starting a new evaluation.
type EvaluateEvent struct {
	Idea           string                  `json:"idea"`
	Context        map[string]any          `json:"context,omitempty"`
	Model          string                  `json:"model,omitempty"`
	Temperature    *float64                `json:"temperature,omitempty"`
	ParentRunID    string                  `json:"parentRunId,omitempty"`
	UserNotes      string                  `json:"userNotes,omitempty"`
	EditedProposal *types.ProposalDocument `json:"editedProposal,omitempty"`
}

// IsRevision reports whether the event asks for a revision.
func (e EvaluateEvent) IsRevision() bool { return e.ParentRunID != "" }

// EvaluateResponse is the output of the evaluator Lambda. Failed runs are
// reported here rather than as a Lambda error so callers see the run id.
type EvaluateResponse struct {
	RunID                     string              `json:"runId,omitempty"`
	ParentRunID               string              `json:"parentRunId,omitempty"`
	Status                    types.RunStatus     `json:"status,omitempty"`
	Decision                  types.DecisionLabel `json:"decision,omitempty"`
	OverallWeightedConfidence *float64            `json:"overallWeightedConfidence,omitempty"`
	VetoApplied               bool                `json:"vetoApplied,omitempty"`
	MinorityReports           int                 `json:"minorityReports,omitempty"`
	ReusedReviews             int                 `json:"reusedReviews,omitempty"`
	FailedStep                types.Step          `json:"failedStep,omitempty"`
	FailedPersona             string              `json:"failedPersona,omitempty"`
	Error                     string              `json:"error,omitempty"`
}
