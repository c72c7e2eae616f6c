// Package types defines the public domain types for Verdict, the weighted
// multi-persona proposal evaluation service.
package types

// RunStatus represents the lifecycle state of an evaluation run.
type RunStatus string

// RunStatus values represent the lifecycle states of a run. RUNNING is
// initial; COMPLETED and FAILED are terminal.
const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// RunType distinguishes first evaluations from revisions of a completed run.
type RunType string

// RunType values.
const (
	RunInitial  RunType = "INITIAL"
	RunRevision RunType = "REVISION"
)

// DecisionLabel is the aggregated outcome of a run.
type DecisionLabel string

// DecisionLabel values, ordered from most to least favourable.
const (
	DecisionApprove DecisionLabel = "approve"
	DecisionRevise  DecisionLabel = "revise"
	DecisionReject  DecisionLabel = "reject"
)

// Valid reports whether d is one of the known decision labels.
func (d DecisionLabel) Valid() bool {
	switch d {
	case DecisionApprove, DecisionRevise, DecisionReject:
		return true
	}
	return false
}

// Step names the orchestration stage a run was in when it failed.
type Step string

// Step values recorded on failed runs and in the event log.
const (
	StepCreate    Step = "create"
	StepExpand    Step = "expand"
	StepReview    Step = "review"
	StepAggregate Step = "aggregate"
	StepPersist   Step = "persist"
	StepComplete  Step = "complete"
)

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole     AlertType = "console"
	AlertWebhook     AlertType = "webhook"
	AlertEventBridge AlertType = "eventbridge"
)

// AlertLevel replaces string-typed alert levels with a proper enum.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// EventKind identifies the type of audit event.
type EventKind string

// EventKind values enumerate the audit events recorded for a run.
const (
	EventRunCreated       EventKind = "RUN_CREATED"
	EventRevisionCreated  EventKind = "REVISION_CREATED"
	EventProposalAttached EventKind = "PROPOSAL_ATTACHED"
	EventReviewAttached   EventKind = "REVIEW_ATTACHED"
	EventReviewReused     EventKind = "REVIEW_REUSED"
	EventDecisionRecorded EventKind = "DECISION_RECORDED"
	EventRunCompleted     EventKind = "RUN_COMPLETED"
	EventRunFailed        EventKind = "RUN_FAILED"
)

// UnknownPersonaPolicy controls how reviews from persona ids that are not in
// the registry are treated during aggregation.
type UnknownPersonaPolicy string

const (
	// PolicyIgnore gives unknown personas weight 0 and logs a warning.
	PolicyIgnore UnknownPersonaPolicy = "ignore"
	// PolicyReject fails aggregation when an unknown persona is seen.
	PolicyReject UnknownPersonaPolicy = "reject"
)
