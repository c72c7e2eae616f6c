package types

// Relationship describes how two diffed runs are related.
type Relationship string

const (
	RelationshipAParentOfB Relationship = "runA_is_parent_of_runB"
	RelationshipBParentOfA Relationship = "runB_is_parent_of_runA"
	RelationshipUnrelated  Relationship = "unrelated"
)

// SectionStatus classifies a proposal section across two runs.
type SectionStatus string

const (
	SectionUnchanged SectionStatus = "unchanged"
	SectionAdded     SectionStatus = "added"
	SectionRemoved   SectionStatus = "removed"
	SectionModified  SectionStatus = "modified"
)

// ProposalStatus replaces the section list when one or both runs have no proposal.
type ProposalStatus string

const (
	ProposalBothMissing ProposalStatus = "both_missing"
	ProposalAMissing    ProposalStatus = "runA_missing"
	ProposalBMissing    ProposalStatus = "runB_missing"
)

// PersonaDeltaStatus classifies a persona's presence across two runs.
type PersonaDeltaStatus string

const (
	PersonaInBoth     PersonaDeltaStatus = "present_in_both"
	PersonaAddedInB   PersonaDeltaStatus = "added_in_runB"
	PersonaRemovedInB PersonaDeltaStatus = "removed_in_runB"
)

// SectionChange is the comparison of one proposal section.
type SectionChange struct {
	Section string        `json:"section"`
	Status  SectionStatus `json:"status"`
	Diff    *string       `json:"diff"`
}

// ProposalChanges compares two proposals. When Status is set, Sections is empty.
type ProposalChanges struct {
	Status   ProposalStatus  `json:"status,omitempty"`
	Sections []SectionChange `json:"sections,omitempty"`
}

// PersonaDelta compares one persona's reviews across two runs.
type PersonaDelta struct {
	PersonaID               string             `json:"persona_id"`
	Status                  PersonaDeltaStatus `json:"status"`
	OldConfidence           *float64           `json:"old_confidence"`
	NewConfidence           *float64           `json:"new_confidence"`
	ConfidenceDelta         *float64           `json:"confidence_delta"`
	BlockingIssuesChanged   bool               `json:"blocking_issues_changed"`
	SecurityConcernsChanged bool               `json:"security_concerns_changed"`
}

// DecisionDelta compares the two runs' aggregated decisions.
type DecisionDelta struct {
	OldConfidence   *float64       `json:"old_confidence"`
	NewConfidence   *float64       `json:"new_confidence"`
	ConfidenceDelta *float64       `json:"confidence_delta"`
	OldDecision     *DecisionLabel `json:"old_decision"`
	NewDecision     *DecisionLabel `json:"new_decision"`
	DecisionChanged bool           `json:"decision_changed"`
}

// RunDiff is the structured comparison of two runs.
type RunDiff struct {
	RunAID          string          `json:"runA_id"`
	RunBID          string          `json:"runB_id"`
	Relationship    Relationship    `json:"relationship"`
	ProposalChanges ProposalChanges `json:"proposal_changes"`
	PersonaDeltas   []PersonaDelta  `json:"persona_deltas"`
	DecisionDelta   DecisionDelta   `json:"decision_delta"`
}
