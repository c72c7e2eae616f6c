package types

// EvaluateRequest starts a new initial run from a short idea.
type EvaluateRequest struct {
	Idea        string         `json:"idea"`
	Context     map[string]any `json:"context,omitempty"`
	Model       string         `json:"model,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

// RevisionEdits carries the user's changes for a revision. At least one of
// the fields must be non-empty.
type RevisionEdits struct {
	EditedProposal *ProposalDocument `json:"edited_proposal,omitempty"`
	UserNotes      string            `json:"user_notes,omitempty"`
}

// Empty reports whether no edit input was supplied.
func (e RevisionEdits) Empty() bool {
	return e.EditedProposal == nil && e.UserNotes == ""
}

// ListOptions filters run listings.
type ListOptions struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// SchemaVersion is stamped on runs and decisions unless the engine config
// overrides it.
const SchemaVersion = "1.0"
