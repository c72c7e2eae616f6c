package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SecurityGuardianID is the persona whose security-critical blocking issues
// carry veto power over an approval.
const SecurityGuardianID = "security_guardian"

// Persona is a named, weighted reviewer role.
type Persona struct {
	ID            string  `yaml:"id" json:"id"`
	DisplayName   string  `yaml:"displayName" json:"display_name"`
	DefaultWeight float64 `yaml:"weight" json:"default_weight"`
	Temperature   float64 `yaml:"temperature" json:"temperature"`
	Instructions  string  `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// ProposalDocument is the structured proposal produced by expanding an idea.
type ProposalDocument struct {
	Title            *string  `json:"title,omitempty"`
	Summary          *string  `json:"summary,omitempty"`
	ProblemStatement string   `json:"problem_statement"`
	ProposedSolution string   `json:"proposed_solution"`
	Assumptions      []string `json:"assumptions"`
	ScopeNonGoals    []string `json:"scope_non_goals"`
	RawText          *string  `json:"raw_text,omitempty"`
}

// Concern is a single reviewer concern.
type Concern struct {
	Text       string `json:"text"`
	IsBlocking bool   `json:"is_blocking"`
}

// BlockingIssue is an issue a reviewer considers a hard blocker.
type BlockingIssue struct {
	Description      string `json:"description"`
	SecurityCritical bool   `json:"security_critical"`
}

// UnmarshalJSON accepts either a bare string or the object form.
func (b *BlockingIssue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = BlockingIssue{Description: s}
		return nil
	}
	type plain BlockingIssue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("blocking issue: %w", err)
	}
	*b = BlockingIssue(p)
	return nil
}

// FlexField holds a reviewer field that is either free text or a structured
// object. Exactly one of Text and Structured is meaningful.
type FlexField struct {
	Text       string
	Structured map[string]any
}

// TextField returns a FlexField holding free text.
func TextField(s string) FlexField { return FlexField{Text: s} }

// StructuredField returns a FlexField holding a structured object.
func StructuredField(m map[string]any) FlexField { return FlexField{Structured: m} }

// IsStructured reports whether the field holds the structured form.
func (f FlexField) IsStructured() bool { return f.Structured != nil }

// String renders the field as text; structured values are rendered as JSON.
func (f FlexField) String() string {
	if f.Structured == nil {
		return f.Text
	}
	data, err := json.Marshal(f.Structured)
	if err != nil {
		return fmt.Sprintf("%v", f.Structured)
	}
	return string(data)
}

// MarshalJSON writes the text form as a JSON string and the structured form as an object.
func (f FlexField) MarshalJSON() ([]byte, error) {
	if f.Structured != nil {
		return json.Marshal(f.Structured)
	}
	return json.Marshal(f.Text)
}

// UnmarshalJSON decodes a JSON string, object, or null.
func (f *FlexField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = FlexField{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = TextField(s)
		return nil
	case data[0] == '{':
		m := map[string]any{}
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*f = StructuredField(m)
		return nil
	default:
		return fmt.Errorf("flex field must be a string or object, got %s", string(data))
	}
}

// PersonaReviewDocument is one persona's structured review of a proposal.
type PersonaReviewDocument struct {
	PersonaName     string          `json:"persona_name"`
	PersonaID       string          `json:"persona_id,omitempty"`
	ConfidenceScore float64         `json:"confidence_score"`
	Strengths       []string        `json:"strengths"`
	Concerns        []Concern       `json:"concerns"`
	Recommendations []string        `json:"recommendations"`
	BlockingIssues  []BlockingIssue `json:"blocking_issues"`
	EstimatedEffort FlexField       `json:"estimated_effort"`
	DependencyRisks []FlexField     `json:"dependency_risks"`
}

// HasSecurityConcerns reports whether any blocking issue is flagged security-critical.
func (d PersonaReviewDocument) HasSecurityConcerns() bool {
	for _, b := range d.BlockingIssues {
		if b.SecurityCritical {
			return true
		}
	}
	return false
}

// ScoreEntry is one persona's contribution to the weighted confidence.
type ScoreEntry struct {
	Weight          float64 `json:"weight"`
	ConfidenceScore float64 `json:"confidence_score"`
	Contribution    float64 `json:"contribution"`
	Notes           string  `json:"notes,omitempty"`
}

// MinorityReport explains a persona's dissent from the aggregated decision.
type MinorityReport struct {
	PersonaID       string  `json:"persona_id"`
	PersonaName     string  `json:"persona_name"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reason          string  `json:"reason"`
	BlockingSummary string  `json:"blocking_summary"`
	Mitigation      string  `json:"mitigation"`
}

// DecisionDocument is the full, auditable aggregation result.
type DecisionDocument struct {
	OverallWeightedConfidence float64               `json:"overall_weighted_confidence"`
	Decision                  DecisionLabel         `json:"decision"`
	ScoreBreakdown            map[string]ScoreEntry `json:"score_breakdown"`
	Formula                   string                `json:"formula"`
	VetoApplied               bool                  `json:"veto_applied"`
	MinorityReports           []MinorityReport      `json:"minority_reports,omitempty"`
}

// Run is one evaluation pass over a proposal. Runs reference their parent
// only by id; children are found through the provider's parent index.
type Run struct {
	ID                        string         `json:"id"`
	Status                    RunStatus      `json:"status"`
	RunType                   RunType        `json:"run_type"`
	ParentRunID               *string        `json:"parent_run_id,omitempty"`
	InputIdea                 string         `json:"input_idea"`
	ExtraContext              map[string]any `json:"extra_context,omitempty"`
	Model                     string         `json:"model"`
	Temperature               float64        `json:"temperature"`
	OverallWeightedConfidence *float64       `json:"overall_weighted_confidence,omitempty"`
	DecisionLabel             *DecisionLabel `json:"decision_label,omitempty"`
	SchemaVersion             *string        `json:"schema_version,omitempty"`
	PromptSetVersion          *string        `json:"prompt_set_version,omitempty"`
	FailedStep                Step           `json:"failed_step,omitempty"`
	FailureMessage            string         `json:"failure_message,omitempty"`
	Version                   int            `json:"version"`
	CreatedAt                 time.Time      `json:"created_at"`
	UpdatedAt                 time.Time      `json:"updated_at"`
	CompletedAt               *time.Time     `json:"completed_at,omitempty"`
}

// ProposalVersion holds the proposal produced for a run. Exactly one per run.
type ProposalVersion struct {
	RunID                  string           `json:"run_id"`
	Proposal               ProposalDocument `json:"proposal"`
	DiffFromParent         *ProposalChanges `json:"diff_from_parent,omitempty"`
	PersonaTemplateVersion string           `json:"persona_template_version,omitempty"`
	EditNotes              string           `json:"edit_notes,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
}

// PersonaReview is a persona's stored review for a run. At most one per
// (run, persona) pair. The scalar fields are denormalized from Review.
type PersonaReview struct {
	RunID                   string                `json:"run_id"`
	PersonaID               string                `json:"persona_id"`
	Review                  PersonaReviewDocument `json:"review"`
	ConfidenceScore         float64               `json:"confidence_score"`
	BlockingIssuesPresent   bool                  `json:"blocking_issues_present"`
	SecurityConcernsPresent bool                  `json:"security_concerns_present"`
	Reused                  bool                  `json:"reused,omitempty"`
	SourceRunID             string                `json:"source_run_id,omitempty"`
	CreatedAt               time.Time             `json:"created_at"`
}

// NewPersonaReview builds a PersonaReview with its denormalized fields set from doc.
func NewPersonaReview(runID, personaID string, doc PersonaReviewDocument, now time.Time) PersonaReview {
	return PersonaReview{
		RunID:                   runID,
		PersonaID:               personaID,
		Review:                  doc,
		ConfidenceScore:         doc.ConfidenceScore,
		BlockingIssuesPresent:   len(doc.BlockingIssues) > 0,
		SecurityConcernsPresent: doc.HasSecurityConcerns(),
		CreatedAt:               now,
	}
}

// Decision is the stored aggregation result for a run. Exactly one per run.
type Decision struct {
	RunID                     string           `json:"run_id"`
	Result                    DecisionDocument `json:"result"`
	OverallWeightedConfidence float64          `json:"overall_weighted_confidence"`
	SchemaVersion             string           `json:"schema_version,omitempty"`
	PromptSetVersion          string           `json:"prompt_set_version,omitempty"`
	CreatedAt                 time.Time        `json:"created_at"`
}

// RunBundle is a fully materialized run with all of its artifacts.
type RunBundle struct {
	Run      Run              `json:"run"`
	Proposal *ProposalVersion `json:"proposal,omitempty"`
	Reviews  []PersonaReview  `json:"reviews"`
	Decision *Decision        `json:"decision,omitempty"`
}

// Alert represents a notification dispatched to alert sinks.
type Alert struct {
	Level     AlertLevel     `json:"level"`
	RunID     string         `json:"runId,omitempty"`
	PersonaID string         `json:"personaId,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event is an append-only audit log entry recording what happened to a run.
type Event struct {
	Kind      EventKind      `json:"kind"`
	RunID     string         `json:"runId"`
	PersonaID string         `json:"personaId,omitempty"`
	Step      Step           `json:"step,omitempty"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
