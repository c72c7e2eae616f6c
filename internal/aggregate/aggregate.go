// Package aggregate turns a set of persona reviews into a single weighted
// decision with veto handling and dissent reports. It is pure: no I/O, no
// clock, no randomness.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Decision thresholds on the weighted confidence.
const (
	ApproveThreshold = 0.80
	ReviseThreshold  = 0.60
	// DissentThreshold is the per-persona confidence below which an
	// approving decision records a minority report.
	DissentThreshold = 0.60
)

var (
	// ErrEmptyInput is returned when Aggregate is called with no reviews.
	ErrEmptyInput = errors.New("aggregate: no reviews supplied")
	// ErrDuplicateReview is returned when two reviews share a persona id.
	ErrDuplicateReview = errors.New("aggregate: duplicate review for persona")
)

// Aggregator computes decisions against a persona registry.
type Aggregator struct {
	registry *persona.Registry
}

// New creates an Aggregator over reg.
func New(reg *persona.Registry) *Aggregator {
	return &Aggregator{registry: reg}
}

// Aggregate computes the weighted decision for reviews.
func (a *Aggregator) Aggregate(reviews []types.PersonaReview) (*types.DecisionDocument, error) {
	if len(reviews) == 0 {
		return nil, ErrEmptyInput
	}

	sorted := sortedReviews(reviews)
	breakdown := make(map[string]types.ScoreEntry, len(sorted))
	terms := make([]string, 0, len(sorted))

	var sum float64
	veto := false
	for _, r := range sorted {
		if _, dup := breakdown[r.PersonaID]; dup {
			return nil, fmt.Errorf("%w %q", ErrDuplicateReview, r.PersonaID)
		}
		if err := a.registry.Check(r.PersonaID); err != nil {
			return nil, err
		}

		entry := types.ScoreEntry{ConfidenceScore: r.ConfidenceScore}
		if w, ok := a.registry.Weight(r.PersonaID); ok {
			entry.Weight = w
		} else {
			entry.Notes = "unregistered persona, weight 0"
		}
		// The conversion keeps the product from being fused into the sum.
		entry.Contribution = float64(entry.Weight * r.ConfidenceScore)
		sum += entry.Contribution

		if r.PersonaID == types.SecurityGuardianID && r.Review.HasSecurityConcerns() {
			veto = true
			entry.Notes = "security-critical blocking issue (veto)"
		}

		breakdown[r.PersonaID] = entry
		terms = append(terms, fmt.Sprintf("%g×%g", entry.Weight, r.ConfidenceScore))
	}

	weighted := clamp(sum)
	label := Decide(weighted, veto)

	doc := &types.DecisionDocument{
		OverallWeightedConfidence: weighted,
		Decision:                  label,
		ScoreBreakdown:            breakdown,
		Formula:                   fmt.Sprintf("%s = %g", strings.Join(terms, " + "), weighted),
		VetoApplied:               veto && label != Decide(weighted, false),
		MinorityReports:           a.GenerateMinorityReports(sorted, label),
	}
	return doc, nil
}

// Decide maps a weighted confidence to a label. A veto only demotes an
// approval to revise; revise and reject are unaffected.
func Decide(confidence float64, veto bool) types.DecisionLabel {
	var label types.DecisionLabel
	switch {
	case confidence >= ApproveThreshold:
		label = types.DecisionApprove
	case confidence >= ReviseThreshold:
		label = types.DecisionRevise
	default:
		label = types.DecisionReject
	}
	if veto && label == types.DecisionApprove {
		return types.DecisionRevise
	}
	return label
}

// GenerateMinorityReports returns one report per persona whose review
// conflicts with decision, in persona id order.
func (a *Aggregator) GenerateMinorityReports(reviews []types.PersonaReview, decision types.DecisionLabel) []types.MinorityReport {
	var reports []types.MinorityReport
	for _, r := range sortedReviews(reviews) {
		hasBlocking := len(r.Review.BlockingIssues) > 0

		var reason string
		switch {
		case decision == types.DecisionApprove && r.ConfidenceScore < DissentThreshold:
			reason = "low confidence despite approval"
		case decision == types.DecisionApprove && hasBlocking:
			reason = "blocking issues despite approval"
		case decision == types.DecisionRevise && hasBlocking:
			reason = "blocking issues despite revise"
		default:
			continue
		}

		name := r.Review.PersonaName
		if name == "" {
			name = a.registry.DisplayName(r.PersonaID)
		}
		reports = append(reports, types.MinorityReport{
			PersonaID:       r.PersonaID,
			PersonaName:     name,
			ConfidenceScore: r.ConfidenceScore,
			Reason:          reason,
			BlockingSummary: blockingSummary(name, r),
			Mitigation:      mitigation(name, r),
		})
	}
	return reports
}

func blockingSummary(name string, r types.PersonaReview) string {
	parts := make([]string, 0, len(r.Review.BlockingIssues))
	for _, b := range r.Review.BlockingIssues {
		if d := strings.TrimSpace(b.Description); d != "" {
			parts = append(parts, d)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s reported low confidence (%.2f) without specific blocking issues", name, r.ConfidenceScore)
	}
	return strings.Join(parts, "; ")
}

func mitigation(name string, r types.PersonaReview) string {
	parts := make([]string, 0, len(r.Review.Recommendations))
	for _, rec := range r.Review.Recommendations {
		if rec = strings.TrimSpace(rec); rec != "" {
			parts = append(parts, rec)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Review and address the concerns raised by %s before proceeding", name)
	}
	return strings.Join(parts, "; ")
}

func sortedReviews(reviews []types.PersonaReview) []types.PersonaReview {
	out := make([]types.PersonaReview, len(reviews))
	copy(out, reviews)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PersonaID < out[j].PersonaID })
	return out
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
