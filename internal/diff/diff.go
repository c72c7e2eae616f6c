// Package diff compares two evaluation runs: how they are related, what
// changed in their proposals, how each persona's review moved and how the
// decision moved.
package diff

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// MaxDiffLines caps the number of lines kept from a section's unified diff.
const MaxDiffLines = 50

// contextLines is the unified diff context around each change.
const contextLines = 3

// ErrIdenticalRuns is returned when both sides of a diff are the same run.
var ErrIdenticalRuns = errors.New("cannot diff a run against itself")

// Sections lists the compared proposal sections in output order.
var Sections = []string{"title", "summary", "problem_statement", "proposed_solution", "assumptions", "scope_non_goals"}

// ComputeRunDiff compares run bundles a and b.
func ComputeRunDiff(a, b *types.RunBundle) (*types.RunDiff, error) {
	if a == nil || b == nil {
		return nil, errors.New("diff: both runs are required")
	}
	if a.Run.ID == b.Run.ID {
		return nil, fmt.Errorf("%w: %s", ErrIdenticalRuns, a.Run.ID)
	}

	var pa, pb *types.ProposalDocument
	if a.Proposal != nil {
		pa = &a.Proposal.Proposal
	}
	if b.Proposal != nil {
		pb = &b.Proposal.Proposal
	}

	return &types.RunDiff{
		RunAID:          a.Run.ID,
		RunBID:          b.Run.ID,
		Relationship:    Relationship(a.Run, b.Run),
		ProposalChanges: ProposalChanges(pa, pb),
		PersonaDeltas:   PersonaDeltas(a.Reviews, b.Reviews),
		DecisionDelta:   DecisionDelta(a.Run, b.Run),
	}, nil
}

// Relationship reports whether one run is the direct parent of the other.
func Relationship(a, b types.Run) types.Relationship {
	switch {
	case b.ParentRunID != nil && *b.ParentRunID == a.ID:
		return types.RelationshipAParentOfB
	case a.ParentRunID != nil && *a.ParentRunID == b.ID:
		return types.RelationshipBParentOfA
	default:
		return types.RelationshipUnrelated
	}
}

// ProposalChanges classifies each proposal section. A nil proposal means the
// run has none; the section list is then replaced by a single status.
func ProposalChanges(a, b *types.ProposalDocument) types.ProposalChanges {
	switch {
	case a == nil && b == nil:
		return types.ProposalChanges{Status: types.ProposalBothMissing}
	case a == nil:
		return types.ProposalChanges{Status: types.ProposalAMissing}
	case b == nil:
		return types.ProposalChanges{Status: types.ProposalBMissing}
	}

	ta, tb := sectionTexts(a), sectionTexts(b)
	changes := types.ProposalChanges{Sections: make([]types.SectionChange, 0, len(Sections))}
	for _, name := range Sections {
		changes.Sections = append(changes.Sections, compareSection(name, ta[name], tb[name]))
	}
	return changes
}

// sectionTexts flattens a proposal into one text per section. Lists are
// joined by newlines; empty means absent.
func sectionTexts(p *types.ProposalDocument) map[string]string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	return map[string]string{
		"title":             deref(p.Title),
		"summary":           deref(p.Summary),
		"problem_statement": p.ProblemStatement,
		"proposed_solution": p.ProposedSolution,
		"assumptions":       strings.Join(p.Assumptions, "\n"),
		"scope_non_goals":   strings.Join(p.ScopeNonGoals, "\n"),
	}
}

func compareSection(name, a, b string) types.SectionChange {
	sc := types.SectionChange{Section: name}
	switch {
	case a == b:
		sc.Status = types.SectionUnchanged
	case a == "":
		sc.Status = types.SectionAdded
	case b == "":
		sc.Status = types.SectionRemoved
	default:
		sc.Status = types.SectionModified
		d := LineDiff(a, b)
		sc.Diff = &d
	}
	return sc
}

// LineDiff returns a unified line diff of a and b capped at MaxDiffLines,
// with a truncation marker appended when lines were dropped.
func LineDiff(a, b string) string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "runA",
		ToFile:   "runB",
		Context:  contextLines,
	})
	if err != nil {
		return fmt.Sprintf("diff unavailable: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > MaxDiffLines {
		dropped := len(lines) - MaxDiffLines
		lines = append(lines[:MaxDiffLines], fmt.Sprintf("... diff truncated (%d more lines)", dropped))
	}
	return strings.Join(lines, "\n")
}

// PersonaDeltas matches reviews by persona id over the union of both sides,
// ordered by persona id. A side without a review reports its confidence as nil.
func PersonaDeltas(a, b []types.PersonaReview) []types.PersonaDelta {
	ra := indexReviews(a)
	rb := indexReviews(b)

	ids := make([]string, 0, len(ra)+len(rb))
	for id := range ra {
		ids = append(ids, id)
	}
	for id := range rb {
		if _, ok := ra[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	deltas := make([]types.PersonaDelta, 0, len(ids))
	for _, id := range ids {
		oldR, inA := ra[id]
		newR, inB := rb[id]
		d := types.PersonaDelta{PersonaID: id}
		switch {
		case inA && inB:
			d.Status = types.PersonaInBoth
			d.OldConfidence = ptr(oldR.ConfidenceScore)
			d.NewConfidence = ptr(newR.ConfidenceScore)
			d.ConfidenceDelta = ptr(newR.ConfidenceScore - oldR.ConfidenceScore)
			d.BlockingIssuesChanged = oldR.BlockingIssuesPresent != newR.BlockingIssuesPresent
			d.SecurityConcernsChanged = oldR.SecurityConcernsPresent != newR.SecurityConcernsPresent
		case inB:
			d.Status = types.PersonaAddedInB
			d.NewConfidence = ptr(newR.ConfidenceScore)
		default:
			d.Status = types.PersonaRemovedInB
			d.OldConfidence = ptr(oldR.ConfidenceScore)
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// DecisionDelta compares the decisions denormalized onto each run.
func DecisionDelta(a, b types.Run) types.DecisionDelta {
	d := types.DecisionDelta{
		OldConfidence: a.OverallWeightedConfidence,
		NewConfidence: b.OverallWeightedConfidence,
		OldDecision:   a.DecisionLabel,
		NewDecision:   b.DecisionLabel,
	}
	if a.OverallWeightedConfidence != nil && b.OverallWeightedConfidence != nil {
		d.ConfidenceDelta = ptr(*b.OverallWeightedConfidence - *a.OverallWeightedConfidence)
	}
	switch {
	case a.DecisionLabel == nil && b.DecisionLabel == nil:
	case a.DecisionLabel == nil || b.DecisionLabel == nil:
		d.DecisionChanged = true
	default:
		d.DecisionChanged = *a.DecisionLabel != *b.DecisionLabel
	}
	return d
}

func indexReviews(reviews []types.PersonaReview) map[string]types.PersonaReview {
	m := make(map[string]types.PersonaReview, len(reviews))
	for _, r := range reviews {
		m[r.PersonaID] = r
	}
	return m
}

func ptr(v float64) *float64 { return &v }
