package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// SampleProposal returns a fully populated proposal document.
func SampleProposal() types.ProposalDocument {
	title := "Offline sync for field app"
	summary := "Let technicians work without connectivity."
	return types.ProposalDocument{
		Title:            &title,
		Summary:          &summary,
		ProblemStatement: "Technicians lose work when the network drops.",
		ProposedSolution: "Queue edits locally and reconcile on reconnect.",
		Assumptions:      []string{"Devices have local storage", "Conflicts are rare"},
		ScopeNonGoals:    []string{"Real-time collaboration"},
	}
}

// ReviewDoc returns a minimal review document for personaID with the given
// confidence and no blocking issues.
func ReviewDoc(personaID string, confidence float64) types.PersonaReviewDocument {
	return types.PersonaReviewDocument{
		PersonaName:     personaID,
		PersonaID:       personaID,
		ConfidenceScore: confidence,
		Strengths:       []string{"clear scope"},
		Recommendations: []string{"add metrics"},
		EstimatedEffort: types.TextField("2 weeks"),
	}
}

// Confidences maps the five default personas to scores in registry order:
// architect, critic, optimist, security_guardian, user_advocate.
func Confidences(arch, critic, opt, sec, user float64) map[string]float64 {
	return map[string]float64{
		"architect":         arch,
		"critic":            critic,
		"optimist":          opt,
		"security_guardian": sec,
		"user_advocate":     user,
	}
}

// FixedClock returns a clock that advances one second per call from start.
// It is safe for concurrent use.
func FixedClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Second)
	}
}
