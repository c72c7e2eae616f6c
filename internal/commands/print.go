package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/pkg/types"
)

func statusString(s types.RunStatus) string {
	switch s {
	case types.RunCompleted:
		return color.GreenString(string(s))
	case types.RunFailed:
		return color.RedString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func decisionString(d types.DecisionLabel) string {
	switch d {
	case types.DecisionApprove:
		return color.GreenString("APPROVE")
	case types.DecisionRevise:
		return color.YellowString("REVISE")
	case types.DecisionReject:
		return color.RedString("REJECT")
	default:
		return string(d)
	}
}

func printBundle(w io.Writer, b *types.RunBundle) {
	bold := color.New(color.Bold)
	run := b.Run

	_, _ = bold.Fprintf(w, "\nRun: %s\n", run.ID)
	fmt.Fprintf(w, "  Type:    %s\n", run.RunType)
	if run.ParentRunID != nil {
		fmt.Fprintf(w, "  Parent:  %s\n", *run.ParentRunID)
	}
	fmt.Fprintf(w, "  Status:  %s\n", statusString(run.Status))
	fmt.Fprintf(w, "  Model:   %s (temperature %.2f)\n", run.Model, run.Temperature)
	fmt.Fprintf(w, "  Idea:    %s\n", run.InputIdea)
	if run.Status == types.RunFailed {
		_, _ = color.New(color.FgRed).Fprintf(w, "  Failed at %s: %s\n", run.FailedStep, run.FailureMessage)
	}

	if b.Proposal != nil {
		p := b.Proposal.Proposal
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "  Proposal:")
		if p.Title != nil {
			fmt.Fprintf(w, "    Title:    %s\n", *p.Title)
		}
		if p.Summary != nil {
			fmt.Fprintf(w, "    Summary:  %s\n", *p.Summary)
		}
		fmt.Fprintf(w, "    Problem:  %s\n", p.ProblemStatement)
		fmt.Fprintf(w, "    Solution: %s\n", p.ProposedSolution)
	}

	if len(b.Reviews) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "  Reviews:")
		for _, r := range b.Reviews {
			mark := " "
			if r.Reused {
				mark = "↺"
			}
			flags := ""
			if r.BlockingIssuesPresent {
				flags += color.RedString(" blocking")
			}
			if r.SecurityConcernsPresent {
				flags += color.RedString(" security")
			}
			fmt.Fprintf(w, "    %s %-20s %.2f%s\n", mark, r.PersonaID, r.ConfidenceScore, flags)
		}
	}

	if b.Decision != nil {
		doc := b.Decision.Result
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "  Decision:")
		fmt.Fprintf(w, "    %s  weighted confidence %.3f\n", decisionString(doc.Decision), doc.OverallWeightedConfidence)
		fmt.Fprintf(w, "    %s\n", doc.Formula)
		if doc.VetoApplied {
			_, _ = color.New(color.FgRed).Fprintln(w, "    Security veto applied")
		}
		for _, mr := range doc.MinorityReports {
			_, _ = color.New(color.FgYellow).Fprintf(w, "    Minority report from %s (%.2f): %s\n", mr.PersonaName, mr.ConfidenceScore, mr.BlockingSummary)
			if mr.Mitigation != "" {
				fmt.Fprintf(w, "      Mitigation: %s\n", mr.Mitigation)
			}
		}
	}
	fmt.Fprintln(w)
}

func printRuns(w io.Writer, runs []types.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return
	}
	_, _ = color.New(color.Bold).Fprintln(w, "Recent Runs:")
	for _, r := range runs {
		decision := "-"
		if r.DecisionLabel != nil {
			decision = decisionString(*r.DecisionLabel)
		}
		fmt.Fprintf(w, "  %-28s %-9s %-20s %-8s %s\n",
			r.ID, r.RunType, statusString(r.Status), decision, r.UpdatedAt.Format(time.RFC3339))
	}
}

func printEvents(w io.Writer, events []types.Event) {
	if len(events) == 0 {
		return
	}
	_, _ = color.New(color.Bold).Fprintln(w, "  Events:")
	for _, e := range events {
		line := fmt.Sprintf("    %s  %-22s", e.Timestamp.Format(time.RFC3339), e.Kind)
		if e.PersonaID != "" {
			line += " persona=" + e.PersonaID
		}
		if e.Message != "" {
			line += " " + e.Message
		}
		fmt.Fprintln(w, line)
	}
}

func printPersonas(w io.Writer, reg *persona.Registry) {
	_, _ = color.New(color.Bold).Fprintf(w, "Personas (unknown policy: %s):\n", reg.Policy())
	for _, p := range reg.List() {
		fmt.Fprintf(w, "  %-20s %-24s weight=%.2f temperature=%.2f\n", p.ID, p.DisplayName, p.DefaultWeight, p.Temperature)
	}
}

func printDiff(w io.Writer, d *types.RunDiff) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "\nDiff %s → %s\n", d.RunAID, d.RunBID)
	fmt.Fprintf(w, "  Relationship: %s\n", d.Relationship)

	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "  Proposal:")
	if d.ProposalChanges.Status != "" {
		fmt.Fprintf(w, "    %s\n", d.ProposalChanges.Status)
	}
	for _, s := range d.ProposalChanges.Sections {
		switch s.Status {
		case types.SectionUnchanged:
			fmt.Fprintf(w, "    = %s\n", s.Section)
		case types.SectionAdded:
			_, _ = color.New(color.FgGreen).Fprintf(w, "    + %s\n", s.Section)
		case types.SectionRemoved:
			_, _ = color.New(color.FgRed).Fprintf(w, "    - %s\n", s.Section)
		default:
			_, _ = color.New(color.FgYellow).Fprintf(w, "    ~ %s\n", s.Section)
		}
		if s.Diff != nil && s.Status != types.SectionUnchanged {
			fmt.Fprintln(w, indent(*s.Diff, "        "))
		}
	}

	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "  Personas:")
	deltas := append([]types.PersonaDelta(nil), d.PersonaDeltas...)
	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].PersonaID < deltas[j].PersonaID })
	for _, pd := range deltas {
		fmt.Fprintf(w, "    %-20s %-16s %s → %s (%s)\n", pd.PersonaID, pd.Status,
			fmtScore(pd.OldConfidence), fmtScore(pd.NewConfidence), fmtDelta(pd.ConfidenceDelta))
	}

	dd := d.DecisionDelta
	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "  Decision:")
	fmt.Fprintf(w, "    %s → %s  confidence %s → %s (%s)\n",
		fmtLabel(dd.OldDecision), fmtLabel(dd.NewDecision),
		fmtScore(dd.OldConfidence), fmtScore(dd.NewConfidence), fmtDelta(dd.ConfidenceDelta))
	if dd.DecisionChanged {
		_, _ = color.New(color.FgYellow).Fprintln(w, "    decision changed")
	}
	fmt.Fprintln(w)
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func fmtDelta(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.3f", *v)
}

func fmtLabel(l *types.DecisionLabel) string {
	if l == nil {
		return "-"
	}
	return decisionString(*l)
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
