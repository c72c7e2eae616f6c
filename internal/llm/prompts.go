package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// PromptSetVersion identifies the prompt texts below. Bump it whenever a
// prompt changes so stored runs can be audited against the prompts that
// produced them.
const PromptSetVersion = "prompts-2026.1"

const expandSystemPrompt = `You turn a short product or engineering idea into a structured proposal.
Respond with a single JSON object and nothing else, with these fields:
  "title": short title,
  "summary": one paragraph summary,
  "problem_statement": the problem being solved (required),
  "proposed_solution": the solution (required),
  "assumptions": array of strings,
  "scope_non_goals": array of strings describing what is out of scope.`

const reviewSystemPrompt = `You are %s, one member of a review panel evaluating a proposal.
%s
Respond with a single JSON object and nothing else, with these fields:
  "persona_name": %q,
  "confidence_score": number between 0 and 1 expressing how strongly you support the proposal (required),
  "strengths": array of strings,
  "concerns": array of {"text": string, "is_blocking": bool},
  "recommendations": array of strings,
  "blocking_issues": array of {"description": string, "security_critical": bool},
  "estimated_effort": string or object,
  "dependency_risks": array of strings or objects.`

func expandUserPrompt(req ExpandRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Idea:\n%s\n", req.Idea)
	if len(req.Context) > 0 {
		if data, err := json.MarshalIndent(req.Context, "", "  "); err == nil {
			fmt.Fprintf(&b, "\nAdditional context:\n%s\n", data)
		}
	}
	if req.Parent != nil {
		if data, err := json.MarshalIndent(req.Parent, "", "  "); err == nil {
			fmt.Fprintf(&b, "\nPrevious version of the proposal:\n%s\n", data)
		}
	}
	if req.Edits != nil {
		if req.Edits.EditedProposal != nil {
			if data, err := json.MarshalIndent(req.Edits.EditedProposal, "", "  "); err == nil {
				fmt.Fprintf(&b, "\nUser-edited proposal (treat as authoritative):\n%s\n", data)
			}
		}
		if req.Edits.UserNotes != "" {
			fmt.Fprintf(&b, "\nRevision notes from the user:\n%s\n", req.Edits.UserNotes)
		}
		b.WriteString("\nProduce the improved proposal.\n")
	}
	return b.String()
}

func reviewUserPrompt(p types.ProposalDocument) string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return p.ProblemStatement + "\n\n" + p.ProposedSolution
	}
	return "Proposal:\n" + string(data)
}
