package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwsmith1983/verdict/internal/aggregate"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// RevisionPlan is the outcome of CreateRevision: the new RUNNING run, the
// personas that must be re-reviewed, and the reviews already carried over.
type RevisionPlan struct {
	Run    *types.Run
	Parent *types.RunBundle
	Edits  types.RevisionEdits
	Rerun  []string
	Reused []types.PersonaReview
}

// CreateRevision branches a new run from a COMPLETED parent. Personas whose
// parent review scored below aggregate.ReviseThreshold, and registered
// personas the parent has no review from, are scheduled for re-review. All
// other parent reviews are copied into the new run unchanged.
func (m *Manager) CreateRevision(ctx context.Context, parentID string, edits types.RevisionEdits) (*RevisionPlan, error) {
	parent, err := m.Bundle(ctx, parentID)
	if errors.Is(err, ErrRunNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}
	if err != nil {
		return nil, err
	}
	if parent.Run.Status != types.RunCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrParentNotCompleted, parentID, parent.Run.Status)
	}
	if edits.Empty() {
		return nil, ErrMissingEditInput
	}

	pid := parent.Run.ID
	run := m.newRun(types.RunRevision, &pid, parent.Run.InputIdea, parent.Run.ExtraContext, parent.Run.Model, parent.Run.Temperature)
	if err := m.provider.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating revision of %s: %w", parentID, err)
	}

	byPersona := make(map[string]types.PersonaReview, len(parent.Reviews))
	for _, r := range parent.Reviews {
		byPersona[r.PersonaID] = r
	}

	plan := &RevisionPlan{Run: &run, Parent: parent, Edits: edits}
	var carried []types.PersonaReview
	for _, id := range m.registry.IDs() {
		prev, ok := byPersona[id]
		if !ok || prev.ConfidenceScore < aggregate.ReviseThreshold {
			plan.Rerun = append(plan.Rerun, id)
			continue
		}
		carried = append(carried, prev)
	}

	m.logger.Info("revision created", "run", run.ID, "parent", parentID, "rerun", plan.Rerun)
	m.appendEvent(ctx, types.Event{
		Kind:   types.EventRevisionCreated,
		RunID:  run.ID,
		Status: string(run.Status),
		Details: map[string]any{
			"parent": parentID,
			"rerun":  plan.Rerun,
			"reused": len(carried),
		},
	})

	for _, prev := range carried {
		reused := prev
		reused.RunID = run.ID
		reused.Reused = true
		if reused.SourceRunID == "" {
			reused.SourceRunID = parent.Run.ID
		}
		reused.CreatedAt = m.now()
		if err := m.AttachReview(ctx, run.ID, reused); err != nil {
			if _, ferr := m.Fail(ctx, run.ID, types.StepCreate, err); ferr != nil {
				m.logger.Error("failed to mark revision failed", "run", run.ID, "error", ferr)
			}
			return nil, fmt.Errorf("carrying review %s into %s: %w", prev.PersonaID, run.ID, err)
		}
		plan.Reused = append(plan.Reused, reused)
	}
	return plan, nil
}
