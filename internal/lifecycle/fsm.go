// Package lifecycle implements the evaluation run state machine and the
// manager that creates runs, attaches their artifacts and plans revisions.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.RunStatus][]types.RunStatus{
	types.RunRunning:   {types.RunCompleted, types.RunFailed},
	types.RunCompleted: {},
	types.RunFailed:    {},
}

// CanTransition checks if transitioning from one run status to another is valid.
func CanTransition(from, to types.RunStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a status change, returning ErrInvalidTransition if it is not allowed.
func Transition(from, to types.RunStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal returns true if the status is a terminal (final) state.
func IsTerminal(status types.RunStatus) bool {
	return status == types.RunCompleted || status == types.RunFailed
}
