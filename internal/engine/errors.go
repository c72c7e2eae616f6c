package engine

import (
	"fmt"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// StepError reports which step (and, for reviews, which persona) failed a run.
// The run it names has already been marked FAILED.
type StepError struct {
	RunID     string
	Step      types.Step
	PersonaID string
	Err       error
}

func (e *StepError) Error() string {
	if e.PersonaID != "" {
		return fmt.Sprintf("run %s: %s step failed for persona %s: %v", e.RunID, e.Step, e.PersonaID, e.Err)
	}
	return fmt.Sprintf("run %s: %s step failed: %v", e.RunID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
