package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dwsmith1983/verdict/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.RunStatus
		to    types.RunStatus
		valid bool
	}{
		{types.RunRunning, types.RunCompleted, true},
		{types.RunRunning, types.RunFailed, true},
		{types.RunRunning, types.RunRunning, false},
		{types.RunCompleted, types.RunFailed, false},
		{types.RunCompleted, types.RunRunning, false},
		{types.RunFailed, types.RunCompleted, false},
		{types.RunFailed, types.RunRunning, false},
		{types.RunStatus("PENDING"), types.RunRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(types.RunCompleted))
	assert.True(t, IsTerminal(types.RunFailed))
	assert.False(t, IsTerminal(types.RunRunning))
}
