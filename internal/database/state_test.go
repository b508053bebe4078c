package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_HappyPath(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Transition(StateProvisioning))
	require.NoError(t, l.Transition(StateAvailable))
	require.NoError(t, l.Transition(StateDestroyed))

	assert.Equal(t, StateDestroyed, l.State())
	assert.Equal(t, []State{StateUnprovisioned, StateProvisioning, StateAvailable, StateDestroyed}, l.History())
}

func TestLifecycle_FailureRollsBackToDestroyed(t *testing.T) {
	l := NewLifecycle()
	require.NoError(t, l.Transition(StateProvisioning))
	assert.False(t, l.State().Resting())
	require.NoError(t, l.Transition(StateDestroyed))
	assert.True(t, l.State().Resting())
	assert.Equal(t, []State{StateUnprovisioned, StateProvisioning, StateDestroyed}, l.History())
}

func TestLifecycle_OnlyFourStates(t *testing.T) {
	states := map[State]bool{}
	for from, tos := range transitions {
		states[from] = true
		for _, to := range tos {
			states[to] = true
		}
	}
	assert.Len(t, states, 4)
	for _, s := range []State{StateUnprovisioned, StateProvisioning, StateAvailable, StateDestroyed} {
		assert.True(t, states[s], s)
	}
}

func TestLifecycle_RejectsOtherTransitions(t *testing.T) {
	tests := []struct {
		from, to State
	}{
		{StateUnprovisioned, StateAvailable},
		{StateUnprovisioned, StateDestroyed},
		{StateAvailable, StateProvisioning},
		{StateDestroyed, StateProvisioning},
		{StateDestroyed, StateAvailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.False(t, tt.from.CanTransition(tt.to))
		})
	}

	l := NewLifecycle()
	err := l.Transition(StateAvailable)
	require.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StateUnprovisioned, l.State())
}

func TestState_Resting(t *testing.T) {
	assert.True(t, StateUnprovisioned.Resting())
	assert.True(t, StateAvailable.Resting())
	assert.True(t, StateDestroyed.Resting())
	assert.False(t, StateProvisioning.Resting())
}
