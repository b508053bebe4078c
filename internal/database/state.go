package database

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a cluster as seen by a provisioning engine.
type State string

const (
	StateUnprovisioned State = "unprovisioned"
	StateProvisioning  State = "provisioning"
	StateAvailable     State = "available"
	StateDestroyed     State = "destroyed"
)

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid cluster state transition")

var transitions = map[State][]State{
	StateUnprovisioned: {StateProvisioning},
	// provisioning -> destroyed is the rollback of a failed provisioning.
	StateProvisioning: {StateAvailable, StateDestroyed},
	StateAvailable:    {StateDestroyed},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Resting reports whether a plan may finish with a cluster in s.
func (s State) Resting() bool {
	switch s {
	case StateUnprovisioned, StateAvailable, StateDestroyed:
		return true
	}
	return false
}

// Lifecycle tracks one cluster's state and the path it took.
type Lifecycle struct {
	state   State
	history []State
}

// NewLifecycle starts unprovisioned.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateUnprovisioned, history: []State{StateUnprovisioned}}
}

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// History returns every state visited, oldest first.
func (l *Lifecycle) History() []State {
	return append([]State(nil), l.history...)
}

// Transition moves to next or returns ErrInvalidTransition.
func (l *Lifecycle) Transition(next State) error {
	if !l.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, next)
	}
	l.state = next
	l.history = append(l.history, next)
	return nil
}
