package lifecycle

import (
	"fmt"
	"strings"
)

type State string

const (
	StateCreated   State = "CREATED"
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateRetrying  State = "RETRYING"
)

var transitions = map[State][]State{
	StateCreated:   {StateQueued},
	StateQueued:    {StateRunning},
	StateRunning:   {StateSucceeded, StateFailed, StateRetrying},
	StateRetrying:  {StateQueued},
	StateSucceeded: {},
	StateFailed:    {},
}

func (s State) String() string {
	return string(s)
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// HasError reports whether a job in state s carries an error code.
func (s State) HasError() bool {
	return s == StateFailed || s == StateRetrying
}

func Parse(s string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(s)))
	if !state.Valid() {
		return "", fmt.Errorf("unknown job state %q", s)
	}
	return state, nil
}

// AllowedFrom returns a copy of the states reachable from s in one step.
func AllowedFrom(s State) []State {
	next := transitions[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job state transition from %s to %s", e.From, e.To)
}

func NewInvalidTransitionError(from, to State) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to}
}

// AssertTransition fails with *InvalidTransitionError unless from -> to is an edge
// of the job lifecycle.
func AssertTransition(from, to State) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return NewInvalidTransitionError(from, to)
}

// Check validates moving a job currently in current to next. Requesting the
// state the job is already in is reported as a no-op.
func Check(current, next State) (noop bool, err error) {
	if current == next && current.Valid() {
		return true, nil
	}
	if err := AssertTransition(current, next); err != nil {
		return false, err
	}
	return false, nil
}
