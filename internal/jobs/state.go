package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// State is one step of the job lifecycle.
type State string

const (
	StateSubmitted State = "submitted"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// ErrTerminalState marks an attempt to move a job out of a final state.
var ErrTerminalState = errors.New("job is in a terminal state")

// ErrUnknownJob marks lookups for ids the registry does not track.
var ErrUnknownJob = errors.New("unknown job")

var stateRank = map[State]int{
	StateSubmitted: 0,
	StateQueued:    1,
	StateRunning:   2,
	StateCompleted: 3,
	StateFailed:    3,
	StateCanceled:  3,
}

// ParseState converts service or user input into a State.
func ParseState(value string) (State, error) {
	state := State(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := stateRank[state]; !ok {
		return "", fmt.Errorf("unknown job state %q", value)
	}
	return state, nil
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Active reports whether the job still needs polling.
func (s State) Active() bool {
	_, ok := stateRank[s]
	return ok && !s.Terminal()
}

// CanTransition reports whether a job may move from one state to another.
// The lifecycle only moves forward; terminal states accept nothing.
func (from State) CanTransition(to State) bool {
	fromRank, ok := stateRank[from]
	if !ok {
		return false
	}
	toRank, ok := stateRank[to]
	if !ok {
		return false
	}
	if from.Terminal() {
		return false
	}
	return toRank > fromRank
}
