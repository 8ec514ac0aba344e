package orchestration

import "fmt"

// State is where a session sits in the pipeline.
type State string

const (
	StateInit            State = "INIT"
	StateResearch        State = "RESEARCH"
	StateWrite           State = "WRITE"
	StateReview          State = "REVIEW"
	StateComplete        State = "COMPLETE"
	StateAwaitingAnswers State = "AWAITING_ANSWERS"
	StateFailed          State = "FAILED"
	StateCancelled       State = "CANCELLED"
)

// allowedTransitions lists the legal edges of the stage state machine.
// FAILED and CANCELLED sessions that already hold a draft may be resumed
// with answers.
var allowedTransitions = map[State][]State{
	StateInit:            {StateResearch, StateFailed, StateCancelled},
	StateResearch:        {StateWrite, StateFailed, StateCancelled},
	StateWrite:           {StateReview, StateFailed, StateCancelled},
	StateReview:          {StateComplete, StateAwaitingAnswers, StateFailed, StateCancelled},
	StateAwaitingAnswers: {StateWrite, StateComplete},
	StateComplete:        {StateWrite, StateComplete},
	StateFailed:          {StateWrite, StateComplete},
	StateCancelled:       {StateWrite, StateComplete},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}
	return nil
}

// inFlight reports whether a run was still working when the session was
// left in s. Settled states survive a failed or cancelled follow-up.
func inFlight(s State) bool {
	switch s {
	case StateInit, StateResearch, StateWrite, StateReview:
		return true
	}
	return false
}
