package worker

import (
	"errors"
	"time"
)

// State is a worker's position in its claim cycle.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateIdle       State = "IDLE"
	StateClaiming   State = "CLAIMING"
	StateProcessing State = "PROCESSING"
	StateAcking     State = "ACKING"
)

// AllStates lists every state, in cycle order.
var AllStates = []State{StateConnecting, StateIdle, StateClaiming, StateProcessing, StateAcking}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Every state may fall back to CONNECTING on a queue failure.
var ValidTransitions = map[State][]State{
	StateConnecting: {StateIdle, StateConnecting},
	StateIdle:       {StateClaiming, StateConnecting},
	StateClaiming:   {StateProcessing, StateIdle, StateConnecting},
	StateProcessing: {StateAcking, StateConnecting},
	StateAcking:     {StateIdle, StateConnecting},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateConnecting:
		return "Connecting - waiting for the queue to become reachable"
	case StateIdle:
		return "Idle - between claim cycles"
	case StateClaiming:
		return "Claiming - reading pending or new tasks"
	case StateProcessing:
		return "Processing - probing sites and persisting results"
	case StateAcking:
		return "Acking - acknowledging the claimed batch"
	default:
		return "Unknown state"
	}
}
