package domain

import "fmt"

// CallState is the lifecycle state of the controller's call slot.
type CallState int

const (
	StateIdle CallState = iota
	StateConnecting
	StateRinging
	StateActive
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateRinging:
		return "Ringing"
	case StateActive:
		return "Active"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Idle -> Ended covers a dial whose placeCall fails before any media exists.
var validTransitions = map[CallState][]CallState{
	StateIdle:       {StateConnecting, StateEnded},
	StateConnecting: {StateRinging, StateActive, StateEnded},
	StateRinging:    {StateActive, StateEnded},
	StateActive:     {StateEnded},
	StateEnded:      {StateIdle},
}

func (s CallState) CanTransitionTo(next CallState) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}

func (s CallState) IsTerminal() bool {
	return s == StateEnded
}

// IsLive reports whether a call in this state can be ended by the user or
// by a remote status notification.
func (s CallState) IsLive() bool {
	return s == StateConnecting || s == StateRinging || s == StateActive
}
