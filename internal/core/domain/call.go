package domain

import (
	"fmt"
	"time"
)

type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

func (d Direction) String() string {
	switch d {
	case DirectionOutbound:
		return "outbound"
	case DirectionInbound:
		return "inbound"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// CallSession is the single mutable call record. It is owned by the call
// service's run loop and must not be touched from any other goroutine.
type CallSession struct {
	ID          SessionID
	CallID      CallID
	Direction   Direction
	PeerNumber  string
	DisplayName string
	Reference   string
	State       CallState
	StartedAt   time.Time
	EndedAt     time.Time
	Relay       *RelayEndpoint

	// Message is the human-readable text shown with the current state.
	Message string
}

func NewOutboundSession(peerNumber, reference string) *CallSession {
	return &CallSession{
		ID:         NewSessionID(),
		Direction:  DirectionOutbound,
		PeerNumber: peerNumber,
		Reference:  reference,
		State:      StateIdle,
	}
}

func NewInboundSession(ev IncomingCall) *CallSession {
	name := ev.ContactName
	if name == "" {
		name = ev.FromNumber
	}
	return &CallSession{
		ID:          NewSessionID(),
		CallID:      ev.CallID,
		Direction:   DirectionInbound,
		PeerNumber:  ev.FromNumber,
		DisplayName: name,
		State:       StateIdle,
	}
}

// SetRelay stores the relay parameters for this call. They are immutable once set.
func (s *CallSession) SetRelay(r RelayEndpoint) bool {
	if s.Relay != nil {
		return false
	}
	s.Relay = &r
	return true
}

// Transition moves the session to next, rejecting moves the state table
// does not allow.
func (s *CallSession) Transition(next CallState, now time.Time) error {
	if !s.State.CanTransitionTo(next) {
		return NewCallError(KindInvalidTransition, fmt.Sprintf("%s -> %s", s.State, next), nil)
	}
	s.State = next
	switch next {
	case StateActive:
		s.StartedAt = now
	case StateEnded:
		s.EndedAt = now
	}
	return nil
}

// Elapsed returns the whole seconds spent in Active, and false when the
// call never became active.
func (s *CallSession) Elapsed(now time.Time) (int, bool) {
	if s.StartedAt.IsZero() {
		return 0, false
	}
	end := now
	if !s.EndedAt.IsZero() {
		end = s.EndedAt
	}
	return int(end.Sub(s.StartedAt) / time.Second), true
}

func (s *CallSession) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		State:       s.State,
		Direction:   s.Direction.String(),
		CallID:      s.CallID,
		PeerNumber:  s.PeerNumber,
		DisplayName: s.DisplayName,
		Message:     s.Message,
	}
	if secs, ok := s.Elapsed(now); ok {
		snap.ElapsedSeconds = &secs
	}
	return snap
}
