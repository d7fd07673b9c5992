package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	all := []CallState{StateIdle, StateConnecting, StateRinging, StateActive, StateEnded}
	allowed := map[[2]CallState]bool{
		{StateIdle, StateConnecting}:    true,
		{StateIdle, StateEnded}:         true,
		{StateConnecting, StateRinging}: true,
		{StateConnecting, StateActive}:  true,
		{StateConnecting, StateEnded}:   true,
		{StateRinging, StateActive}:     true,
		{StateRinging, StateEnded}:      true,
		{StateActive, StateEnded}:       true,
		{StateEnded, StateIdle}:         true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]CallState{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestSessionTransitionTimestamps(t *testing.T) {
	s := NewOutboundSession("+15551234567", "ref")
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Transition(StateConnecting, t0))
	_, ok := s.Elapsed(t0)
	assert.False(t, ok)

	require.NoError(t, s.Transition(StateActive, t0.Add(time.Second)))
	secs, ok := s.Elapsed(t0.Add(3500 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 2, secs)

	require.NoError(t, s.Transition(StateEnded, t0.Add(5*time.Second)))
	secs, _ = s.Elapsed(t0.Add(time.Minute))
	assert.Equal(t, 4, secs, "elapsed freezes once ended")

	err := s.Transition(StateActive, t0.Add(6*time.Second))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateEnded, s.State)
}

func TestInboundSessionDisplayName(t *testing.T) {
	s := NewInboundSession(IncomingCall{CallID: "c1", FromNumber: "+1555"})
	assert.Equal(t, "+1555", s.DisplayName)
	assert.Equal(t, DirectionInbound, s.Direction)

	s = NewInboundSession(IncomingCall{CallID: "c2", FromNumber: "+1555", ContactName: "Grace"})
	assert.Equal(t, "Grace", s.DisplayName)
}

func TestRelayIsImmutable(t *testing.T) {
	s := NewOutboundSession("+1555", "")
	assert.True(t, s.SetRelay(RelayEndpoint{URL: "wss://a"}))
	assert.False(t, s.SetRelay(RelayEndpoint{URL: "wss://b"}))
	assert.Equal(t, "wss://a", s.Relay.URL)
}

func TestSnapshotJSONState(t *testing.T) {
	text, err := StateRinging.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Ringing", string(text))
}

func TestParseCallStatus(t *testing.T) {
	for in, want := range map[string]CallStatus{
		"Answered":  StatusAnswered,
		"ended":     StatusEnded,
		"No Answer": StatusNoAnswer,
		"NoAnswer":  StatusNoAnswer,
		" Declined": StatusDeclined,
	} {
		got, err := ParseCallStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseCallStatus("Ringing")
	assert.Error(t, err)
	assert.False(t, StatusAnswered.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}
