package domain

import (
	"fmt"
	"strings"
)

// IncomingCall is pushed by the platform when a peer calls us.
type IncomingCall struct {
	CallID      CallID
	FromNumber  string
	ContactName string
}

type CallStatus string

const (
	StatusAnswered CallStatus = "Answered"
	StatusEnded    CallStatus = "Ended"
	StatusFailed   CallStatus = "Failed"
	StatusNoAnswer CallStatus = "No Answer"
	StatusDeclined CallStatus = "Declined"
)

// ParseCallStatus accepts the platform's spellings, including "NoAnswer".
func ParseCallStatus(s string) (CallStatus, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "answered":
		return StatusAnswered, nil
	case "ended":
		return StatusEnded, nil
	case "failed":
		return StatusFailed, nil
	case "noanswer":
		return StatusNoAnswer, nil
	case "declined":
		return StatusDeclined, nil
	}
	return "", fmt.Errorf("unknown call status %q", s)
}

// IsTerminal reports whether the status ends the call on the remote side.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusFailed, StatusNoAnswer, StatusDeclined:
		return true
	}
	return false
}

// StatusChange is pushed by the platform when the backend's view of a call
// changes.
type StatusChange struct {
	CallID CallID
	Status CallStatus
}

type NotificationKind string

const (
	NotificationIncomingCall NotificationKind = "incoming-call"
	NotificationStatusChange NotificationKind = "call-status-changed"
)

// Notification carries exactly one of Incoming or Status, selected by Kind.
type Notification struct {
	Kind     NotificationKind
	Incoming IncomingCall
	Status   StatusChange
}
