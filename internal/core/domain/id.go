package domain

import (
	"github.com/google/uuid"
)

// SessionID identifies one call attempt locally, before and after the
// backend has assigned a CallID.
type SessionID uuid.UUID

func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// CallID is the opaque identifier assigned by the call-control backend.
type CallID string

func (id CallID) String() string {
	return string(id)
}

func (id CallID) IsZero() bool {
	return id == ""
}
