package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindBackendUnavailable
	KindQuotaExceeded
	KindMediaUnavailable
	KindNegotiationTimeout
	KindBackendRejected
	KindSessionBusy
	KindNoActiveCall
	KindInvalidTransition
	KindServiceStopped
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindBackendUnavailable:
		return "BackendUnavailable"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindMediaUnavailable:
		return "MediaUnavailable"
	case KindNegotiationTimeout:
		return "NegotiationTimeout"
	case KindBackendRejected:
		return "BackendRejected"
	case KindSessionBusy:
		return "SessionBusy"
	case KindNoActiveCall:
		return "NoActiveCall"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindServiceStopped:
		return "ServiceStopped"
	default:
		return "Unknown"
	}
}

// Recoverable reports whether the operator may simply try again.
func (k ErrorKind) Recoverable() bool {
	return k != KindMediaUnavailable
}

// CallError is the error type surfaced by the gateway, the media engine and
// the call service.
type CallError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func NewCallError(kind ErrorKind, reason string, err error) *CallError {
	return &CallError{Kind: kind, Reason: reason, Err: err}
}

func (e *CallError) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Is matches any CallError of the same kind, so sentinels work with errors.Is.
func (e *CallError) Is(target error) bool {
	var t *CallError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPermissionDenied   = &CallError{Kind: KindPermissionDenied}
	ErrBackendUnavailable = &CallError{Kind: KindBackendUnavailable}
	ErrQuotaExceeded      = &CallError{Kind: KindQuotaExceeded}
	ErrMediaUnavailable   = &CallError{Kind: KindMediaUnavailable}
	ErrNegotiationTimeout = &CallError{Kind: KindNegotiationTimeout}
	ErrBackendRejected    = &CallError{Kind: KindBackendRejected}
	ErrSessionBusy        = &CallError{Kind: KindSessionBusy}
	ErrNoActiveCall       = &CallError{Kind: KindNoActiveCall}
	ErrInvalidTransition  = &CallError{Kind: KindInvalidTransition}
	ErrServiceStopped     = &CallError{Kind: KindServiceStopped}
)

func ErrorKindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Describe returns the text shown to the operator for err.
func Describe(err error) string {
	var ce *CallError
	if !errors.As(err, &ce) {
		return "Call failed"
	}
	if ce.Reason != "" {
		return ce.Reason
	}
	switch ce.Kind {
	case KindPermissionDenied:
		return "Call permission required"
	case KindBackendUnavailable:
		return "Could not reach the calling platform"
	case KindQuotaExceeded:
		return "Calling quota exceeded"
	case KindMediaUnavailable:
		return "Microphone unavailable"
	case KindBackendRejected:
		return "Failed to initiate call"
	default:
		return "Call failed"
	}
}
