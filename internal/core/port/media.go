package port

import (
	"context"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// OfferSubmitter forwards the finalized local offer and returns the relay's answer.
type OfferSubmitter func(ctx context.Context, localSDP string) (domain.RelayAnswer, error)

// MediaNegotiator owns the capture handle and peer connection of one call.
type MediaNegotiator interface {
	Negotiate(ctx context.Context, relay domain.RelayEndpoint, submit OfferSubmitter) (domain.NegotiationResult, error)
	// Release must be safe to call more than once and while Negotiate is running.
	Release()
}

type NegotiatorFactory interface {
	NewNegotiator(callID domain.CallID) MediaNegotiator
}
