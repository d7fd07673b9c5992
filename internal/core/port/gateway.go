package port

import (
	"context"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// SignalingGateway is the request/response contract with the call-control
// backend. Implementations hold no session state and never retry.
type SignalingGateway interface {
	CheckPermission(ctx context.Context, peerNumber string) (domain.PermissionStatus, error)
	RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error)
	PlaceCall(ctx context.Context, peerNumber, reference string) (domain.CallGrant, error)
	AcceptCall(ctx context.Context, callID domain.CallID) (domain.CallGrant, error)
	TerminateCall(ctx context.Context, callID domain.CallID) error
	RelayOffer(ctx context.Context, callID domain.CallID, sdp string) (domain.RelayAnswer, error)
}
