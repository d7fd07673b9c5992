package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
)

type fakeGateway struct {
	mu         sync.Mutex
	permission domain.PermissionStatus
	checkErr   error
	grant      domain.CallGrant
	placeErr   error
	acceptErr  error
	requestRes domain.PermissionRequest
	placed     int
	accepted   []domain.CallID
	terminated []domain.CallID
	offers     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		permission: domain.PermissionStatus{Allowed: true},
		grant: domain.CallGrant{
			CallID: "call-1",
			Relay:  domain.RelayEndpoint{URL: "wss://relay.example/janus"},
		},
		requestRes: domain.PermissionRequest{Accepted: true},
	}
}

func (g *fakeGateway) CheckPermission(ctx context.Context, peerNumber string) (domain.PermissionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permission, g.checkErr
}

func (g *fakeGateway) RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestRes, nil
}

func (g *fakeGateway) PlaceCall(ctx context.Context, peerNumber, reference string) (domain.CallGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed++
	if g.placeErr != nil {
		return domain.CallGrant{}, g.placeErr
	}
	return g.grant, nil
}

func (g *fakeGateway) AcceptCall(ctx context.Context, callID domain.CallID) (domain.CallGrant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accepted = append(g.accepted, callID)
	if g.acceptErr != nil {
		return domain.CallGrant{}, g.acceptErr
	}
	return domain.CallGrant{CallID: callID, Relay: g.grant.Relay}, nil
}

func (g *fakeGateway) TerminateCall(ctx context.Context, callID domain.CallID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminated = append(g.terminated, callID)
	return nil
}

func (g *fakeGateway) RelayOffer(ctx context.Context, callID domain.CallID, sdp string) (domain.RelayAnswer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offers = append(g.offers, sdp)
	return domain.RelayAnswer{SDP: "v=0 answer", Room: "1234"}, nil
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *fakeGateway) terminatedIDs() []domain.CallID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.CallID(nil), g.terminated...)
}

func (g *fakeGateway) acceptedIDs() []domain.CallID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.CallID(nil), g.accepted...)
}

func (g *fakeGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placed
}

type fakeNegotiator struct {
	callID   domain.CallID
	err      error
	gate     chan struct{}
	mu       sync.Mutex
	released int
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, relay domain.RelayEndpoint, submit port.OfferSubmitter) (domain.NegotiationResult, error) {
	if n.err != nil {
		return domain.NegotiationResult{}, n.err
	}
	answer, err := submit(ctx, "v=0 offer")
	if err != nil {
		return domain.NegotiationResult{}, err
	}
	if n.gate != nil {
		<-n.gate
	}
	return domain.NegotiationResult{
		CallID:            n.callID,
		LocalDescription:  domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0 offer"},
		RemoteDescription: domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP},
		RelayConfirmation: answer,
		Candidates:        1,
	}, nil
}

func (n *fakeNegotiator) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.released++
}

func (n *fakeNegotiator) releaseCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.released
}

// fakeMedia hands out negotiators that ignore cancellation, so a result can
// arrive after the call that asked for it is gone.
type fakeMedia struct {
	mu          sync.Mutex
	err         error
	gate        chan struct{}
	negotiators []*fakeNegotiator
}

func (m *fakeMedia) NewNegotiator(callID domain.CallID) port.MediaNegotiator {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &fakeNegotiator{callID: callID, err: m.err, gate: m.gate}
	m.negotiators = append(m.negotiators, n)
	return n
}

func (m *fakeMedia) last() *fakeNegotiator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.negotiators) == 0 {
		return nil
	}
	return m.negotiators[len(m.negotiators)-1]
}

type fakePresenter struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (p *fakePresenter) Publish(snap domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, snap)
}

func (p *fakePresenter) last() domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snaps) == 0 {
		return domain.Snapshot{}
	}
	return p.snaps[len(p.snaps)-1]
}

func (p *fakePresenter) states() []domain.CallState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.CallState, 0, len(p.snaps))
	for _, s := range p.snaps {
		out = append(out, s.State)
	}
	return out
}

func (p *fakePresenter) count(state domain.CallState) int {
	n := 0
	for _, s := range p.states() {
		if s == state {
			n++
		}
	}
	return n
}

type harness struct {
	svc       *CallService
	gateway   *fakeGateway
	media     *fakeMedia
	presenter *fakePresenter
	cancel    context.CancelFunc
}

func testOptions() CallOptions {
	return CallOptions{
		BackendTimeout: time.Second,
		GracePeriod:    100 * time.Millisecond,
		TickInterval:   20 * time.Millisecond,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gateway:   newFakeGateway(),
		media:     &fakeMedia{},
		presenter: &fakePresenter{},
	}
	h.svc = NewCallService(h.gateway, h.media, h.presenter, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = h.svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.svc.Done()
	})
	return h
}

func (h *harness) waitState(t *testing.T, want domain.CallState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.presenter.last().State == want
	}, 2*time.Second, 5*time.Millisecond, "state never reached %s, saw %v", want, h.presenter.states())
}

// sync returns once every command enqueued before it has been applied.
func (h *harness) sync(t *testing.T) domain.Snapshot {
	t.Helper()
	snap, err := h.svc.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}
