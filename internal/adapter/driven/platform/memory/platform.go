package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
)

type Options struct {
	// AnswerDelay is how long an outbound call rings before the sandbox
	// reports it answered. Zero means never.
	AnswerDelay time.Duration
	// Denied lists numbers without call permission.
	Denied []string
}

// Platform is an in-process stand-in for the calling platform. It
// implements port.SignalingGateway and port.NotificationFeed, and answers
// every offer with a peer connection that echoes the caller's audio.
type Platform struct {
	api  *webrtc.API
	opts Options

	mu     sync.Mutex
	denied map[string]bool
	calls  map[domain.CallID]*echoCall
	events chan domain.Notification
	closed bool
}

type echoCall struct {
	peer     string
	inbound  bool
	pc       *webrtc.PeerConnection
	answered *time.Timer
}

func New(opts Options) (*Platform, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	p := &Platform{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		opts:   opts,
		denied: make(map[string]bool),
		calls:  make(map[domain.CallID]*echoCall),
		events: make(chan domain.Notification, 16),
	}
	for _, n := range opts.Denied {
		p.denied[n] = true
	}
	return p, nil
}

func (p *Platform) Notifications() <-chan domain.Notification {
	return p.events
}

func (p *Platform) CheckPermission(ctx context.Context, peerNumber string) (domain.PermissionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied[peerNumber] {
		return domain.PermissionStatus{Allowed: false, Reason: "No call permission on record"}, nil
	}
	return domain.PermissionStatus{Allowed: true}, nil
}

// RequestPermission is granted immediately.
func (p *Platform) RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.denied, peerNumber)
	return domain.PermissionRequest{Accepted: true}, nil
}

func (p *Platform) PlaceCall(ctx context.Context, peerNumber, reference string) (domain.CallGrant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied[peerNumber] {
		return domain.CallGrant{}, domain.NewCallError(domain.KindPermissionDenied, "No call permission on record", nil)
	}
	id := domain.CallID("sandbox-" + uuid.NewString())
	p.calls[id] = &echoCall{peer: peerNumber}
	log.Info().Str("call_id", id.String()).Str("peer", peerNumber).Msg("Sandbox call placed")
	return domain.CallGrant{CallID: id, Relay: sandboxRelay()}, nil
}

func (p *Platform) AcceptCall(ctx context.Context, callID domain.CallID) (domain.CallGrant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[callID]
	if !ok || !c.inbound {
		return domain.CallGrant{}, domain.NewCallError(domain.KindBackendRejected, "Unknown call", nil)
	}
	return domain.CallGrant{CallID: callID, Relay: sandboxRelay()}, nil
}

func (p *Platform) TerminateCall(ctx context.Context, callID domain.CallID) error {
	p.mu.Lock()
	c, ok := p.calls[callID]
	delete(p.calls, callID)
	p.mu.Unlock()
	if ok {
		c.close()
		log.Info().Str("call_id", callID.String()).Msg("Sandbox call terminated")
	}
	return nil
}

func (p *Platform) RelayOffer(ctx context.Context, callID domain.CallID, offer string) (domain.RelayAnswer, error) {
	p.mu.Lock()
	c, ok := p.calls[callID]
	p.mu.Unlock()
	if !ok {
		return domain.RelayAnswer{}, domain.NewCallError(domain.KindBackendRejected, "Unknown call", nil)
	}

	pc, err := p.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return domain.RelayAnswer{}, err
	}
	echo, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "echo", "sandbox")
	if err != nil {
		pc.Close()
		return domain.RelayAnswer{}, err
	}
	if _, err := pc.AddTrack(echo); err != nil {
		pc.Close()
		return domain.RelayAnswer{}, err
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("call_id", callID.String()).Str("kind", remote.Kind().String()).Msg("Sandbox echoing remote track")
		go func() {
			buf := make([]byte, 1400)
			for {
				i, _, err := remote.Read(buf)
				if err != nil {
					return
				}
				if _, err := echo.Write(buf[:i]); err != nil {
					return
				}
			}
		}()
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		pc.Close()
		return domain.RelayAnswer{}, domain.NewCallError(domain.KindBackendRejected, "Relay rejected offer", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return domain.RelayAnswer{}, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return domain.RelayAnswer{}, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return domain.RelayAnswer{}, ctx.Err()
	}

	p.mu.Lock()
	if p.calls[callID] != c {
		p.mu.Unlock()
		pc.Close()
		return domain.RelayAnswer{}, domain.NewCallError(domain.KindBackendRejected, "Call ended", nil)
	}
	if c.pc != nil {
		c.pc.Close()
	}
	c.pc = pc
	if !c.inbound && p.opts.AnswerDelay > 0 && c.answered == nil {
		c.answered = time.AfterFunc(p.opts.AnswerDelay, func() {
			p.push(domain.Notification{
				Kind:   domain.NotificationStatusChange,
				Status: domain.StatusChange{CallID: callID, Status: domain.StatusAnswered},
			})
		})
	}
	p.mu.Unlock()

	return domain.RelayAnswer{SDP: pc.LocalDescription().SDP, Room: callID.String()}, nil
}

// Ring simulates an incoming call from number.
func (p *Platform) Ring(from, contactName string) domain.CallID {
	id := domain.CallID("sandbox-" + uuid.NewString())
	p.mu.Lock()
	p.calls[id] = &echoCall{peer: from, inbound: true}
	p.mu.Unlock()

	p.push(domain.Notification{
		Kind:     domain.NotificationIncomingCall,
		Incoming: domain.IncomingCall{CallID: id, FromNumber: from, ContactName: contactName},
	})
	return id
}

// Hangup simulates the remote party ending callID with status.
func (p *Platform) Hangup(callID domain.CallID, status domain.CallStatus) {
	p.mu.Lock()
	c, ok := p.calls[callID]
	delete(p.calls, callID)
	p.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	p.push(domain.Notification{
		Kind:   domain.NotificationStatusChange,
		Status: domain.StatusChange{CallID: callID, Status: status},
	})
}

func (p *Platform) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, c := range p.calls {
		c.close()
		delete(p.calls, id)
	}
	close(p.events)
}

func (p *Platform) push(n domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- n:
	default:
		log.Warn().Str("event", string(n.Kind)).Msg("Sandbox event channel full, dropping event")
	}
}

func (c *echoCall) close() {
	if c.answered != nil {
		c.answered.Stop()
	}
	if c.pc != nil {
		c.pc.Close()
	}
}

func sandboxRelay() domain.RelayEndpoint {
	return domain.RelayEndpoint{URL: "sandbox://echo"}
}
