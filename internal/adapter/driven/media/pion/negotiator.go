package pion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
	"github.com/Wyydra/wacall/internal/metrics"
)

var errReleased = errors.New("negotiator released")

// Negotiator runs the offer/answer exchange of one call and owns its
// capture handle, peer connection and sinks until Release.
type Negotiator struct {
	engine *Engine
	callID domain.CallID
	log    zerolog.Logger

	mu       sync.Mutex
	released bool
	capture  Capture
	pc       *webrtc.PeerConnection
	sinks    []Sink
}

func (n *Negotiator) Negotiate(ctx context.Context, relay domain.RelayEndpoint, submit port.OfferSubmitter) (domain.NegotiationResult, error) {
	start := time.Now()

	capture, err := n.engine.cfg.Source.Open(ctx)
	if err != nil {
		if domain.ErrorKindOf(err) == domain.KindUnknown {
			err = domain.NewCallError(domain.KindMediaUnavailable, "", err)
		}
		return domain.NegotiationResult{}, err
	}
	if !n.hold(func() { n.capture = capture }) {
		capture.Close()
		return domain.NegotiationResult{}, errReleased
	}

	pc, err := n.engine.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: n.engine.iceServers(relay),
	})
	if err != nil {
		return domain.NegotiationResult{}, domain.NewCallError(domain.KindMediaUnavailable, "Could not create peer connection", err)
	}
	if !n.hold(func() { n.pc = pc }) {
		pc.Close()
		return domain.NegotiationResult{}, errReleased
	}

	sender, err := pc.AddTrack(capture.Track())
	if err != nil {
		return domain.NegotiationResult{}, domain.NewCallError(domain.KindMediaUnavailable, "Could not attach microphone", err)
	}
	go drainRTCP(n.log, func() ([]rtcp.Packet, error) {
		pkts, _, err := sender.ReadRTCP()
		return pkts, err
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		n.log.Debug().Str("kind", remote.Kind().String()).Str("codec", remote.Codec().MimeType).Msg("Received remote track")
		go drainRTCP(n.log, func() ([]rtcp.Packet, error) {
			pkts, _, err := receiver.ReadRTCP()
			return pkts, err
		})
		go n.play(remote)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.log.Info().Str("state", s.String()).Msg("Peer connection state changed")
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return domain.NegotiationResult{}, n.failed(ctx, "Could not create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return domain.NegotiationResult{}, n.failed(ctx, "Could not apply local description", err)
	}

	partial := false
	timer := time.NewTimer(n.engine.cfg.GatherTimeout)
	select {
	case <-gathered:
		timer.Stop()
	case <-timer.C:
		partial = true
		metrics.ICEGatheringTimeouts.Inc()
		n.log.Warn().Dur("timeout", n.engine.cfg.GatherTimeout).Msg("ICE gathering incomplete, sending partial offer")
	case <-ctx.Done():
		timer.Stop()
		return domain.NegotiationResult{}, ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return domain.NegotiationResult{}, n.failed(ctx, "No local description", errReleased)
	}
	candidates := countCandidates(local.SDP)
	n.log.Debug().Int("candidates", candidates).Bool("partial", partial).Msg("Submitting offer")

	answer, err := submit(ctx, local.SDP)
	if err != nil {
		return domain.NegotiationResult{}, err
	}
	if err := validateAnswer(answer.SDP); err != nil {
		return domain.NegotiationResult{}, domain.NewCallError(domain.KindBackendRejected, "Media relay returned an invalid answer", err)
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return domain.NegotiationResult{}, n.failed(ctx, "Could not apply relay answer", err)
	}
	metrics.NegotiationSeconds.Observe(time.Since(start).Seconds())

	return domain.NegotiationResult{
		CallID:            n.callID,
		LocalDescription:  domain.SessionDescription{Type: domain.SDPOffer, SDP: local.SDP},
		RemoteDescription: domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP},
		RelayConfirmation: answer,
		Partial:           partial,
		Candidates:        candidates,
	}, nil
}

// Release stops capture, closes the peer connection and flushes the sinks.
func (n *Negotiator) Release() {
	n.mu.Lock()
	if n.released {
		n.mu.Unlock()
		return
	}
	n.released = true
	capture, pc, sinks := n.capture, n.pc, n.sinks
	n.sinks = nil
	n.mu.Unlock()

	if capture != nil {
		if err := capture.Close(); err != nil {
			n.log.Warn().Err(err).Msg("Error stopping capture")
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			n.log.Warn().Err(err).Msg("Error closing peer connection")
		}
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			n.log.Warn().Err(err).Msg("Error closing sink")
		}
	}
	n.log.Debug().Msg("Media released")
}

func (n *Negotiator) hold(fn func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.released {
		return false
	}
	fn()
	return true
}

func (n *Negotiator) play(remote *webrtc.TrackRemote) {
	s, err := n.engine.cfg.Sinks(n.callID, remote.Codec())
	if err != nil {
		n.log.Error().Err(err).Msg("Cannot open audio sink, discarding remote audio")
		s = discardSink{}
	}
	sink := &guardedSink{sink: s}
	if !n.hold(func() { n.sinks = append(n.sinks, sink) }) {
		sink.Close()
		return
	}

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err := sink.WriteRTP(pkt); err != nil {
			return
		}
	}
}

// failed reports a pion error, or the cancellation that caused it.
func (n *Negotiator) failed(ctx context.Context, reason string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.NewCallError(domain.KindMediaUnavailable, reason, err)
}

func countCandidates(raw string) int {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return 0
	}
	n := 0
	for _, a := range sd.Attributes {
		if a.Key == "candidate" {
			n++
		}
	}
	for _, md := range sd.MediaDescriptions {
		for _, a := range md.Attributes {
			if a.Key == "candidate" {
				n++
			}
		}
	}
	return n
}

func validateAnswer(raw string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return err
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return nil
		}
	}
	return errors.New("answer has no audio section")
}
