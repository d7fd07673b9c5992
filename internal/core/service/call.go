package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/frostbyte73/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
	"github.com/Wyydra/wacall/internal/metrics"
)

var ErrEmptyNumber = errors.New("peer number cannot be empty")

type CallOptions struct {
	// BackendTimeout bounds every round trip to the call-control backend.
	BackendTimeout time.Duration
	// GracePeriod is how long Ended stays visible before the slot resets to Idle.
	GracePeriod time.Duration
	// TickInterval is the cadence of elapsed-time snapshots while Active.
	TickInterval time.Duration
}

func DefaultCallOptions() CallOptions {
	return CallOptions{
		BackendTimeout: 20 * time.Second,
		GracePeriod:    2 * time.Second,
		TickInterval:   time.Second,
	}
}

// CallService drives at most one call through its lifecycle. All session
// state is owned by the goroutine running Run; every other method only
// enqueues work for it.
type CallService struct {
	gateway   port.SignalingGateway
	media     port.NegotiatorFactory
	presenter port.Presenter
	opts      CallOptions
	now       func() time.Time

	commands chan func()
	results  chan func()
	quit     core.Fuse
	stopped  core.Fuse

	// owned by the run loop
	runCtx     context.Context
	sess       *callSlot
	generation uint64
	ticker     *time.Ticker
	grace      *time.Timer
}

type callSlot struct {
	*domain.CallSession
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	engine port.MediaNegotiator
	log    zerolog.Logger

	// pending is set while a dial is between its permission check and placeCall reply.
	pending        bool
	answering      bool
	remoteAnswered bool
	waiter         chan error
}

func (c *callSlot) resolve(err error) {
	if c.waiter == nil {
		return
	}
	c.waiter <- err
	c.waiter = nil
}

func (c *callSlot) withCallID(id domain.CallID) {
	c.CallID = id
	c.log = c.log.With().Str("call_id", id.String()).Logger()
}

func NewCallService(gateway port.SignalingGateway, media port.NegotiatorFactory, presenter port.Presenter, opts CallOptions) *CallService {
	def := DefaultCallOptions()
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = def.BackendTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = def.GracePeriod
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	return &CallService{
		gateway:   gateway,
		media:     media,
		presenter: presenter,
		opts:      opts,
		now:       time.Now,
		commands:  make(chan func(), 64),
		results:   make(chan func(), 16),
	}
}

// Run processes commands, notifications and asynchronous results one at a
// time until ctx is done or Stop is called.
func (s *CallService) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.stopped.Break()

	s.runCtx = ctx
	s.publish(domain.IdleSnapshot())
	log.Info().Msg("Call service started")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.quit.Watch():
			s.shutdown()
			return nil
		case fn := <-s.commands:
			fn()
		case fn := <-s.results:
			fn()
		case <-s.tickC():
			s.onTick()
		case <-s.graceC():
			s.onGraceExpired()
		}
	}
}

func (s *CallService) Stop() {
	s.quit.Break()
}

// Done is closed once Run has returned and the session has been released.
func (s *CallService) Done() <-chan struct{} {
	return s.stopped.Watch()
}

// Dial starts an outbound call. It returns once the backend has accepted
// or refused the call; media negotiation continues in the background.
func (s *CallService) Dial(ctx context.Context, peerNumber, reference string) error {
	peerNumber = strings.TrimSpace(peerNumber)
	if peerNumber == "" {
		return ErrEmptyNumber
	}
	reply := make(chan error, 1)
	if err := s.enqueue(ctx, func() { s.startDial(peerNumber, reference, reply) }); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

// Answer accepts the pending inbound call and returns once it is Active or
// has failed.
func (s *CallService) Answer(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.enqueue(ctx, func() { s.startAnswer(reply) }); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

func (s *CallService) EndCall(ctx context.Context) error {
	return s.do(ctx, func() error { return s.hangup(false) })
}

func (s *CallService) Decline(ctx context.Context) error {
	return s.do(ctx, func() error { return s.hangup(true) })
}

// RequestPermission asks the platform to obtain call permission from
// peerNumber. It does not touch the call slot.
func (s *CallService) RequestPermission(ctx context.Context, peerNumber, reference string) (domain.PermissionRequest, error) {
	peerNumber = strings.TrimSpace(peerNumber)
	if peerNumber == "" {
		return domain.PermissionRequest{}, ErrEmptyNumber
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.BackendTimeout)
	defer cancel()
	res, err := s.gateway.RequestPermission(ctx, peerNumber, reference)
	if err != nil {
		return domain.PermissionRequest{}, classify(err)
	}
	log.Info().Str("peer", peerNumber).Bool("accepted", res.Accepted).Msg("Permission requested")
	return res, nil
}

func (s *CallService) HandleIncomingCall(ctx context.Context, ev domain.IncomingCall) error {
	return s.enqueue(ctx, func() { s.applyIncoming(ev) })
}

func (s *CallService) HandleStatusChange(ctx context.Context, ev domain.StatusChange) error {
	return s.enqueue(ctx, func() { s.applyStatus(ev) })
}

func (s *CallService) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	reply := make(chan domain.Snapshot, 1)
	if err := s.enqueue(ctx, func() { reply <- s.current() }); err != nil {
		return domain.Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case <-s.stopped.Watch():
		return domain.Snapshot{}, domain.ErrServiceStopped
	}
}

func (s *CallService) enqueue(ctx context.Context, fn func()) error {
	if s.stopped.IsBroken() {
		return domain.ErrServiceStopped
	}
	select {
	case s.commands <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped.Watch():
		return domain.ErrServiceStopped
	}
}

func (s *CallService) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped.Watch():
		return domain.ErrServiceStopped
	}
}

func (s *CallService) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if err := s.enqueue(ctx, func() { reply <- fn() }); err != nil {
		return err
	}
	return s.await(ctx, reply)
}

// post hands an asynchronous continuation back to the run loop.
func (s *CallService) post(fn func()) {
	select {
	case s.results <- fn:
	case <-s.stopped.Watch():
	}
}

func (s *CallService) newSlot(sess *domain.CallSession) *callSlot {
	s.generation++
	ctx, cancel := context.WithCancel(s.runCtx)
	slot := &callSlot{
		CallSession: sess,
		gen:         s.generation,
		ctx:         ctx,
		cancel:      cancel,
		log: log.With().
			Str("session_id", sess.ID.String()).
			Str("direction", sess.Direction.String()).
			Str("peer", sess.PeerNumber).
			Logger(),
	}
	if !sess.CallID.IsZero() {
		slot.withCallID(sess.CallID)
	}
	s.sess = slot
	return slot
}

func (s *CallService) isCurrent(slot *callSlot) bool {
	return s.sess != nil && s.sess == slot && s.sess.gen == slot.gen
}

func (s *CallService) startDial(peerNumber, reference string, reply chan error) {
	if s.sess != nil {
		reply <- domain.NewCallError(domain.KindSessionBusy, "another call is in progress", nil)
		return
	}
	slot := s.newSlot(domain.NewOutboundSession(peerNumber, reference))
	slot.pending = true
	slot.waiter = reply
	slot.log.Info().Msg("Dialing")

	go func() {
		ctx, cancel := context.WithTimeout(slot.ctx, s.opts.BackendTimeout)
		perm, err := s.gateway.CheckPermission(ctx, peerNumber)
		cancel()
		if err != nil {
			s.post(func() { s.finishDial(slot, domain.CallGrant{}, err) })
			return
		}
		if !perm.Allowed {
			s.post(func() { s.denyDial(slot, perm.Reason) })
			return
		}

		ctx, cancel = context.WithTimeout(slot.ctx, s.opts.BackendTimeout)
		grant, err := s.gateway.PlaceCall(ctx, peerNumber, reference)
		cancel()
		s.post(func() { s.finishDial(slot, grant, err) })
	}()
}

func (s *CallService) denyDial(slot *callSlot, reason string) {
	if !s.isCurrent(slot) {
		return
	}
	if reason == "" {
		reason = "Permission required"
	}
	slot.cancel()
	s.sess = nil
	slot.log.Info().Str("reason", reason).Msg("Dial refused, permission required")

	snap := domain.IdleSnapshot()
	snap.PeerNumber = slot.PeerNumber
	snap.PermissionOffer = true
	snap.Reason = reason
	s.publish(snap)
	slot.resolve(domain.NewCallError(domain.KindPermissionDenied, reason, nil))
}

func (s *CallService) finishDial(slot *callSlot, grant domain.CallGrant, err error) {
	if !s.isCurrent(slot) {
		if err == nil && !grant.CallID.IsZero() {
			go s.terminateBackend(slot.log, grant.CallID)
		}
		return
	}
	slot.pending = false
	if err != nil {
		err = classify(err)
		slot.log.Warn().Err(err).Msg("Dial failed")
		s.end(slot, "failed", domain.Describe(err), false, err)
		return
	}

	slot.withCallID(grant.CallID)
	slot.SetRelay(grant.Relay)
	if !s.transition(slot, domain.StateConnecting, "Connecting...") {
		return
	}
	metrics.CallsStarted.WithLabelValues(slot.Direction.String()).Inc()
	slot.resolve(nil)
	s.startNegotiation(slot, grant.Relay)
}

func (s *CallService) startNegotiation(slot *callSlot, relay domain.RelayEndpoint) {
	engine := s.media.NewNegotiator(slot.CallID)
	slot.engine = engine
	callID := slot.CallID

	go func() {
		res, err := engine.Negotiate(slot.ctx, relay, s.submitter(callID))
		s.post(func() { s.finishNegotiation(slot, callID, res, err) })
	}()
}

func (s *CallService) submitter(callID domain.CallID) port.OfferSubmitter {
	return func(ctx context.Context, localSDP string) (domain.RelayAnswer, error) {
		ctx, cancel := context.WithTimeout(ctx, s.opts.BackendTimeout)
		defer cancel()
		return s.gateway.RelayOffer(ctx, callID, localSDP)
	}
}

func (s *CallService) startAnswer(reply chan error) {
	slot := s.sess
	if slot == nil || slot.pending {
		reply <- domain.NewCallError(domain.KindNoActiveCall, "no incoming call to answer", nil)
		return
	}
	if slot.Direction != domain.DirectionInbound || slot.State != domain.StateConnecting || slot.answering {
		reply <- domain.NewCallError(domain.KindInvalidTransition, "answer is only valid for an unanswered incoming call", nil)
		return
	}
	slot.answering = true
	slot.waiter = reply
	slot.Message = "Connecting..."
	s.publish(slot.Snapshot(s.now()))
	slot.log.Info().Msg("Answering")

	engine := s.media.NewNegotiator(slot.CallID)
	slot.engine = engine
	callID := slot.CallID

	go func() {
		ctx, cancel := context.WithTimeout(slot.ctx, s.opts.BackendTimeout)
		grant, err := s.gateway.AcceptCall(ctx, callID)
		cancel()
		if err != nil {
			s.post(func() { s.finishNegotiation(slot, callID, domain.NegotiationResult{}, err) })
			return
		}
		s.post(func() {
			if s.isCurrent(slot) {
				slot.SetRelay(grant.Relay)
			}
		})
		res, err := engine.Negotiate(slot.ctx, grant.Relay, s.submitter(callID))
		s.post(func() { s.finishNegotiation(slot, callID, res, err) })
	}()
}

func (s *CallService) finishNegotiation(slot *callSlot, callID domain.CallID, res domain.NegotiationResult, err error) {
	if !s.isCurrent(slot) || slot.State.IsTerminal() || slot.CallID != callID {
		slot.log.Debug().Err(err).Msg("Discarding stale negotiation result")
		return
	}
	if err == nil && res.CallID != callID {
		slot.log.Warn().Str("result_call_id", res.CallID.String()).Msg("Discarding negotiation result for another call")
		return
	}
	if err != nil {
		err = classify(err)
		slot.log.Warn().Err(err).Msg("Negotiation failed")
		s.end(slot, "failed", domain.Describe(err), true, err)
		return
	}

	slot.log.Info().Bool("partial_ice", res.Partial).Int("candidates", res.Candidates).Msg("Media negotiated")
	if slot.Direction == domain.DirectionInbound {
		if s.transition(slot, domain.StateActive, "Connected") {
			metrics.CallsStarted.WithLabelValues(slot.Direction.String()).Inc()
			s.startTicker()
		}
		slot.resolve(nil)
		return
	}
	if slot.remoteAnswered {
		if s.transition(slot, domain.StateActive, "Connected") {
			s.startTicker()
		}
		return
	}
	s.transition(slot, domain.StateRinging, "Ringing...")
}

func (s *CallService) hangup(decline bool) error {
	slot := s.sess
	if slot == nil || slot.State == domain.StateIdle {
		return domain.NewCallError(domain.KindNoActiveCall, "no call to end", nil)
	}
	if slot.State.IsTerminal() {
		return nil
	}
	if decline {
		if slot.Direction != domain.DirectionInbound || slot.State != domain.StateConnecting {
			return domain.NewCallError(domain.KindInvalidTransition, "only an unanswered incoming call can be declined", nil)
		}
		s.end(slot, "declined", "Call declined", true, nil)
		return nil
	}
	s.end(slot, "local", "Call ended", true, nil)
	return nil
}

func (s *CallService) applyIncoming(ev domain.IncomingCall) {
	if ev.CallID.IsZero() {
		log.Warn().Str("from", ev.FromNumber).Msg("Ignoring incoming call without call id")
		metrics.Notifications.WithLabelValues(string(domain.NotificationIncomingCall), "invalid").Inc()
		return
	}
	if s.sess != nil {
		log.Info().
			Str("call_id", ev.CallID.String()).
			Str("from", ev.FromNumber).
			Str("current_state", s.sess.State.String()).
			Msg("Dropping incoming call, line busy")
		metrics.Notifications.WithLabelValues(string(domain.NotificationIncomingCall), "busy").Inc()
		return
	}
	slot := s.newSlot(domain.NewInboundSession(ev))
	metrics.Notifications.WithLabelValues(string(domain.NotificationIncomingCall), "applied").Inc()
	s.transition(slot, domain.StateConnecting, "Incoming call...")
}

func (s *CallService) applyStatus(ev domain.StatusChange) {
	event := string(domain.NotificationStatusChange)
	slot := s.sess
	if slot == nil || slot.CallID.IsZero() || slot.CallID != ev.CallID {
		log.Debug().Str("call_id", ev.CallID.String()).Str("status", string(ev.Status)).Msg("Discarding status for another call")
		metrics.Notifications.WithLabelValues(event, "stale").Inc()
		return
	}
	metrics.Notifications.WithLabelValues(event, "applied").Inc()
	slot.log.Info().Str("status", string(ev.Status)).Str("state", slot.State.String()).Msg("Call status changed")

	switch {
	case ev.Status == domain.StatusAnswered:
		switch {
		case slot.State == domain.StateRinging:
			if s.transition(slot, domain.StateActive, "Connected") {
				s.startTicker()
			}
		case slot.State == domain.StateConnecting && slot.Direction == domain.DirectionOutbound:
			slot.remoteAnswered = true
		}
	case ev.Status.IsTerminal():
		if slot.State.IsLive() {
			s.end(slot, "remote", string(ev.Status), false, nil)
		}
	}
}

// end moves slot to Ended and releases everything it holds. It is a no-op
// once the slot is already Ended.
func (s *CallService) end(slot *callSlot, cause, message string, notifyBackend bool, err error) {
	if slot.State.IsTerminal() {
		return
	}
	slot.cancel()
	if slot.engine != nil {
		slot.engine.Release()
		slot.engine = nil
	}
	s.stopTicker()
	if notifyBackend && !slot.CallID.IsZero() {
		go s.terminateBackend(slot.log, slot.CallID)
	}

	s.transition(slot, domain.StateEnded, message)
	metrics.CallsEnded.WithLabelValues(cause).Inc()

	if err == nil {
		err = domain.NewCallError(domain.KindNoActiveCall, message, nil)
	}
	slot.resolve(err)
	s.armGrace()
}

// terminateBackend is best effort; local teardown never waits for it.
func (s *CallService) terminateBackend(l zerolog.Logger, callID domain.CallID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.BackendTimeout)
	defer cancel()
	if err := s.gateway.TerminateCall(ctx, callID); err != nil {
		l.Warn().Err(err).Msg("Terminate call failed")
		return
	}
	l.Debug().Msg("Terminate call acknowledged")
}

func (s *CallService) transition(slot *callSlot, next domain.CallState, message string) bool {
	from := slot.State
	if err := slot.Transition(next, s.now()); err != nil {
		slot.log.Warn().Err(err).Msg("Rejected transition")
		return false
	}
	slot.Message = message
	slot.log.Info().Str("from", from.String()).Str("to", next.String()).Msg("Call state changed")
	s.publish(slot.Snapshot(s.now()))
	return true
}

func (s *CallService) current() domain.Snapshot {
	if s.sess == nil || s.sess.State == domain.StateIdle {
		return domain.IdleSnapshot()
	}
	return s.sess.Snapshot(s.now())
}

func (s *CallService) publish(snap domain.Snapshot) {
	if s.presenter != nil {
		s.presenter.Publish(snap)
	}
}

func (s *CallService) startTicker() {
	s.stopTicker()
	s.ticker = time.NewTicker(s.opts.TickInterval)
}

func (s *CallService) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *CallService) tickC() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C
}

func (s *CallService) onTick() {
	if s.sess != nil && s.sess.State == domain.StateActive {
		s.publish(s.sess.Snapshot(s.now()))
	}
}

func (s *CallService) armGrace() {
	if s.grace != nil {
		s.grace.Stop()
	}
	s.grace = time.NewTimer(s.opts.GracePeriod)
}

func (s *CallService) graceC() <-chan time.Time {
	if s.grace == nil {
		return nil
	}
	return s.grace.C
}

func (s *CallService) onGraceExpired() {
	s.grace = nil
	slot := s.sess
	if slot == nil || !slot.State.IsTerminal() {
		return
	}
	_ = slot.Transition(domain.StateIdle, s.now())
	s.sess = nil
	slot.log.Info().Msg("Call slot reset")
	s.publish(domain.IdleSnapshot())
}

func (s *CallService) shutdown() {
	s.stopTicker()
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	slot := s.sess
	if slot == nil {
		return
	}
	switch {
	case slot.pending:
		slot.cancel()
		slot.resolve(domain.ErrServiceStopped)
	case slot.State.IsLive():
		s.end(slot, "shutdown", "Call ended", true, domain.ErrServiceStopped)
		s.stopTicker()
		if s.grace != nil {
			s.grace.Stop()
			s.grace = nil
		}
	}
	s.sess = nil
	log.Info().Msg("Call service stopped")
}

func classify(err error) error {
	if domain.ErrorKindOf(err) != domain.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCallError(domain.KindBackendUnavailable, "Request timed out. Please try again.", err)
	}
	return domain.NewCallError(domain.KindUnknown, "Call failed", err)
}
