package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
	"github.com/Wyydra/wacall/internal/metrics"
)

// NotificationSink is the part of CallService the listener feeds.
type NotificationSink interface {
	HandleIncomingCall(ctx context.Context, ev domain.IncomingCall) error
	HandleStatusChange(ctx context.Context, ev domain.StatusChange) error
}

// NotificationListener forwards platform push events to the call service
// in the order the feed delivers them.
type NotificationListener struct {
	feed port.NotificationFeed
	sink NotificationSink
	quit chan struct{}
}

func NewNotificationListener(feed port.NotificationFeed, sink NotificationSink) *NotificationListener {
	return &NotificationListener{
		feed: feed,
		sink: sink,
		quit: make(chan struct{}),
	}
}

func (l *NotificationListener) Stop() {
	close(l.quit)
}

func (l *NotificationListener) Run(ctx context.Context) error {
	events := l.feed.Notifications()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping notification listener")
			return nil

		case <-l.quit:
			log.Info().Msg("Stopping notification listener")
			return nil

		case n, ok := <-events:
			if !ok {
				log.Info().Msg("Notification feed closed")
				return nil
			}
			if err := l.dispatch(ctx, n); err != nil {
				if domain.ErrorKindOf(err) == domain.KindServiceStopped {
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				log.Error().Err(err).Str("event", string(n.Kind)).Msg("Error dispatching notification")
			}
		}
	}
}

func (l *NotificationListener) dispatch(ctx context.Context, n domain.Notification) error {
	switch n.Kind {
	case domain.NotificationIncomingCall:
		log.Debug().
			Str("call_id", n.Incoming.CallID.String()).
			Str("from", n.Incoming.FromNumber).
			Msg("Incoming call notification")
		return l.sink.HandleIncomingCall(ctx, n.Incoming)

	case domain.NotificationStatusChange:
		log.Debug().
			Str("call_id", n.Status.CallID.String()).
			Str("status", string(n.Status.Status)).
			Msg("Call status notification")
		return l.sink.HandleStatusChange(ctx, n.Status)

	default:
		metrics.Notifications.WithLabelValues(string(n.Kind), "unknown").Inc()
		log.Warn().Str("event", string(n.Kind)).Msg("Ignoring unknown notification")
		return nil
	}
}
