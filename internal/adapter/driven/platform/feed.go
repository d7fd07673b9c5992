package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/metrics"
)

type FeedConfig struct {
	URL            string
	APIKey         string
	ReconnectDelay time.Duration
}

// Feed implements port.NotificationFeed over the platform's realtime
// websocket. It reconnects until closed.
type Feed struct {
	cfg    FeedConfig
	dialer *websocket.Dialer
	out    chan domain.Notification
	closed core.Fuse
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Feed{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		out: make(chan domain.Notification, 16),
	}
}

func (f *Feed) Notifications() <-chan domain.Notification {
	return f.out
}

func (f *Feed) Close() {
	f.closed.Break()
}

// Run keeps one connection open at a time and closes the notification
// channel when it returns.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)
	for {
		err := f.session(ctx)
		if ctx.Err() != nil || f.closed.IsBroken() {
			return nil
		}
		log.Warn().Err(err).Dur("retry_in", f.cfg.ReconnectDelay).Msg("Realtime feed disconnected")

		select {
		case <-time.After(f.cfg.ReconnectDelay):
		case <-ctx.Done():
			return nil
		case <-f.closed.Watch():
			return nil
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-API-Key", f.cfg.APIKey)

	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial realtime feed: %w", err)
	}
	defer conn.Close()
	log.Info().Str("url", f.cfg.URL).Msg("Realtime feed connected")

	conn.SetPingHandler(func(data string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.closed.Watch():
		case <-done:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		n, ok := decodeEvent(data)
		if !ok {
			continue
		}
		select {
		case f.out <- n:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed.Watch():
			return nil
		}
	}
}

func decodeEvent(data []byte) (domain.Notification, bool) {
	var ev eventDTO
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed realtime event")
		return domain.Notification{}, false
	}

	switch ev.Event {
	case "incoming-call", "incoming_whatsapp_call":
		var dto incomingDTO
		if err := json.Unmarshal(ev.Data, &dto); err != nil || dto.CallID == "" {
			log.Warn().Err(err).Str("event", ev.Event).Msg("Dropping incoming call without call id")
			metrics.Notifications.WithLabelValues(ev.Event, "dropped").Inc()
			return domain.Notification{}, false
		}
		return domain.Notification{
			Kind: domain.NotificationIncomingCall,
			Incoming: domain.IncomingCall{
				CallID:      domain.CallID(dto.CallID),
				FromNumber:  dto.FromNumber,
				ContactName: dto.ContactName,
			},
		}, true

	case "call-status-changed", "call_status_update":
		var dto statusDTO
		if err := json.Unmarshal(ev.Data, &dto); err != nil {
			log.Warn().Err(err).Str("event", ev.Event).Msg("Dropping malformed status event")
			metrics.Notifications.WithLabelValues(ev.Event, "dropped").Inc()
			return domain.Notification{}, false
		}
		st, err := domain.ParseCallStatus(dto.Status)
		if err != nil {
			log.Debug().Str("call_id", dto.CallID).Str("status", dto.Status).Msg("Ignoring status")
			metrics.Notifications.WithLabelValues(ev.Event, "dropped").Inc()
			return domain.Notification{}, false
		}
		return domain.Notification{
			Kind:   domain.NotificationStatusChange,
			Status: domain.StatusChange{CallID: domain.CallID(dto.CallID), Status: st},
		}, true
	}

	log.Debug().Str("event", ev.Event).Msg("Ignoring realtime event")
	metrics.Notifications.WithLabelValues(ev.Event, "unknown").Inc()
	return domain.Notification{}, false
}
