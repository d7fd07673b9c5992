package pion

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
)

type Config struct {
	Source Source
	Sinks  SinkFactory
	// ICEServers is used when the relay endpoint carries none.
	ICEServers    []domain.ICEServer
	GatherTimeout time.Duration
}

// Engine implements port.NegotiatorFactory. One webrtc.API is shared by
// every call.
type Engine struct {
	api *webrtc.API
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("media engine: no capture source")
	}
	if cfg.Sinks == nil {
		cfg.Sinks = Discard()
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5 * time.Second
	}

	m := &webrtc.MediaEngine{}
	if err := cfg.Source.RegisterCodecs(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &Engine{api: api, cfg: cfg}, nil
}

func (e *Engine) NewNegotiator(callID domain.CallID) port.MediaNegotiator {
	return &Negotiator{
		engine: e,
		callID: callID,
		log:    log.With().Str("call_id", callID.String()).Logger(),
	}
}

func (e *Engine) iceServers(relay domain.RelayEndpoint) []webrtc.ICEServer {
	servers := relay.ICEServers
	if len(servers) == 0 {
		servers = e.cfg.ICEServers
	}
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}
