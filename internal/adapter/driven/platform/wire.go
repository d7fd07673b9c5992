package platform

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Wyydra/wacall/internal/core/domain"
)

// status is the common part of every platform reply.
type status struct {
	Success   *bool           `json:"success"`
	Message   json.RawMessage `json:"message"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
	Reason    string          `json:"reason"`
}

func (s status) text() string {
	var msg string
	if len(s.Message) > 0 && json.Unmarshal(s.Message, &msg) == nil && msg != "" {
		return msg
	}
	for _, t := range []string{s.Error, s.Reason} {
		if t != "" {
			return t
		}
	}
	return ""
}

// iceServer accepts both `"stun:host"` and `{"urls": ..., "username": ...}`,
// where urls may itself be a string or a list.
type iceServer domain.ICEServer

func (s *iceServer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var u string
		if err := json.Unmarshal(b, &u); err != nil {
			return err
		}
		s.URLs = []string{u}
		return nil
	}
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		URL        string          `json:"url"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Username = raw.Username
	s.Credential = raw.Credential
	if len(raw.URLs) > 0 {
		var one string
		if json.Unmarshal(raw.URLs, &one) == nil {
			s.URLs = []string{one}
		} else if err := json.Unmarshal(raw.URLs, &s.URLs); err != nil {
			return err
		}
	}
	if raw.URL != "" {
		s.URLs = append(s.URLs, raw.URL)
	}
	return nil
}

func toDomainServers(in []iceServer) []domain.ICEServer {
	out := make([]domain.ICEServer, 0, len(in))
	for _, s := range in {
		if len(s.URLs) == 0 {
			continue
		}
		out = append(out, domain.ICEServer(s))
	}
	return out
}

type relayDTO struct {
	WSURL      string      `json:"ws_url"`
	ICEServers []iceServer `json:"ice_servers"`
}

type grantDTO struct {
	CallID string `json:"call_id"`
	Call   struct {
		CallID string `json:"call_id"`
	} `json:"call"`
	Relay *relayDTO `json:"relay"`
	Janus *relayDTO `json:"janus"`
}

func (g grantDTO) grant() domain.CallGrant {
	id := g.Call.CallID
	if id == "" {
		id = g.CallID
	}
	relay := g.Relay
	if relay == nil {
		relay = g.Janus
	}
	grant := domain.CallGrant{CallID: domain.CallID(id)}
	if relay != nil {
		grant.Relay = domain.RelayEndpoint{
			URL:        relay.WSURL,
			ICEServers: toDomainServers(relay.ICEServers),
		}
	}
	return grant
}

type permissionDTO struct {
	CanCall *bool  `json:"can_call"`
	Allowed *bool  `json:"allowed"`
	Reason  string `json:"reason"`
}

type offerDTO struct {
	Result struct {
		SDPAnswer string          `json:"sdp_answer"`
		Room      json.RawMessage `json:"room"`
	} `json:"result"`
}

func (o offerDTO) answer() domain.RelayAnswer {
	return domain.RelayAnswer{
		SDP:  o.Result.SDPAnswer,
		Room: strings.Trim(string(o.Result.Room), `"`),
	}
}

type iceServersDTO struct {
	ICEServers []iceServer `json:"ice_servers"`
}

// Wire shapes of the realtime feed.

type eventDTO struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type incomingDTO struct {
	CallID      string `json:"call_id"`
	FromNumber  string `json:"from_number"`
	ContactName string `json:"contact_name"`
}

type statusDTO struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}
