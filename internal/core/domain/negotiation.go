package domain

// ICEServer is one relay/traversal server handed out by the backend.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username"`
	Credential string   `json:"credential,omitempty" yaml:"credential"`
}

// RelayEndpoint is the per-call media relay connection info.
type RelayEndpoint struct {
	URL        string
	ICEServers []ICEServer
}

// CallGrant is what the backend returns once a call exists server-side.
type CallGrant struct {
	CallID CallID
	Relay  RelayEndpoint
}

// RelayAnswer is the relay's reply to our offer, forwarded by the backend.
type RelayAnswer struct {
	SDP  string
	Room string
}

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType
	SDP  string
}

// NegotiationResult is the transient outcome of one offer/answer exchange.
type NegotiationResult struct {
	CallID            CallID
	LocalDescription  SessionDescription
	RemoteDescription SessionDescription
	RelayConfirmation RelayAnswer

	// Partial is set when candidate discovery was cut off by the gathering
	// timeout and the offer went out with whatever had been found.
	Partial    bool
	Candidates int
}
