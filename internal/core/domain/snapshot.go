package domain

// Snapshot is the read-only view of the call slot handed to the
// presentation layer on every transition.
type Snapshot struct {
	State          CallState `json:"state"`
	Direction      string    `json:"direction,omitempty"`
	CallID         CallID    `json:"call_id,omitempty"`
	PeerNumber     string    `json:"peer_number,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	ElapsedSeconds *int      `json:"elapsed_seconds,omitempty"`
	Message        string    `json:"message,omitempty"`

	// PermissionOffer is set when a dial was refused for lack of permission
	// and the operator may request it.
	PermissionOffer bool   `json:"permission_offer,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func IdleSnapshot() Snapshot {
	return Snapshot{State: StateIdle}
}
