package observerproto

import "liftpanel.dev/internal/protocol"

// Version is the observer protocol version (separate from the control WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Deliver every Nth refresh frame. 0 requests the server default; the
	// server clamps to its configured maximum.
	FrameEvery int `json:"frame_every,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string               `json:"protocol_version"`
	PanelID         string               `json:"panel_id"`
	Tick            uint64               `json:"tick"`
	PanelParams     protocol.PanelParams `json:"panel_params"`
}
