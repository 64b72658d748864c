package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	PanelParams     PanelParams `json:"panel_params"`
}

// PanelParams describes the running simulation so clients can interpret the
// frame stream.
type PanelParams struct {
	PanelID    string `json:"panel_id"`
	FastTickHz int    `json:"fast_tick_hz"`
	SlowTickHz int    `json:"slow_tick_hz"`
	Digits     int    `json:"digits"`
	FloorBits  int    `json:"floor_bits"`
}

// PRESS (client -> server): a cabin button input.
type PressMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Button          string `json:"button"`
}

// ACK (server -> client): outcome of a PRESS.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// FRAME (server -> client): one display refresh tick.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Floor           uint8  `json:"floor"`
	Tens            uint8  `json:"tens"`
	Ones            uint8  `json:"ones"`
	Slot            string `json:"slot"` // "TENS" or "ONES"
	SlotIndex       int    `json:"slot_index"`
	Digit           uint8  `json:"digit"`
	Anodes          uint8  `json:"anodes"`   // 4-bit active-low enable vector
	Segments        uint8  `json:"segments"` // gfedcba, set bit = lit
	Reset           bool   `json:"reset,omitempty"`
	Digest          string `json:"digest"`
}
