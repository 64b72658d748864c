package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypePress   = "PRESS"
	TypeAck     = "ACK"
	TypeFrame   = "FRAME"
)

// Button identifiers accepted in PRESS messages.
const (
	ButtonUp   = "UP"
	ButtonDown = "DOWN"
	ButtonStop = "STOP"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func ValidButton(b string) bool {
	switch b {
	case ButtonUp, ButtonDown, ButtonStop:
		return true
	}
	return false
}
