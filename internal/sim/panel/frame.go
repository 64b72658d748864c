package panel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"liftpanel.dev/internal/sim/display"
)

// Frame is the complete output of one display refresh tick: what the shared
// decoder saw, which anode line was driven, and the floor code the digits
// were derived from. Frames are the unit of logging, indexing and streaming.
type Frame struct {
	Tick      uint64 `json:"tick"`
	Floor     uint8  `json:"floor"`
	Tens      uint8  `json:"tens"`
	Ones      uint8  `json:"ones"`
	Slot      string `json:"slot"`
	SlotIndex int    `json:"slot_index"`
	Digit     uint8  `json:"digit"`
	Anodes    uint8  `json:"anodes"`
	Segments  uint8  `json:"segments"`
	Reset     bool   `json:"reset,omitempty"`
	Digest    string `json:"digest"`
}

// BuildFrame derives the full frame for one tick from the sampled floor code
// and the multiplexer's slot, including the digest.
func BuildFrame(tick uint64, fc display.FloorCode, slot display.Slot, enc display.SegmentEncoder, reset bool) Frame {
	pair := display.Decompose(fc)
	digit := display.Select(pair, slot)
	f := Frame{
		Tick:      tick,
		Floor:     uint8(fc) & display.FloorMask,
		Tens:      pair.Tens,
		Ones:      pair.Ones,
		Slot:      slot.String(),
		SlotIndex: slot.Index(),
		Digit:     digit,
		Anodes:    uint8(display.AnodeFor(slot)),
		Segments:  uint8(enc.Encode(digit)),
		Reset:     reset,
	}
	f.Digest = ComputeDigest(f)
	return f
}

// ComputeDigest hashes the frame's canonical encoding (all fields except the
// digest itself). Replay verification recomputes and compares.
func ComputeDigest(f Frame) string {
	s := fmt.Sprintf("%d|%d|%d|%d|%s|%d|%d|%d|%d|%t",
		f.Tick, f.Floor, f.Tens, f.Ones, f.Slot, f.SlotIndex, f.Digit, f.Anodes, f.Segments, f.Reset)
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
