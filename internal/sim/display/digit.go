// Package display implements the floor display core: decomposition of the
// 4-bit floor register into two decimal digits, the 2-slot refresh
// multiplexer, the anode enable driver and the segment encoder boundary.
package display

// FloorCode is the 4-bit floor register value. Producers must mask to 4 bits;
// Decompose masks defensively so all 16 codes are covered either way.
type FloorCode uint8

const FloorMask = 0x0F

// DigitPair is the decomposed two-digit reading for one frame. It is computed
// fresh on every evaluation and never cached across refresh ticks.
type DigitPair struct {
	Tens uint8
	Ones uint8
}

// Decompose maps a floor code to its display digits.
//
// The numbering is deliberately non-standard: the 16-value register wraps onto
// floors 1..16, so codes 10..15 remap to ones digits 0..5 under a tens=1
// prefix, and code 0 displays as floor "16" (tens=1, ones=6). Codes 1..9 pass
// through. This is the register's wraparound contract, not binary-to-BCD.
func Decompose(floor FloorCode) DigitPair {
	f := uint8(floor) & FloorMask
	switch {
	case f == 0:
		return DigitPair{Tens: 1, Ones: 6}
	case f >= 10:
		return DigitPair{Tens: 1, Ones: f - 10}
	default:
		return DigitPair{Tens: 0, Ones: f}
	}
}
