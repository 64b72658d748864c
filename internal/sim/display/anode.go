package display

// AnodeVector is the 4-line active-low digit enable bus. A 0 bit turns the
// digit position on. Positions 0 and 1 are not wired to any digit source and
// stay off (1) permanently.
type AnodeVector uint8

const (
	anodeAllOff AnodeVector = 0x0F
	anodeOnes   AnodeVector = 1 << 2
	anodeTens   AnodeVector = 1 << 3
)

// AnodeFor returns the enable vector for the slot that owns the current tick:
// exactly one of positions {2,3} low, positions {0,1} always high.
func AnodeFor(s Slot) AnodeVector {
	if s == SlotTens {
		return anodeAllOff &^ anodeTens
	}
	return anodeAllOff &^ anodeOnes
}

// Enabled reports whether digit position pos (0..3) is driven on.
func (v AnodeVector) Enabled(pos int) bool {
	return v&(1<<uint(pos)) == 0
}
