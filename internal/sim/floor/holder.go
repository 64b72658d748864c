// Package floor carries the floor register across the two clock domains.
//
// The slow domain (cabin machine) publishes; the fast domain (panel refresh)
// samples. There is deliberately no queue and no lock: only the latest value
// matters, the value is one atomic scalar so a racing read sees either the
// old or the new code in full, and the resulting one-cycle display tearing is
// an accepted property of the system.
package floor

import (
	"sync/atomic"

	"liftpanel.dev/internal/sim/display"
)

// Reader is the narrow view the fast domain gets of the floor register.
type Reader interface {
	Floor() display.FloorCode
}

// Holder is a single-slot last-write-wins cell for the 4-bit floor code.
// The zero value holds floor code 0.
type Holder struct {
	v atomic.Uint32
}

func (h *Holder) Floor() display.FloorCode {
	return display.FloorCode(h.v.Load()) & display.FloorMask
}

// Publish overwrites the held code. Values are masked to 4 bits.
func (h *Holder) Publish(f display.FloorCode) {
	h.v.Store(uint32(f) & display.FloorMask)
}
