package display

// Slot identifies which digit owns the shared decoder for the current refresh
// tick. The physical selector is a 4-way primitive but only two inputs are
// wired; the unused indices are not representable here so tests never see
// unreachable states.
type Slot uint8

const (
	SlotTens Slot = iota
	SlotOnes
)

func (s Slot) String() string {
	if s == SlotTens {
		return "TENS"
	}
	return "ONES"
}

// Index is the slot's position on the 4-way decoder: tens on 3, ones on 2.
// Indices 0 and 1 are reserved and never selected.
func (s Slot) Index() int {
	if s == SlotTens {
		return 3
	}
	return 2
}

// other is the round-robin successor. With two slots there is no priority and
// no starvation.
func (s Slot) other() Slot {
	if s == SlotTens {
		return SlotOnes
	}
	return SlotTens
}

// Multiplexer is the 2-slot round-robin scheduler for the shared display
// decoder. It owns its scheduling state exclusively; callers drive it one
// Step per fast tick. Not safe for concurrent use — the fast-domain loop is
// the only caller.
type Multiplexer struct {
	next Slot
}

// NewMultiplexer returns a multiplexer in its reset state: the first Step
// selects the tens slot.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{next: SlotTens}
}

// Step advances one refresh tick and returns the slot that owns the decoder
// for this tick.
func (m *Multiplexer) Step() Slot {
	s := m.next
	m.next = s.other()
	return s
}

// Peek returns the slot the next Step will select without advancing.
func (m *Multiplexer) Peek() Slot { return m.next }

// Reset forces the scheduler back to its initial state. The first Step after
// Reset selects the tens slot regardless of prior position. Reset does not
// interact with the tick source; ticks keep arriving while reset is held.
func (m *Multiplexer) Reset() { m.next = SlotTens }

// Select returns the digit value the given slot forwards to the decoder.
// The pair is sampled by the caller at tick time; a floor change between two
// consecutive ticks can make the displayed digits come from different floor
// values for one refresh cycle. That tearing window is part of the contract.
func Select(pair DigitPair, s Slot) uint8 {
	if s == SlotTens {
		return pair.Tens
	}
	return pair.Ones
}
