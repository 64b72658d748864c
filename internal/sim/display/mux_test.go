package display

import "testing"

func TestMultiplexer_Alternation(t *testing.T) {
	m := NewMultiplexer()
	want := []Slot{SlotTens, SlotOnes, SlotTens, SlotOnes, SlotTens, SlotOnes}
	for i, w := range want {
		if got := m.Step(); got != w {
			t.Fatalf("tick %d: slot = %v, want %v", i, got, w)
		}
	}
}

func TestMultiplexer_ResetMidCycle(t *testing.T) {
	m := NewMultiplexer()
	// Advance an odd number of ticks so the next slot would be ONES.
	for i := 0; i < 3; i++ {
		m.Step()
	}
	if m.Peek() != SlotOnes {
		t.Fatalf("setup: next slot = %v, want ONES", m.Peek())
	}

	m.Reset()
	if got := m.Step(); got != SlotTens {
		t.Fatalf("first step after reset = %v, want TENS", got)
	}
	if got := m.Step(); got != SlotOnes {
		t.Fatalf("second step after reset = %v, want ONES", got)
	}
}

func TestSlot_Index(t *testing.T) {
	if got := SlotTens.Index(); got != 3 {
		t.Errorf("SlotTens.Index() = %d, want 3", got)
	}
	if got := SlotOnes.Index(); got != 2 {
		t.Errorf("SlotOnes.Index() = %d, want 2", got)
	}
}

func TestSelect(t *testing.T) {
	pair := DigitPair{Tens: 1, Ones: 3}
	if got := Select(pair, SlotTens); got != 1 {
		t.Errorf("Select(tens) = %d, want 1", got)
	}
	if got := Select(pair, SlotOnes); got != 3 {
		t.Errorf("Select(ones) = %d, want 3", got)
	}
}

func TestAnodeFor_Invariants(t *testing.T) {
	for _, s := range []Slot{SlotTens, SlotOnes} {
		v := AnodeFor(s)
		if v.Enabled(0) || v.Enabled(1) {
			t.Errorf("slot %v: reserved positions 0/1 enabled (vector %04b)", s, v)
		}
		on2, on3 := v.Enabled(2), v.Enabled(3)
		if on2 == on3 {
			t.Errorf("slot %v: want exactly one of positions 2/3 enabled, got 2=%v 3=%v", s, on2, on3)
		}
	}
	if v := AnodeFor(SlotTens); !v.Enabled(3) {
		t.Errorf("tens slot must enable position 3, got %04b", v)
	}
	if v := AnodeFor(SlotOnes); !v.Enabled(2) {
		t.Errorf("ones slot must enable position 2, got %04b", v)
	}
}

func TestRomEncoder(t *testing.T) {
	var enc RomEncoder
	// Spot checks against the gfedcba ROM.
	if got := enc.Encode(0); got != 0x3F {
		t.Errorf("Encode(0) = %#02x, want 0x3f", got)
	}
	if got := enc.Encode(8); got != 0x7F {
		t.Errorf("Encode(8) = %#02x, want 0x7f", got)
	}
	if got := enc.Encode(12); got != 0 {
		t.Errorf("Encode(12) = %#02x, want blank", got)
	}
	if got := enc.Encode(1).Cathodes(); got != 0x79 {
		t.Errorf("Encode(1).Cathodes() = %#02x, want 0x79", got)
	}
}
