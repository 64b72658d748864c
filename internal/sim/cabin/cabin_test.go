package cabin

import (
	"testing"

	"liftpanel.dev/internal/protocol"
	"liftpanel.dev/internal/sim/display"
	"liftpanel.dev/internal/sim/floor"
)

func press(t *testing.T, m *Machine, button string) Result {
	t.Helper()
	resp := make(chan Result, 1)
	m.handleCommand(Command{SessionID: "S1", Button: button, Resp: resp})
	return <-resp
}

func TestMachine_MovesAndWraps(t *testing.T) {
	var h floor.Holder
	m := New(Config{InitialFloor: 14}, &h)

	if res := press(t, m, protocol.ButtonUp); !res.Accepted {
		t.Fatalf("UP rejected: %+v", res)
	}
	m.StepOnce()
	if got := h.Floor(); got != 15 {
		t.Fatalf("floor = %d, want 15", got)
	}
	// 4-bit register wraps; code 0 is the state the display renders as "16".
	m.StepOnce()
	if got := h.Floor(); got != 0 {
		t.Fatalf("floor = %d, want 0 (wrap)", got)
	}
	m.StepOnce()
	if got := h.Floor(); got != 1 {
		t.Fatalf("floor = %d, want 1", got)
	}
}

func TestMachine_StopHoldsRegister(t *testing.T) {
	var h floor.Holder
	m := New(Config{InitialFloor: 5}, &h)

	press(t, m, protocol.ButtonDown)
	m.StepOnce()
	if got := h.Floor(); got != 4 {
		t.Fatalf("floor = %d, want 4", got)
	}

	press(t, m, protocol.ButtonStop)
	for i := 0; i < 3; i++ {
		m.StepOnce()
	}
	if got := h.Floor(); got != 4 {
		t.Fatalf("floor = %d after STOP, want 4", got)
	}

	press(t, m, protocol.ButtonDown)
	m.StepOnce()
	m.StepOnce()
	if got := h.Floor(); got != 2 {
		t.Fatalf("floor = %d, want 2", got)
	}
}

func TestMachine_DownWrapsThroughZero(t *testing.T) {
	var h floor.Holder
	m := New(Config{InitialFloor: 1}, &h)
	press(t, m, protocol.ButtonDown)
	m.StepOnce()
	m.StepOnce()
	if got := h.Floor(); got != 15 {
		t.Fatalf("floor = %d, want 15 (wrap below 0)", got)
	}
}

func TestMachine_RejectsUnknownButton(t *testing.T) {
	var h floor.Holder
	m := New(Config{}, &h)
	res := press(t, m, "OPEN_DOOR")
	if res.Accepted || res.Code != protocol.ErrBadRequest {
		t.Fatalf("result = %+v, want E_BAD_REQUEST", res)
	}
}

func TestMachine_PressRateLimit(t *testing.T) {
	var h floor.Holder
	m := New(Config{PressWindowTicks: 10, PressMax: 2}, &h)

	if res := press(t, m, protocol.ButtonUp); !res.Accepted {
		t.Fatalf("press 1 rejected: %+v", res)
	}
	if res := press(t, m, protocol.ButtonDown); !res.Accepted {
		t.Fatalf("press 2 rejected: %+v", res)
	}
	if res := press(t, m, protocol.ButtonStop); res.Accepted || res.Code != protocol.ErrRateLimit {
		t.Fatalf("press 3 = %+v, want E_RATE_LIMIT", res)
	}

	// Window slides with slow ticks.
	for i := 0; i < 11; i++ {
		m.StepOnce()
	}
	if res := press(t, m, protocol.ButtonStop); !res.Accepted {
		t.Fatalf("press after window rejected: %+v", res)
	}
}

func TestMachine_PressLogging(t *testing.T) {
	var h floor.Holder
	m := New(Config{}, &h)
	var got []PressLogEntry
	m.SetPressLogger(pressLogFunc(func(e PressLogEntry) error {
		got = append(got, e)
		return nil
	}))

	press(t, m, protocol.ButtonUp)
	press(t, m, "BOGUS")

	if len(got) != 2 {
		t.Fatalf("logged %d entries, want 2", len(got))
	}
	if !got[0].Accepted || got[0].Button != "UP" {
		t.Fatalf("entry 0 = %+v", got[0])
	}
	if got[1].Accepted || got[1].Code != protocol.ErrBadRequest {
		t.Fatalf("entry 1 = %+v", got[1])
	}
}

func TestMachine_ImportState(t *testing.T) {
	var h floor.Holder
	m := New(Config{}, &h)
	m.ImportState(State{Tick: 40, Floor: 9, Direction: DirUp})

	st := m.CurrentState()
	if st.Tick != 40 || st.Floor != 9 || st.Direction != DirUp {
		t.Fatalf("state = %+v", st)
	}
	m.StepOnce()
	if got := h.Floor(); got != display.FloorCode(10) {
		t.Fatalf("floor = %d, want 10", got)
	}
}

type pressLogFunc func(PressLogEntry) error

func (f pressLogFunc) WritePress(e PressLogEntry) error { return f(e) }
