package panel

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"liftpanel.dev/internal/persistence/snapshot"
	"liftpanel.dev/internal/protocol"
	"liftpanel.dev/internal/sim/clock"
	"liftpanel.dev/internal/sim/display"
	"liftpanel.dev/internal/sim/floor"
)

func newTestPanel(h *floor.Holder) *Panel {
	return New(Config{PanelID: "panel_test"}, h, display.RomEncoder{})
}

func TestPanel_RendersFloor13(t *testing.T) {
	var h floor.Holder
	h.Publish(13)
	p := newTestPanel(&h)

	f1 := p.StepOnce()
	f2 := p.StepOnce()

	if f1.Slot != "TENS" || f1.Digit != 1 {
		t.Fatalf("tick 0: slot=%s digit=%d, want TENS/1", f1.Slot, f1.Digit)
	}
	if f2.Slot != "ONES" || f2.Digit != 3 {
		t.Fatalf("tick 1: slot=%s digit=%d, want ONES/3", f2.Slot, f2.Digit)
	}
	if f1.SlotIndex != 3 || f2.SlotIndex != 2 {
		t.Fatalf("slot indices = %d/%d, want 3/2", f1.SlotIndex, f2.SlotIndex)
	}
}

func TestPanel_RendersWraparoundFloorAs16(t *testing.T) {
	var h floor.Holder
	h.Publish(0)
	p := newTestPanel(&h)

	f1 := p.StepOnce()
	f2 := p.StepOnce()
	if f1.Digit != 1 || f2.Digit != 6 {
		t.Fatalf("floor 0 rendered %d%d, want 16", f1.Digit, f2.Digit)
	}
}

func TestPanel_RendersFloor7WithZeroTens(t *testing.T) {
	var h floor.Holder
	h.Publish(7)
	p := newTestPanel(&h)

	f1 := p.StepOnce()
	f2 := p.StepOnce()
	if f1.Digit != 0 || f2.Digit != 7 {
		t.Fatalf("floor 7 rendered %d%d, want 07", f1.Digit, f2.Digit)
	}
}

func TestPanel_FrameInvariants(t *testing.T) {
	var h floor.Holder
	p := newTestPanel(&h)

	prev := ""
	for i := 0; i < 64; i++ {
		h.Publish(display.FloorCode(i))
		f := p.StepOnce()

		v := display.AnodeVector(f.Anodes)
		if v.Enabled(0) || v.Enabled(1) {
			t.Fatalf("tick %d: reserved anode positions enabled (%04b)", i, f.Anodes)
		}
		if v.Enabled(2) == v.Enabled(3) {
			t.Fatalf("tick %d: want exactly one active anode, got %04b", i, f.Anodes)
		}
		if f.Slot == prev {
			t.Fatalf("tick %d: slot %s repeated", i, f.Slot)
		}
		prev = f.Slot

		if f.Digest != ComputeDigest(f) {
			t.Fatalf("tick %d: digest mismatch", i)
		}
	}
}

func TestPanel_ResetHoldsTensAndRestarts(t *testing.T) {
	var h floor.Holder
	p := newTestPanel(&h)

	p.StepOnce() // TENS
	p.SetReset(true)

	// Ticks keep arriving while reset is held; the multiplexer stays in its
	// initial state instead of advancing.
	for i := 0; i < 3; i++ {
		f := p.StepOnce()
		if f.Slot != "TENS" || !f.Reset {
			t.Fatalf("held tick %d: slot=%s reset=%v, want TENS/true", i, f.Slot, f.Reset)
		}
	}

	p.SetReset(false)
	f := p.StepOnce()
	if f.Slot != "TENS" || f.Reset {
		t.Fatalf("first tick after release: slot=%s reset=%v, want TENS/false", f.Slot, f.Reset)
	}
	if f = p.StepOnce(); f.Slot != "ONES" {
		t.Fatalf("second tick after release: slot=%s, want ONES", f.Slot)
	}
}

func TestPanel_TearingWindowIsVisible(t *testing.T) {
	var h floor.Holder
	h.Publish(9)
	p := newTestPanel(&h)

	f1 := p.StepOnce() // tens of floor 9 -> 0
	h.Publish(10)      // slow domain moves mid-cycle
	f2 := p.StepOnce() // ones of floor 10 -> 0

	// The two frames of this cycle come from different floors: "00" is shown
	// for one refresh even though neither 9 nor 10 renders that way. The
	// frames still record which floor each digit was derived from.
	if f1.Floor != 9 || f1.Digit != 0 {
		t.Fatalf("frame 1 = floor %d digit %d, want 9/0", f1.Floor, f1.Digit)
	}
	if f2.Floor != 10 || f2.Digit != 0 {
		t.Fatalf("frame 2 = floor %d digit %d, want 10/0", f2.Floor, f2.Digit)
	}
}

func TestPanel_FrameLoggerReceivesEveryFrame(t *testing.T) {
	var h floor.Holder
	p := newTestPanel(&h)
	var got []Frame
	p.SetFrameLogger(frameLogFunc(func(f Frame) error {
		got = append(got, f)
		return nil
	}))

	for i := 0; i < 5; i++ {
		p.StepOnce()
	}
	if len(got) != 5 {
		t.Fatalf("logged %d frames, want 5", len(got))
	}
	for i, f := range got {
		if f.Tick != uint64(i) {
			t.Fatalf("frame %d has tick %d", i, f.Tick)
		}
	}
}

func TestPanel_ObserverFanout(t *testing.T) {
	var h floor.Holder
	h.Publish(13)
	p := newTestPanel(&h)

	out := make(chan []byte, 16)
	p.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", Out: out, Every: 2})

	for i := 0; i < 4; i++ {
		p.StepOnce()
	}

	// Every=2: ticks 0 and 2 delivered.
	if n := len(out); n != 2 {
		t.Fatalf("observer received %d frames, want 2", n)
	}
	var msg protocol.FrameMsg
	if err := json.Unmarshal(<-out, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if msg.Type != protocol.TypeFrame || msg.Tick != 0 || msg.Floor != 13 {
		t.Fatalf("frame msg = %+v", msg)
	}

	p.handleObserverLeave("O1")
	if _, ok := <-out; ok {
		// Channel drained above held one more frame before close.
		if _, ok := <-out; ok {
			t.Fatal("observer channel not closed on leave")
		}
	}
}

func TestPanel_SlowObserverDropsNotBlocks(t *testing.T) {
	var h floor.Holder
	p := newTestPanel(&h)

	out := make(chan []byte, 1)
	p.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", Out: out, Every: 1})

	for i := 0; i < 10; i++ {
		p.StepOnce()
	}
	if d := p.Metrics().FramesDropped; d != 9 {
		t.Fatalf("dropped = %d, want 9", d)
	}
}

func TestPanel_RunLoopAndSnapshotRequest(t *testing.T) {
	var h floor.Holder
	h.Publish(5)
	p := newTestPanel(&h)

	snapCh := make(chan snapshot.SnapshotV1, 1)
	p.SetSnapshotSink(snapCh, func() snapshot.SnapshotV1 {
		return snapshot.SnapshotV1{FastTickHz: 1000, SlowTickHz: 1, Floor: 5, Direction: "STOP"}
	})

	mt := clock.NewManualTicker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, mt) }()

	mt.Tick()
	mt.Tick()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()
	tick, err := p.RequestSnapshot(reqCtx)
	if err != nil {
		t.Fatalf("RequestSnapshot: %v", err)
	}
	if tick != 2 {
		t.Fatalf("snapshot tick = %d, want 2", tick)
	}

	snap := <-snapCh
	if snap.Header.PanelID != "panel_test" || snap.Header.Tick != 2 {
		t.Fatalf("snapshot header = %+v", snap.Header)
	}
	if snap.Floor != 5 || snap.NextSlot != "TENS" {
		t.Fatalf("snapshot = %+v", snap)
	}

	p.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestPanel_ImportTick(t *testing.T) {
	var h floor.Holder
	p := newTestPanel(&h)
	p.ImportTick(41, "ONES")

	f := p.StepOnce()
	if f.Tick != 41 || f.Slot != "ONES" {
		t.Fatalf("resumed frame = tick %d slot %s, want 41/ONES", f.Tick, f.Slot)
	}
}

type frameLogFunc func(Frame) error

func (f frameLogFunc) WriteFrame(fr Frame) error { return f(fr) }
