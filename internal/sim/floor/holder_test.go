package floor

import (
	"sync"
	"testing"

	"liftpanel.dev/internal/sim/display"
)

func TestHolder_LastWriteWins(t *testing.T) {
	var h Holder
	if got := h.Floor(); got != 0 {
		t.Fatalf("zero holder = %d, want 0", got)
	}
	h.Publish(7)
	h.Publish(13)
	if got := h.Floor(); got != 13 {
		t.Fatalf("Floor() = %d, want 13", got)
	}
}

func TestHolder_Masks(t *testing.T) {
	var h Holder
	h.Publish(display.FloorCode(0x1F))
	if got := h.Floor(); got != 0x0F {
		t.Fatalf("Floor() = %d, want 15 (4-bit mask)", got)
	}
}

func TestHolder_ConcurrentSampling(t *testing.T) {
	var h Holder
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := 0; ; f++ {
			select {
			case <-stop:
				return
			default:
				h.Publish(display.FloorCode(f))
			}
		}
	}()

	// Every sampled value must be a complete 4-bit code; the race itself is
	// benign and expected.
	for i := 0; i < 10000; i++ {
		if got := h.Floor(); got > 15 {
			t.Fatalf("sampled torn value %d", got)
		}
	}
	close(stop)
	wg.Wait()
}
