// Package clock abstracts the periodic tick sources driving the two sim
// domains so loops can run against wall time in production and against a
// hand-cranked source in tests. The slow and fast sources are independent;
// no ordering between their ticks is guaranteed or relied upon.
package clock

import "time"

// TickSource delivers periodic tick events. Implementations must keep
// delivering for the life of the source; consumers never stop it via the
// channel (a held reset does not pause ticks).
type TickSource interface {
	Ticks() <-chan time.Time
	Stop()
}

// WallTicker is a time.Ticker-backed source.
type WallTicker struct {
	t *time.Ticker
}

// NewWallTicker returns a source firing at the given rate. Rates below 1 Hz
// are clamped to 1 Hz.
func NewWallTicker(hz int) *WallTicker {
	if hz < 1 {
		hz = 1
	}
	return &WallTicker{t: time.NewTicker(time.Second / time.Duration(hz))}
}

func (w *WallTicker) Ticks() <-chan time.Time { return w.t.C }
func (w *WallTicker) Stop()                   { w.t.Stop() }

/// ManualTicker is a deterministic source for tests: each Tick call delivers
// exactly one event.
type ManualTicker struct {
	ch chan time.Time
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

func (m *ManualTicker) Ticks() <-chan time.Time { return m.ch }
func (m *ManualTicker) Stop()                   {}

// Tick delivers one tick, blocking until the consumer accepts it.
func (m *ManualTicker) Tick() { m.ch <- time.Time{} }
