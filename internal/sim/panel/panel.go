// Package panel hosts the display core in its own fast clock domain: one
// refresh tick samples the floor holder, steps the multiplexer and fans the
// resulting frame out to loggers and observer sessions.
package panel

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"liftpanel.dev/internal/persistence/snapshot"
	"liftpanel.dev/internal/protocol"
	"liftpanel.dev/internal/sim/clock"
	"liftpanel.dev/internal/sim/display"
	"liftpanel.dev/internal/sim/floor"
)

type Config struct {
	PanelID            string
	SnapshotEveryTicks int
}

type FrameLogger interface {
	WriteFrame(f Frame) error
}

// ObserverJoinRequest attaches a frame consumer. Out receives marshaled FRAME
// messages; sends never block — frames for a slow consumer are dropped and
// counted. Every decimates: only ticks divisible by it are delivered.
type ObserverJoinRequest struct {
	SessionID string
	Out       chan []byte
	Every     int
}

type observerState struct {
	out   chan []byte
	every int
}

type Metrics struct {
	Tick          uint64  `json:"tick"`
	Observers     int     `json:"observers"`
	StepMS        float64 `json:"step_ms"`
	FramesDropped uint64  `json:"frames_dropped"`
	Floor         uint8   `json:"floor"`
	ResetAsserted bool    `json:"reset_asserted"`
}

// Panel is the fast-domain controller. The Run goroutine exclusively owns the
// multiplexer and the observer table; the floor register is only sampled, one
// atomic read per tick, never mutated here.
type Panel struct {
	cfg Config
	src floor.Reader
	enc display.SegmentEncoder
	mux *display.Multiplexer

	tick      atomic.Uint64
	reset     atomic.Bool
	stepNanos atomic.Int64
	dropped   atomic.Uint64
	obsCount  atomic.Int64

	observers map[string]*observerState

	frameLogger  FrameLogger
	snapshotSink chan<- snapshot.SnapshotV1
	snapshotBase func() snapshot.SnapshotV1

	obsJoin  chan ObserverJoinRequest
	obsLeave chan string
	snapReq  chan chan uint64
	stop     chan struct{}
}

func New(cfg Config, src floor.Reader, enc display.SegmentEncoder) *Panel {
	if enc == nil {
		enc = display.RomEncoder{}
	}
	return &Panel{
		cfg:       cfg,
		src:       src,
		enc:       enc,
		mux:       display.NewMultiplexer(),
		observers: map[string]*observerState{},
		obsJoin:   make(chan ObserverJoinRequest, 16),
		obsLeave:  make(chan string, 16),
		snapReq:   make(chan chan uint64, 4),
		stop:      make(chan struct{}),
	}
}

func (p *Panel) SetFrameLogger(l FrameLogger) { p.frameLogger = l }

// SetSnapshotSink wires periodic state capture. base supplies the slow-domain
// fields (cabin register, direction, tick rates); the panel fills in its own.
func (p *Panel) SetSnapshotSink(ch chan<- snapshot.SnapshotV1, base func() snapshot.SnapshotV1) {
	p.snapshotSink = ch
	p.snapshotBase = base
}

func (p *Panel) ObserverJoin() chan<- ObserverJoinRequest { return p.obsJoin }
func (p *Panel) ObserverLeave() chan<- string             { return p.obsLeave }

func (p *Panel) CurrentTick() uint64 { return p.tick.Load() }

// SetReset drives the asynchronous reset level. While asserted the
// multiplexer holds its initial state; the tick source keeps running.
func (p *Panel) SetReset(asserted bool) { p.reset.Store(asserted) }

func (p *Panel) ResetAsserted() bool { return p.reset.Load() }

// ImportTick restores the refresh tick counter and multiplexer position from
// a snapshot. Must be called before Run.
func (p *Panel) ImportTick(tick uint64, nextSlot string) {
	p.tick.Store(tick)
	p.mux.Reset()
	if nextSlot == display.SlotOnes.String() {
		p.mux.Step()
	}
}

// NextSlot reports the multiplexer position for snapshot export. Only safe
// from the loop goroutine or before/after Run.
func (p *Panel) NextSlot() string { return p.mux.Peek().String() }

func (p *Panel) Metrics() Metrics {
	return Metrics{
		Tick:          p.tick.Load(),
		Observers:     int(p.obsCount.Load()),
		StepMS:        float64(p.stepNanos.Load()) / 1e6,
		FramesDropped: p.dropped.Load(),
		Floor:         uint8(p.src.Floor()),
		ResetAsserted: p.reset.Load(),
	}
}

func (p *Panel) Run(ctx context.Context, ticks clock.TickSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stop:
			return nil
		case req := <-p.obsJoin:
			p.handleObserverJoin(req)
		case id := <-p.obsLeave:
			p.handleObserverLeave(id)
		case resp := <-p.snapReq:
			p.emitSnapshot()
			resp <- p.tick.Load()
		case <-ticks.Ticks():
			p.StepOnce()
		}
	}
}

func (p *Panel) Stop() { close(p.stop) }

// StepOnce performs one refresh tick and returns the emitted frame. Exposed
// for deterministic tests.
//
// The floor code is sampled fresh at this instant; there is intentionally no
// latch of the digit pair across the two-tick display cycle, so a floor
// change between ticks can briefly show digits from two different floors.
func (p *Panel) StepOnce() Frame {
	start := time.Now()
	tick := p.tick.Add(1) - 1

	var slot display.Slot
	reset := p.reset.Load()
	if reset {
		p.mux.Reset()
		slot = p.mux.Peek()
	} else {
		slot = p.mux.Step()
	}

	f := BuildFrame(tick, p.src.Floor(), slot, p.enc, reset)

	if p.frameLogger != nil {
		_ = p.frameLogger.WriteFrame(f)
	}
	p.broadcast(f)

	if n := uint64(p.cfg.SnapshotEveryTicks); n > 0 && tick > 0 && tick%n == 0 {
		p.emitSnapshot()
	}

	p.stepNanos.Store(int64(time.Since(start)))
	return f
}

func (p *Panel) broadcast(f Frame) {
	if len(p.observers) == 0 {
		return
	}
	var payload []byte
	for _, obs := range p.observers {
		if obs.every > 1 && f.Tick%uint64(obs.every) != 0 {
			continue
		}
		if payload == nil {
			payload = marshalFrameMsg(f)
		}
		select {
		case obs.out <- payload:
		default:
			p.dropped.Add(1)
		}
	}
}

func marshalFrameMsg(f Frame) []byte {
	msg := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            f.Tick,
		Floor:           f.Floor,
		Tens:            f.Tens,
		Ones:            f.Ones,
		Slot:            f.Slot,
		SlotIndex:       f.SlotIndex,
		Digit:           f.Digit,
		Anodes:          f.Anodes,
		Segments:        f.Segments,
		Reset:           f.Reset,
		Digest:          f.Digest,
	}
	b, _ := json.Marshal(msg)
	return b
}

func (p *Panel) handleObserverJoin(req ObserverJoinRequest) {
	if req.Every < 1 {
		req.Every = 1
	}
	p.observers[req.SessionID] = &observerState{out: req.Out, every: req.Every}
	p.obsCount.Store(int64(len(p.observers)))
}

func (p *Panel) handleObserverLeave(id string) {
	if obs, ok := p.observers[id]; ok {
		close(obs.out)
		delete(p.observers, id)
	}
	p.obsCount.Store(int64(len(p.observers)))
}

func (p *Panel) emitSnapshot() {
	if p.snapshotSink == nil || p.snapshotBase == nil {
		return
	}
	snap := p.snapshotBase()
	snap.Header = snapshot.Header{Version: 1, PanelID: p.cfg.PanelID, Tick: p.tick.Load()}
	snap.NextSlot = p.mux.Peek().String()
	snap.Reset = p.reset.Load()
	select {
	case p.snapshotSink <- snap:
	default:
		// Snapshot writer is behind; skip this capture rather than stall
		// the refresh loop.
	}
}

// RequestSnapshot asks the loop to capture a snapshot now and returns the
// refresh tick it was taken at.
func (p *Panel) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan uint64, 1)
	select {
	case p.snapReq <- resp:
	case <-ctx.Done():
		return p.tick.Load(), ctx.Err()
	}
	select {
	case tick := <-resp:
		return tick, nil
	case <-ctx.Done():
		return p.tick.Load(), ctx.Err()
	}
}

// Describe returns the wire-level panel parameters for WELCOME and observer
// bootstrap messages.
func (p *Panel) Describe(fastHz, slowHz int) protocol.PanelParams {
	return protocol.PanelParams{
		PanelID:    p.cfg.PanelID,
		FastTickHz: fastHz,
		SlowTickHz: slowHz,
		Digits:     2,
		FloorBits:  4,
	}
}
