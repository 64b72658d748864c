// Package cabin simulates the elevator state machine that owns the 4-bit
// floor register. The display core treats it as an external collaborator and
// only ever observes the register through the floor holder; any other
// producer satisfying floor publication can replace it.
package cabin

import (
	"context"
	"sync/atomic"
	"time"

	"liftpanel.dev/internal/protocol"
	"liftpanel.dev/internal/sim/clock"
	"liftpanel.dev/internal/sim/display"
	"liftpanel.dev/internal/sim/floor"
)

// Direction is the commanded travel direction.
type Direction int8

const (
	DirStop Direction = 0
	DirUp   Direction = 1
	DirDown Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "UP"
	case DirDown:
		return "DOWN"
	default:
		return "STOP"
	}
}

func ParseDirection(s string) Direction {
	switch s {
	case "UP":
		return DirUp
	case "DOWN":
		return DirDown
	default:
		return DirStop
	}
}

// Command is one button input delivered from the transport layer. Resp, if
// non-nil, receives exactly one Result; it must be buffered.
type Command struct {
	SessionID string
	PressID   string
	Button    string
	Resp      chan Result
}

type Result struct {
	Accepted bool
	Code     string
	Message  string
}

// PressLogEntry is the structured record of one button input.
type PressLogEntry struct {
	Tick      uint64 `json:"tick"`
	SessionID string `json:"session_id"`
	PressID   string `json:"press_id,omitempty"`
	Button    string `json:"button"`
	Accepted  bool   `json:"accepted"`
	Code      string `json:"code,omitempty"`
}

type PressLogger interface {
	WritePress(entry PressLogEntry) error
}

type Config struct {
	InitialFloor     display.FloorCode
	InitialDirection Direction

	// Windowed press rate limit, measured in slow ticks. Zero disables.
	PressWindowTicks int
	PressMax         int
}

// State is the machine's externally visible snapshot, readable off-thread.
type State struct {
	Tick      uint64
	Floor     display.FloorCode
	Direction Direction
}

// Machine advances the floor register one step per slow tick in the commanded
// direction, wrapping modulo 16. All mutable state is owned by the Run
// goroutine; reads from other goroutines go through atomics or the floor
// holder.
type Machine struct {
	cfg Config
	out *floor.Holder

	tick atomic.Uint64
	dirn atomic.Int32

	// Loop-owned.
	cur         display.FloorCode
	acceptedAt  []uint64
	pressLogger PressLogger

	inbox chan Command
	stop  chan struct{}
}

func New(cfg Config, out *floor.Holder) *Machine {
	m := &Machine{
		cfg:   cfg,
		out:   out,
		cur:   cfg.InitialFloor & display.FloorMask,
		inbox: make(chan Command, 64),
		stop:  make(chan struct{}),
	}
	m.dirn.Store(int32(cfg.InitialDirection))
	m.out.Publish(m.cur)
	return m
}

func (m *Machine) SetPressLogger(l PressLogger) { m.pressLogger = l }

func (m *Machine) Inbox() chan<- Command { return m.inbox }

func (m *Machine) CurrentState() State {
	return State{
		Tick:      m.tick.Load(),
		Floor:     m.out.Floor(),
		Direction: Direction(m.dirn.Load()),
	}
}

// ImportState restores a previously exported state. Must be called before Run.
func (m *Machine) ImportState(s State) {
	m.tick.Store(s.Tick)
	m.dirn.Store(int32(s.Direction))
	m.cur = s.Floor & display.FloorMask
	m.out.Publish(m.cur)
}

func (m *Machine) Run(ctx context.Context, ticks clock.TickSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case cmd := <-m.inbox:
			m.handleCommand(cmd)
		case <-ticks.Ticks():
			m.StepOnce()
		}
	}
}

func (m *Machine) Stop() { close(m.stop) }

/// StepOnce advances one slow tick: a moving cabin shifts the register one
// floor in the commanded direction, wrapping modulo 16, and publishes the new
// code. Exposed for deterministic tests.
func (m *Machine) StepOnce() State {
	tick := m.tick.Add(1)
	d := Direction(m.dirn.Load())
	if d != DirStop {
		m.cur = display.FloorCode(uint8(m.cur)+uint8(d)) & display.FloorMask
		m.out.Publish(m.cur)
	}
	return State{Tick: tick, Floor: m.cur, Direction: d}
}

func (m *Machine) handleCommand(cmd Command) {
	res := m.applyCommand(cmd)
	if m.pressLogger != nil {
		_ = m.pressLogger.WritePress(PressLogEntry{
			Tick:      m.tick.Load(),
			SessionID: cmd.SessionID,
			PressID:   cmd.PressID,
			Button:    cmd.Button,
			Accepted:  res.Accepted,
			Code:      res.Code,
		})
	}
	if cmd.Resp != nil {
		select {
		case cmd.Resp <- res:
		default:
		}
	}
}

func (m *Machine) applyCommand(cmd Command) Result {
	if !protocol.ValidButton(cmd.Button) {
		return Result{Code: protocol.ErrBadRequest, Message: "unknown button"}
	}
	if !m.admitPress() {
		return Result{Code: protocol.ErrRateLimit, Message: "too many presses"}
	}

	switch cmd.Button {
	case protocol.ButtonUp:
		m.dirn.Store(int32(DirUp))
	case protocol.ButtonDown:
		m.dirn.Store(int32(DirDown))
	case protocol.ButtonStop:
		m.dirn.Store(int32(DirStop))
	}
	return Result{Accepted: true}
}

// admitPress applies the windowed rate limit over slow ticks.
func (m *Machine) admitPress() bool {
	if m.cfg.PressWindowTicks <= 0 || m.cfg.PressMax <= 0 {
		return true
	}
	now := m.tick.Load()
	var cutoff uint64
	if w := uint64(m.cfg.PressWindowTicks); now > w {
		cutoff = now - w
	}
	kept := m.acceptedAt[:0]
	for _, at := range m.acceptedAt {
		if at >= cutoff {
			kept = append(kept, at)
		}
	}
	m.acceptedAt = kept
	if len(m.acceptedAt) >= m.cfg.PressMax {
		return false
	}
	m.acceptedAt = append(m.acceptedAt, now)
	return true
}

// Press is a convenience for callers that want a synchronous submit.
func (m *Machine) Press(ctx context.Context, sessionID, pressID, button string) (Result, error) {
	resp := make(chan Result, 1)
	select {
	case m.inbox <- Command{SessionID: sessionID, PressID: pressID, Button: button, Resp: resp}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-resp:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return Result{Code: protocol.ErrBusy, Message: "machine busy"}, nil
	}
}
