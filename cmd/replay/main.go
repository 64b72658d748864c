package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"liftpanel.dev/internal/persistence/snapshot"
	"liftpanel.dev/internal/sim/display"
	"liftpanel.dev/internal/sim/panel"
)

// replay verifies a recorded frame log: every frame's digest, the anode and
// slot invariants, and that each frame's digit derives from the floor code it
// recorded. The cross-domain floor sampling is racy by design, so the log is
// checked for internal consistency rather than re-simulated.
func main() {
	var (
		framesDir = flag.String("frames", "", "frames dir containing frames-*.jsonl.zst")
		snapPath  = flag.String("snapshot", "", "path to .snap.zst (optional, printed for context)")
		fromTick  = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d panel=%s tick=%d floor=%d direction=%s next_slot=%s\n",
			snap.Header.Version, snap.Header.PanelID, snap.Header.Tick, snap.Floor, snap.Direction, snap.NextSlot)
	}

	if *framesDir == "" {
		if *snapPath == "" {
			fmt.Fprintln(os.Stderr, "missing -frames")
			os.Exit(2)
		}
		return
	}

	files, err := listFrameFiles(*framesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list frames:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frame files found in", *framesDir)
		os.Exit(1)
	}

	v := &verifier{fromTick: *fromTick, toTick: *toTick}
	for _, path := range files {
		if err := v.verifyFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: checked=%d frames (ticks %d..%d)\n", v.checked, v.firstTick, v.lastTick)
}

func listFrameFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "frames-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type verifier struct {
	fromTick uint64
	toTick   uint64

	checked   uint64
	firstTick uint64
	lastTick  uint64

	prev    panel.Frame
	hasPrev bool
}

func (v *verifier) verifyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var fr panel.Frame
		if err := json.Unmarshal(sc.Bytes(), &fr); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if fr.Tick < v.fromTick {
			continue
		}
		if v.toTick != 0 && fr.Tick > v.toTick {
			return nil
		}
		if err := v.verifyFrame(fr); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func (v *verifier) verifyFrame(fr panel.Frame) error {
	if v.checked == 0 {
		v.firstTick = fr.Tick
	}
	v.lastTick = fr.Tick
	v.checked++

	if got := panel.ComputeDigest(fr); got != fr.Digest {
		return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", fr.Tick, got, fr.Digest)
	}

	slot, ok := parseSlot(fr.Slot)
	if !ok {
		return fmt.Errorf("tick %d: unknown slot %q", fr.Tick, fr.Slot)
	}
	if fr.SlotIndex != slot.Index() {
		return fmt.Errorf("tick %d: slot_index=%d want=%d for %s", fr.Tick, fr.SlotIndex, slot.Index(), fr.Slot)
	}
	if want := display.AnodeFor(slot); display.AnodeVector(fr.Anodes) != want {
		return fmt.Errorf("tick %d: anodes=%#x want=%#x for %s", fr.Tick, fr.Anodes, uint8(want), fr.Slot)
	}

	// Digit and tens/ones must derive from the floor code the frame recorded.
	pair := display.Decompose(display.FloorCode(fr.Floor))
	if fr.Tens != pair.Tens || fr.Ones != pair.Ones {
		return fmt.Errorf("tick %d: tens/ones=%d/%d want=%d/%d for floor=%d", fr.Tick, fr.Tens, fr.Ones, pair.Tens, pair.Ones, fr.Floor)
	}
	if want := display.Select(pair, slot); fr.Digit != want {
		return fmt.Errorf("tick %d: digit=%d want=%d for floor=%d slot=%s", fr.Tick, fr.Digit, want, fr.Floor, fr.Slot)
	}

	// The multiplexer alternates every tick; only a reset pins the slot.
	if v.hasPrev && v.prev.Tick+1 == fr.Tick && !fr.Reset && !v.prev.Reset {
		if fr.Slot == v.prev.Slot {
			return fmt.Errorf("tick %d: slot %s repeated without reset", fr.Tick, fr.Slot)
		}
	}
	if fr.Reset && fr.Slot != display.SlotTens.String() {
		return fmt.Errorf("tick %d: reset frame holds %s, want TENS", fr.Tick, fr.Slot)
	}

	v.prev = fr
	v.hasPrev = true
	return nil
}

func parseSlot(s string) (display.Slot, bool) {
	switch s {
	case display.SlotTens.String():
		return display.SlotTens, true
	case display.SlotOnes.String():
		return display.SlotOnes, true
	}
	return display.SlotTens, false
}
