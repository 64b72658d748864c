package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	PanelID string `json:"panel_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 captures everything needed to resume the controller: the
// effective tick rates, the multiplexer scheduling state and the cabin's
// register. Small by design — the display subsystem holds no history.
type SnapshotV1 struct {
	Header Header `json:"header"`

	FastTickHz         int `json:"fast_tick_hz"`
	SlowTickHz         int `json:"slow_tick_hz"`
	SnapshotEveryTicks int `json:"snapshot_every_ticks,omitempty"`

	// Display fast domain.
	NextSlot string `json:"next_slot"` // "TENS" or "ONES"
	Reset    bool   `json:"reset"`

	// Cabin slow domain.
	CabinTick uint64 `json:"cabin_tick"`
	Floor     uint8  `json:"floor"`
	Direction string `json:"direction"` // "UP", "DOWN" or "STOP"
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Header line is advisory; gob carries the full snapshot.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
