package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"liftpanel.dev/internal/persistence/snapshot"
	"liftpanel.dev/internal/sim/cabin"
	"liftpanel.dev/internal/sim/panel"
)

func TestSQLiteIndex_WriteAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "panel.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	for tick := uint64(0); tick < 4; tick++ {
		_ = idx.WriteFrame(panel.Frame{Tick: tick, Floor: 13, Slot: "TENS", SlotIndex: 3, Digit: 1, Anodes: 0x7, Segments: 0x06, Digest: "d"})
	}
	_ = idx.WritePress(cabin.PressLogEntry{Tick: 1, SessionID: "S1", Button: "UP", Accepted: true})
	_ = idx.WritePress(cabin.PressLogEntry{Tick: 1, SessionID: "S1", Button: "STOP", Accepted: false, Code: "E_RATE_LIMIT"})
	idx.RecordSnapshot("/tmp/100.snap.zst", snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: 1, PanelID: "panel_1", Tick: 100},
		Floor:     13,
		Direction: "UP",
		NextSlot:  "ONES",
	})

	// Close flushes the writer goroutine's open transaction.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	count := func(query string) int {
		t.Helper()
		var n int
		if err := db.QueryRow(query).Scan(&n); err != nil {
			t.Fatalf("%s: %v", query, err)
		}
		return n
	}
	if n := count(`SELECT COUNT(*) FROM frames`); n != 4 {
		t.Fatalf("frames = %d, want 4", n)
	}
	if n := count(`SELECT COUNT(*) FROM presses`); n != 2 {
		t.Fatalf("presses = %d, want 2", n)
	}
	if n := count(`SELECT COUNT(*) FROM snapshots`); n != 1 {
		t.Fatalf("snapshots = %d, want 1", n)
	}

	var code string
	if err := db.QueryRow(`SELECT code FROM presses WHERE accepted=0`).Scan(&code); err != nil {
		t.Fatalf("query rejected press: %v", err)
	}
	if code != "E_RATE_LIMIT" {
		t.Fatalf("code = %q, want E_RATE_LIMIT", code)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqFrame, frame: panel.Frame{Tick: 1}}

	_ = s.WriteFrame(panel.Frame{Tick: 2})
	_ = s.WritePress(cabin.PressLogEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropFrameTotal != 1 {
		t.Fatalf("DropFrameTotal=%d want=1", st.DropFrameTotal)
	}
	if st.DropPressTotal != 1 {
		t.Fatalf("DropPressTotal=%d want=1", st.DropPressTotal)
	}
	if st.DropSnapshotTotal != 1 {
		t.Fatalf("DropSnapshotTotal=%d want=1", st.DropSnapshotTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilSafe(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteFrame(panel.Frame{}); err != nil {
		t.Fatalf("nil WriteFrame: %v", err)
	}
	if err := s.WritePress(cabin.PressLogEntry{}); err != nil {
		t.Fatalf("nil WritePress: %v", err)
	}
	s.RecordSnapshot("x", snapshot.SnapshotV1{})
}
