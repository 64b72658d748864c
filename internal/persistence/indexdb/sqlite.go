// Package indexdb maintains a queryable read-model of the frame and press
// streams. It is strictly off the sim hot path: writes are queued to a single
// writer goroutine and dropped when the queue is full — the JSONL logs remain
// the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"liftpanel.dev/internal/persistence/snapshot"
	"liftpanel.dev/internal/sim/cabin"
	"liftpanel.dev/internal/sim/panel"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrame    atomic.Uint64
	dropPress    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqPress
	reqSnapshot
)

type req struct {
	kind reqKind

	frame    panel.Frame
	press    cabin.PressLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick      uint64
	Path      string
	Floor     uint8
	Direction string
	NextSlot  string
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropFrameTotal    uint64
	DropPressTotal    uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: a 1 kHz refresh stream bursts far faster than sqlite
		// commits; the queue absorbs it without stalling the panel loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			tick INTEGER PRIMARY KEY,
			floor INTEGER NOT NULL,
			slot TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			digit INTEGER NOT NULL,
			anodes INTEGER NOT NULL,
			segments INTEGER NOT NULL,
			reset INTEGER NOT NULL,
			digest TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_frames_floor_tick ON frames(floor, tick);`,
		`CREATE TABLE IF NOT EXISTS presses (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			session_id TEXT NOT NULL,
			press_id TEXT,
			button TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			code TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_presses_session_tick ON presses(session_id, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			floor INTEGER NOT NULL,
			direction TEXT NOT NULL,
			next_slot TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFrameTotal:    s.dropFrame.Load(),
		DropPressTotal:    s.dropPress.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteFrame(f panel.Frame) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: f}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropFrame.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WritePress(e cabin.PressLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqPress, press: e}:
	default:
		s.dropPress.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:      snap.Header.Tick,
		Path:      path,
		Floor:     snap.Floor,
		Direction: snap.Direction,
		NextSlot:  snap.NextSlot,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(tick,floor,slot,slot_index,digit,anodes,segments,reset,digest,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertPress, _ := s.db.Prepare(`INSERT OR REPLACE INTO presses(tick,seq,session_id,press_id,button,accepted,code,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,floor,direction,next_slot) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertFrame != nil {
			_ = insertFrame.Close()
		}
		if insertPress != nil {
			_ = insertPress.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastPressTick uint64
		pressSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			f := r.frame
			raw, _ := json.Marshal(f)
			if insertFrame != nil {
				reset := 0
				if f.Reset {
					reset = 1
				}
				if _, err := tx.Stmt(insertFrame).Exec(
					int64(f.Tick),
					int64(f.Floor),
					f.Slot,
					f.SlotIndex,
					int64(f.Digit),
					int64(f.Anodes),
					int64(f.Segments),
					reset,
					f.Digest,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqPress:
			p := r.press
			if p.Tick != lastPressTick {
				lastPressTick = p.Tick
				pressSeq = 0
			}
			seq := pressSeq
			pressSeq++
			raw, _ := json.Marshal(p)
			if insertPress != nil {
				accepted := 0
				if p.Accepted {
					accepted = 1
				}
				if _, err := tx.Stmt(insertPress).Exec(
					int64(p.Tick),
					seq,
					p.SessionID,
					p.PressID,
					p.Button,
					accepted,
					p.Code,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					int64(sn.Floor),
					sn.Direction,
					sn.NextSlot,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
