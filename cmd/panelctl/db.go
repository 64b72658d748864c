package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	panelID := fs.String("panel", "", "panel id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	tick := fs.Uint64("tick", 0, "tick filter (frames: start tick; presses: exact tick)")
	floor := fs.Int("floor", -1, "floor code filter (frames)")
	session := fs.String("session", "", "session_id filter (presses)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*panelID) == "" {
			fmt.Fprintln(os.Stderr, "missing -panel or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "panels", *panelID, "index", "panel.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,floor,direction,next_slot FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				Path      string `json:"path"`
				Floor     int    `json:"floor"`
				Direction string `json:"direction"`
				NextSlot  string `json:"next_slot"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Floor, &r.Direction, &r.NextSlot); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "frames":
		query := `SELECT tick,floor,slot,slot_index,digit,anodes,segments,reset,digest FROM frames WHERE tick>=? ORDER BY tick LIMIT ?`
		qargs := []any{*tick, *limit}
		if *floor >= 0 {
			query = `SELECT tick,floor,slot,slot_index,digit,anodes,segments,reset,digest FROM frames WHERE floor=? AND tick>=? ORDER BY tick LIMIT ?`
			qargs = []any{*floor, *tick, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				Floor     int    `json:"floor"`
				Slot      string `json:"slot"`
				SlotIndex int    `json:"slot_index"`
				Digit     int    `json:"digit"`
				Anodes    int    `json:"anodes"`
				Segments  int    `json:"segments"`
				Reset     int    `json:"reset"`
				Digest    string `json:"digest"`
			}
			if err := rows.Scan(&r.Tick, &r.Floor, &r.Slot, &r.SlotIndex, &r.Digit, &r.Anodes, &r.Segments, &r.Reset, &r.Digest); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "presses":
		query := `SELECT tick,seq,session_id,press_id,button,accepted,code FROM presses ORDER BY tick DESC,seq DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*session) != "" {
			query = `SELECT tick,seq,session_id,press_id,button,accepted,code FROM presses WHERE session_id=? ORDER BY tick DESC,seq DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*session), *limit}
		} else if *tick > 0 {
			query = `SELECT tick,seq,session_id,press_id,button,accepted,code FROM presses WHERE tick=? ORDER BY seq LIMIT ?`
			qargs = []any{*tick, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64          `json:"tick"`
				Seq       int            `json:"seq"`
				SessionID string         `json:"session_id"`
				PressID   sql.NullString `json:"press_id"`
				Button    string         `json:"button"`
				Accepted  int            `json:"accepted"`
				Code      sql.NullString `json:"code"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.SessionID, &r.PressID, &r.Button, &r.Accepted, &r.Code); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: panelctl db [-data ./data] [-panel PANEL|-db PATH] [-tick T] [-floor F] [-session S] snapshots|frames|presses")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
