package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"liftpanel.dev/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "reset":
			resetCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("panelctl", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	panelID := fs.String("panel", "", "panel id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "panels")
	if *panelID != "" {
		base = filepath.Join(base, *panelID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: panelctl inspect <path/to/NNN.snap.zst>")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap)
}
