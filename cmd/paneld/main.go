package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"liftpanel.dev/internal/persistence/indexdb"
	persistlog "liftpanel.dev/internal/persistence/log"
	"liftpanel.dev/internal/persistence/snapshot"
	"liftpanel.dev/internal/sim/cabin"
	"liftpanel.dev/internal/sim/clock"
	"liftpanel.dev/internal/sim/display"
	"liftpanel.dev/internal/sim/floor"
	"liftpanel.dev/internal/sim/panel"
	"liftpanel.dev/internal/sim/tuning"
	"liftpanel.dev/internal/transport/observer"
	"liftpanel.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		panelID    = flag.String("panel", "panel_1", "panel id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		initialFloor = flag.Uint("initial_floor", 1, "initial floor code (0..15, used only when starting fresh)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[paneld] ", log.LstdFlags|log.Lmicroseconds)

	panelDir := filepath.Join(*dataDir, "panels", *panelID)
	_ = os.MkdirAll(panelDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(panelDir)
	}

	// Load tuning (required for a fresh panel; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		// Resume fallback: the snapshot carries the effective tick rates.
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	// Optional: read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(panelDir, "index", "panel.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}

	var holder floor.Holder
	var cab *cabin.Machine
	var pnl *panel.Panel

	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.PanelID != "" && snap.Header.PanelID != *panelID {
			logger.Fatalf("snapshot panel id mismatch: flag=%s snap=%s", *panelID, snap.Header.PanelID)
		}
		if snap.FastTickHz > 0 {
			tune.FastTickHz = snap.FastTickHz
		}
		if snap.SlowTickHz > 0 {
			tune.SlowTickHz = snap.SlowTickHz
		}
		if snap.SnapshotEveryTicks > 0 {
			tune.SnapshotEveryTicks = snap.SnapshotEveryTicks
		}

		cab = cabin.New(cabin.Config{
			PressWindowTicks: tune.RateLimits.PressWindowTicks,
			PressMax:         tune.RateLimits.PressMax,
		}, &holder)
		cab.ImportState(cabin.State{
			Tick:      snap.CabinTick,
			Floor:     display.FloorCode(snap.Floor),
			Direction: cabin.ParseDirection(snap.Direction),
		})

		pnl = panel.New(panel.Config{PanelID: *panelID, SnapshotEveryTicks: tune.SnapshotEveryTicks}, &holder, nil)
		pnl.ImportTick(snap.Header.Tick, snap.NextSlot)
		pnl.SetReset(snap.Reset)

		logger.Printf("resumed from snapshot=%s tick=%d floor=%d", filepath.Base(snapshotToLoad), snap.Header.Tick, snap.Floor)
	} else {
		cab = cabin.New(cabin.Config{
			InitialFloor:     display.FloorCode(*initialFloor),
			PressWindowTicks: tune.RateLimits.PressWindowTicks,
			PressMax:         tune.RateLimits.PressMax,
		}, &holder)
		pnl = panel.New(panel.Config{PanelID: *panelID, SnapshotEveryTicks: tune.SnapshotEveryTicks}, &holder, nil)
	}

	ctx, cancel := signalContext()
	defer cancel()

	frameLog := persistlog.NewFrameLogger(panelDir)
	pressLog := persistlog.NewPressLogger(panelDir)
	defer frameLog.Close()
	defer pressLog.Close()
	pnl.SetFrameLogger(multiFrameLogger{a: frameLog, b: idx})
	cab.SetPressLogger(multiPressLogger{a: pressLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	pnl.SetSnapshotSink(snapCh, func() snapshot.SnapshotV1 {
		st := cab.CurrentState()
		return snapshot.SnapshotV1{
			FastTickHz:         tune.FastTickHz,
			SlowTickHz:         tune.SlowTickHz,
			SnapshotEveryTicks: tune.SnapshotEveryTicks,
			CabinTick:          st.Tick,
			Floor:              uint8(st.Floor),
			Direction:          st.Direction.String(),
		}
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(panelDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				idx.RecordSnapshot(path, snap)
			}
		}
	}()

	slowTicks := clock.NewWallTicker(tune.SlowTickHz)
	fastTicks := clock.NewWallTicker(tune.FastTickHz)
	defer slowTicks.Stop()
	defer fastTicks.Stop()
	go func() {
		if err := cab.Run(ctx, slowTicks); err != nil && err != context.Canceled {
			logger.Printf("cabin stopped: %v", err)
		}
	}()
	go func() {
		if err := pnl.Run(ctx, fastTicks); err != nil && err != context.Canceled {
			logger.Printf("panel stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := pnl.Metrics()
		st := cab.CurrentState()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP liftpanel_refresh_tick Current display refresh tick.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_refresh_tick gauge\n")
		fmt.Fprintf(rw, "liftpanel_refresh_tick{panel=%q} %d\n", *panelID, m.Tick)

		fmt.Fprintf(rw, "# HELP liftpanel_cabin_tick Current cabin tick.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_cabin_tick gauge\n")
		fmt.Fprintf(rw, "liftpanel_cabin_tick{panel=%q} %d\n", *panelID, st.Tick)

		fmt.Fprintf(rw, "# HELP liftpanel_floor Current 4-bit floor code.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_floor gauge\n")
		fmt.Fprintf(rw, "liftpanel_floor{panel=%q} %d\n", *panelID, m.Floor)

		fmt.Fprintf(rw, "# HELP liftpanel_direction Cabin direction (-1 down, 0 stop, 1 up).\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_direction gauge\n")
		fmt.Fprintf(rw, "liftpanel_direction{panel=%q} %d\n", *panelID, int(st.Direction))

		fmt.Fprintf(rw, "# HELP liftpanel_reset_asserted Whether the reset line is asserted.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_reset_asserted gauge\n")
		fmt.Fprintf(rw, "liftpanel_reset_asserted{panel=%q} %d\n", *panelID, boolToInt(m.ResetAsserted))

		fmt.Fprintf(rw, "# HELP liftpanel_observers Current number of frame subscribers.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_observers gauge\n")
		fmt.Fprintf(rw, "liftpanel_observers{panel=%q} %d\n", *panelID, m.Observers)

		fmt.Fprintf(rw, "# HELP liftpanel_frames_dropped_total Frames dropped for slow subscribers.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_frames_dropped_total counter\n")
		fmt.Fprintf(rw, "liftpanel_frames_dropped_total{panel=%q} %d\n", *panelID, m.FramesDropped)

		fmt.Fprintf(rw, "# HELP liftpanel_step_ms Last refresh step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE liftpanel_step_ms gauge\n")
		fmt.Fprintf(rw, "liftpanel_step_ms{panel=%q} %.3f\n", *panelID, m.StepMS)

		writeIndexMetrics(rw, *panelID, idx)
	})

	enableAdminHTTP := envBool("LP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("LP_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			st := cab.CurrentState()
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				PanelID   string        `json:"panel_id"`
				Tick      uint64        `json:"tick"`
				CabinTick uint64        `json:"cabin_tick"`
				Floor     uint8         `json:"floor"`
				Direction string        `json:"direction"`
				Metrics   panel.Metrics `json:"metrics"`
			}{
				PanelID:   *panelID,
				Tick:      pnl.CurrentTick(),
				CabinTick: st.Tick,
				Floor:     uint8(st.Floor),
				Direction: st.Direction.String(),
				Metrics:   pnl.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := pnl.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})
		mux.HandleFunc("/admin/v1/reset", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			var body struct {
				Asserted bool `json:"asserted"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(rw, "bad request", http.StatusBadRequest)
				return
			}
			pnl.SetReset(body.Asserted)
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "asserted": body.Asserted})
		})

		obsSrv := observer.NewServer(pnl, tune.FastTickHz, tune.SlowTickHz, tune.Observer.FrameEveryDefault, tune.Observer.FrameEveryMax, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (LP_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (LP_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(pnl, cab, tune.FastTickHz, tune.SlowTickHz, tune.Observer.FrameEveryDefault, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(panelDir string) string {
	dir := filepath.Join(panelDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeIndexMetrics(rw http.ResponseWriter, panelID string, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP liftpanel_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE liftpanel_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "liftpanel_index_queue_depth{panel=%q} %d\n", panelID, s.QueueDepth)

	fmt.Fprintf(rw, "# HELP liftpanel_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE liftpanel_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "liftpanel_index_queue_capacity{panel=%q} %d\n", panelID, s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP liftpanel_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE liftpanel_index_dropped_total counter\n")
	fmt.Fprintf(rw, "liftpanel_index_dropped_total{panel=%q,stream=%q} %d\n", panelID, "frames", s.DropFrameTotal)
	fmt.Fprintf(rw, "liftpanel_index_dropped_total{panel=%q,stream=%q} %d\n", panelID, "presses", s.DropPressTotal)
	fmt.Fprintf(rw, "liftpanel_index_dropped_total{panel=%q,stream=%q} %d\n", panelID, "snapshots", s.DropSnapshotTotal)
}

type multiFrameLogger struct {
	a panel.FrameLogger
	b *indexdb.SQLiteIndex
}

func (m multiFrameLogger) WriteFrame(f panel.Frame) error {
	if m.a != nil {
		_ = m.a.WriteFrame(f)
	}
	_ = m.b.WriteFrame(f)
	return nil
}

type multiPressLogger struct {
	a cabin.PressLogger
	b *indexdb.SQLiteIndex
}

func (m multiPressLogger) WritePress(e cabin.PressLogEntry) error {
	if m.a != nil {
		_ = m.a.WritePress(e)
	}
	_ = m.b.WritePress(e)
	return nil
}
