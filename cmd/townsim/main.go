package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"townlet.ai/internal/persistence/archive"
	"townlet.ai/internal/persistence/indexdb"
	persistlog "townlet.ai/internal/persistence/log"
	"townlet.ai/internal/persistence/snapshot"
	"townlet.ai/internal/sim/town"
	"townlet.ai/internal/sim/tuning"
	"townlet.ai/internal/transport/observer"
	"townlet.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		ticks      = flag.Uint64("ticks", 0, "stop after this many ticks (0: run until signalled)")
		agents     = flag.Int("agents", 16, "scripted agents (0 disables the script)")
		objects    = flag.Int("objects", 6, "contended objects for scripted agents")
		seed       = flag.Int64("seed", 1337, "script seed")
		addr       = flag.String("observer", "127.0.0.1:8080", "http listen address for observer, agent socket and metrics (empty to disable)")
		rate       = flag.Int("rate", -1, "tick rate override in Hz (0: step as fast as possible with scripted agents only, -1: use tuning)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
		snapPath   = flag.String("snapshot", "", "snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the latest snapshot in the data dir when -snapshot is empty")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[townsim] ", log.LstdFlags|log.Lmicroseconds)
	_ = os.MkdirAll(*dataDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}

	var tw *town.Town
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		tw, err = town.NewFromSnapshot(snap, logger)
		if err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed run=%s from snapshot=%s tick=%d", tw.RunID(), filepath.Base(snapshotToLoad), tw.CurrentTick())
	} else {
		tune, err := tuning.Load(*configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Fatalf("load tuning: %v", err)
			}
			logger.Printf("tuning not found (%s); using defaults", *configPath)
			tune = tuning.Defaults()
		}
		if *rate > 0 {
			tune.TickRateHz = *rate
		}
		tw, err = town.New(tune, logger)
		if err != nil {
			logger.Fatalf("town: %v", err)
		}
		logger.Printf("new run=%s", tw.RunID())
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "town.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordRun(tw.RunID(), tw.CurrentTick(), tw.Tuning()); err != nil {
			logger.Printf("index: record run: %v", err)
		}
		tw.AddTickLogger(idx)
	}

	tickLog := persistlog.NewTickLogger(*dataDir)
	defer tickLog.Close()
	tw.AddTickLogger(tickLog)

	hub := observer.NewHub()
	tw.SetTickSink(hub)

	var script *town.Script
	if *agents > 0 && *objects > 0 {
		script = town.NewScript(*seed, *agents, *objects)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	tw.SetSnapshotSink(snapCh)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				writeSnapshot(*dataDir, snap, idx, logger)
			}
		}
	}()

	if *addr != "" {
		srv := startHTTP(ctx, *addr, tw, hub, idx, logger)
		defer srv.Close()
	}

	if *rate == 0 {
		// Fast mode: the script is the only input.
		for *ticks == 0 || tw.CurrentTick() < *ticks {
			if ctx.Err() != nil {
				break
			}
			var actions []town.Action
			if script != nil {
				actions = script.Next(tw.CurrentTick())
			}
			tw.StepOnce(actions)
		}
		cancel()
	} else {
		if script != nil {
			tw.SetActionSource(script)
		}
		if *ticks > 0 {
			go func() {
				t := time.NewTicker(50 * time.Millisecond)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-t.C:
						if tw.CurrentTick() >= *ticks {
							cancel()
							return
						}
					}
				}
			}()
		}
		if err := tw.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("town stopped: %v", err)
		}
	}
	<-snapDone

	// Final snapshot, archived under the run id. Run has returned, so the town is idle.
	if end := tw.CurrentTick(); end > 0 {
		snap := tw.ExportSnapshot(end - 1)
		path := writeSnapshot(*dataDir, snap, idx, logger)
		if path != "" {
			if archived, err := archive.ArchiveRunSnapshot(*dataDir, path, snap); err != nil {
				logger.Printf("archive run snapshot: %v", err)
			} else {
				logger.Printf("archived %s", archived)
			}
		}
	}
	st := tw.Status()
	logger.Printf("stopped at tick=%d agents=%d ghost_steps=%d forced_reuse=%d digest=%s",
		tw.CurrentTick(), st.Agents, st.Queue.GhostStepEvents, st.Slots.ForcedReuseCount, tw.StateDigest())
}

func writeSnapshot(dataDir string, snap snapshot.SnapshotV1, idx *indexdb.SQLiteIndex, logger *log.Logger) string {
	path := snapshot.Path(dataDir, snap.Header.Tick)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return ""
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	return path
}

func startHTTP(ctx context.Context, addr string, tw *town.Town, hub *observer.Hub, idx *indexdb.SQLiteIndex, logger *log.Logger) *http.Server {
	obs := observer.NewServer(hub, tw, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(tw, hub, idx))
	mux.HandleFunc("/v1/observer/state", obs.StateHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/ws", ws.NewServer(tw, tw.Tuning().TickRateHz, logger).Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		logger.Printf("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("ListenAndServe: %v", err)
		}
	}()
	return srv
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

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
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
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
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
