package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"worldsync.dev/internal/entity"
	"worldsync.dev/internal/persistence/indexdb"
	persistlog "worldsync.dev/internal/persistence/log"
	"worldsync.dev/internal/persistence/snapshot"
	"worldsync.dev/internal/protocol"
	"worldsync.dev/internal/sim/arena"
	"worldsync.dev/internal/sim/tuning"
	"worldsync.dev/internal/transport/ws"
	"worldsync.dev/internal/wire"
)

const usecsPerSecond = 1_000_000

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
		nodeFlag   = flag.String("node", "", "server node id (default: random)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite edit/snapshot index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	_ = os.MkdirAll(*dataDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*dataDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if tune.ProtocolVersion != wire.CurrentVersion {
		logger.Fatalf("tuning protocol_version=%d, binary speaks %d", tune.ProtocolVersion, wire.CurrentVersion)
	}

	node := uuid.New()
	if strings.TrimSpace(*nodeFlag) != "" {
		node, err = uuid.Parse(*nodeFlag)
		if err != nil {
			logger.Fatalf("bad -node: %v", err)
		}
	}

	a := arena.New(arena.Config{
		Entity: entity.Config{
			MaxActionDataSize:  tune.MaxActionDataBytes,
			ActionTombstoneTTL: uint64(tune.ActionTombstoneTTLSecs) * usecsPerSecond,
		},
		DeletedTTL: uint64(tune.DeletedTTLSecs) * usecsPerSecond,
		LocalNode:  node,
	})

	editLog := persistlog.NewEditLogger(*dataDir)
	defer editLog.Close()
	a.SetEditLogger(editLog)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		a.SetEditIndexer(idx)
		if err := idx.RecordTuning(tune); err != nil {
			logger.Printf("index: record tuning: %v", err)
		}
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		n, err := snapshot.Restore(a, snap)
		if err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s entities=%d", filepath.Base(snapshotToLoad), n)
	}

	ctx, cancel := signalContext()
	defer cancel()

	wsSrv := ws.NewServer(a, tune, node, nil, logger)

	go runTicks(ctx, a, wsSrv, idx, tune, *dataDir, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP worldsync_entities Current entity count.\n")
		fmt.Fprintf(rw, "# TYPE worldsync_entities gauge\n")
		fmt.Fprintf(rw, "worldsync_entities %d\n", a.Len())

		fmt.Fprintf(rw, "# HELP worldsync_entities_moving Entities in the active kinematic set.\n")
		fmt.Fprintf(rw, "# TYPE worldsync_entities_moving gauge\n")
		fmt.Fprintf(rw, "worldsync_entities_moving %d\n", a.Simulation().Moving())

		fmt.Fprintf(rw, "# HELP worldsync_sessions Connected websocket peers.\n")
		fmt.Fprintf(rw, "# TYPE worldsync_sessions gauge\n")
		fmt.Fprintf(rw, "worldsync_sessions %d\n", wsSrv.Sessions())
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

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

	logger.Printf("node=%s listening on %s", node, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// runTicks drives the simulation, the broadcast stream, tombstone expiry
// and the snapshot cadence.
func runTicks(ctx context.Context, a *arena.Arena, wsSrv *ws.Server, idx *indexdb.SQLiteIndex, tune tuning.Tuning, dataDir string, logger *log.Logger) {
	tick := time.NewTicker(time.Second / time.Duration(tune.TickRateHz))
	defer tick.Stop()

	snapEvery := time.Duration(tune.SnapshotEverySecs) * time.Second
	lastSnap := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			now := entity.SystemClock()
			a.Simulation().Step(now)
			a.PruneDeleted(now)

			if ids := a.PruneExpired(); len(ids) > 0 {
				wsSrv.Broadcast(protocol.EncodeEraseFrame(ids))
			}

			p := wire.NewPacket(tune.PacketBudgetBytes)
			if n := a.AppendUpdates(p, wire.CurrentVersion); n > 0 {
				wsSrv.Broadcast(protocol.EncodeDataFrameCompressed(p.Bytes()))
			}

			if snapEvery > 0 && time.Since(lastSnap) >= snapEvery {
				lastSnap = time.Now()
				snap := snapshot.Capture(a, now)
				path := filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", now))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				logger.Printf("snapshot entities=%d path=%s", snap.Header.Entities, filepath.Base(path))
			}
		}
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

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestStamp uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		stamp, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || stamp > bestStamp {
			bestStamp = stamp
			best = filepath.Join(dir, name)
		}
	}
	return best
}
