// Command mapweb renders the map over HTTP: PNG frames, hover lookups and
// the tile datasets themselves.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/golang/glog"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/trace"

	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/datasets"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/livedata"
	"bytefi.sh/pkg/worldmap/tilecache"
	"bytefi.sh/pkg/worldmap/web"
)

var (
	listenAddress = flag.String("listen_address", ":8081", "http listen address for mapweb")
	streamURL     = flag.String("stream_url", "ws://localhost:8080/ws", "websocket stream of live players and locations; empty to draw tiles only")
	cachePath     = flag.String("cache_path", "worldmap.db", "bolt file caching tile datasets; empty keeps them in memory")
	maxSize       = flag.Int("max_size", 4096, "largest frame width or height served")
	frameCacheMB  = flag.Int("frame_cache_mb", 64, "memory for encoded frames, in MiB")
	perfMonitor   = flag.Bool("perf_monitor", false, "log render timings every second at -v=1")
)

func openStore() tilecache.Store {
	if *cachePath == "" {
		return tilecache.NewMemoryStore()
	}
	return tilecache.NewBoltStore(*cachePath)
}

func main() {
	datasets.SetupFlags(flag.CommandLine, datasets.Default)
	flagutil.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore()
	defer store.Close()
	cache := tilecache.New(store, tilecache.DefaultConfig())
	grids, err := datasets.Default.Load(ctx, cache)
	if err != nil {
		glog.Warningf("mapweb: serving with missing datasets: %v", err)
	}

	var live web.SnapshotSource
	if *streamURL != "" {
		cfg := livedata.DefaultConfig()
		cfg.URL = *streamURL
		ch, err := livedata.New(cfg)
		if err != nil {
			glog.Fatalf("mapweb: %v", err)
		}
		defer ch.Close()
		live = web.SnapshotFunc(func() *gameworld.Snapshot { return ch.State().Snapshot })
	}

	cfg := web.DefaultConfig()
	cfg.MaxWidth, cfg.MaxHeight = *maxSize, *maxSize
	cfg.FrameCacheBytes = int64(*frameCacheMB) << 20
	if *perfMonitor {
		cfg.Monitor = compositor.NewMonitor(nil, 0, nil)
	}
	cached := func(d gameworld.Dimension) tilecache.FetchFunc {
		return func(ctx context.Context) ([]gameworld.Tile, error) {
			return tilecache.LoadWithFallback(ctx, cache, tilecache.KeyFor(d), datasets.Default.ForDimension(d))
		}
	}
	wh, err := web.NewHandler(grids, live, cached, cfg)
	if err != nil {
		glog.Fatalf("mapweb: %v", err)
	}
	defer wh.Close()

	r := mux.NewRouter()
	wh.RegisterRoutes(r)
	r.HandleFunc("/debug/requests", trace.Traces)
	r.HandleFunc("/debug/events", trace.Events)

	srv := &http.Server{
		Addr:    *listenAddress,
		Handler: handlers.CombinedLoggingHandler(os.Stderr, handlers.CompressHandler(r)),
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	glog.Infof("mapweb: listening on %s", *listenAddress)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		glog.Fatalf("mapweb: %v", err)
	}
}
