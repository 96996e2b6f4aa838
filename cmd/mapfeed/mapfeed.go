// Command mapfeed serves the streaming and polling endpoints with moving
// players, plus procedurally generated datasets, so the map clients can
// run without a game server.
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

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/livefeed"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/tilecache"
	"bytefi.sh/pkg/worldmap/web"
)

var (
	listenAddress = flag.String("listen_address", ":8080", "http listen address for mapfeed")
	synthetic     = flag.Int("synthetic", 0, "if positive, replace the cast with this many clones of the first player")
	interval      = flag.Duration("interval", time.Second, "time between published snapshots")
	speed         = flag.Float64("speed", 4, "maximum blocks a player moves per tick")
	seed          = flag.Uint64("seed", 1, "seed for player movement and generated datasets")
	radius        = flag.Int("radius", 2048, "half-width in blocks of the generated datasets")
)

var cast = []gameworld.Player{
	{Name: "Notch", X: 0, Z: 0, Dimension: gameworld.Overworld},
	{Name: "jeb_", X: 120, Z: -64, Dimension: gameworld.Overworld},
	{Name: "Dinnerbone", X: -300, Z: 210, Dimension: gameworld.Overworld},
	{Name: "Grumm", X: 16, Z: 40, Dimension: gameworld.Nether},
	{Name: "Searge", X: 0, Z: 0, Dimension: gameworld.End},
}

var places = []gameworld.Location{
	{Name: "Spawn", Owner: gameworld.OwnerServer, X: 0, Z: 0, Dimension: gameworld.Overworld, Description: "World spawn"},
	{Name: "Market", Owner: gameworld.OwnerServer, X: 256, Z: 128, Dimension: gameworld.Overworld},
	{Name: "jeb_'s base", Owner: "jeb_", X: 140, Z: -80, Dimension: gameworld.Overworld},
	{Name: "Portal hub", Owner: gameworld.OwnerServer, X: 0, Z: 0, Dimension: gameworld.Nether},
}

func main() {
	flagutil.Parse()

	players := cast
	if *synthetic > 0 {
		players = gameworld.SyntheticPlayers(cast[0], *synthetic)
	}

	hub := livefeed.NewHub()
	defer hub.Close()
	sim := livefeed.NewSimulator(hub, players, places, *interval, *speed, *seed)

	sets := make(map[gameworld.Dimension][]gameworld.Tile, len(gameworld.Dimensions))
	grids := make(map[gameworld.Dimension]*spatial.Index, len(gameworld.Dimensions))
	for _, d := range gameworld.Dimensions {
		sets[d] = gameworld.GenerateDataset(d, *radius, int64(*seed))
		grids[d] = &spatial.Index{}
		grids[d].Rebuild(sets[d], spatial.DefaultCellSize)
		glog.Infof("mapfeed: generated %d %s tiles", len(sets[d]), d.Title())
	}
	generated := func(d gameworld.Dimension) tilecache.FetchFunc {
		return func(context.Context) ([]gameworld.Tile, error) {
			return sets[d], nil
		}
	}

	wh, err := web.NewHandler(grids, hub, generated, web.DefaultConfig())
	if err != nil {
		glog.Fatalf("mapfeed: %v", err)
	}
	defer wh.Close()

	r := mux.NewRouter()
	livefeed.NewHandler(hub).RegisterRoutes(r)
	wh.RegisterRoutes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sim.Run(ctx)

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

	glog.Infof("mapfeed: %d players on %s", len(players), *listenAddress)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		glog.Fatalf("mapfeed: %v", err)
	}
}
