// Command mapprint renders one frame of the map and prints it on the
// terminal or writes it to a PNG file.
package main

import (
	"context"
	"flag"
	"image"
	"image/png"
	"os"
	"time"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/golang/glog"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/compositor/avatar"
	"bytefi.sh/pkg/worldmap/compositor/gpu"
	"bytefi.sh/pkg/worldmap/compositor/raster"
	"bytefi.sh/pkg/worldmap/datasets"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/imageprint"
	"bytefi.sh/pkg/worldmap/livedata"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/tilecache"
	"bytefi.sh/pkg/worldmap/viewport"
)

var (
	dim      = flag.String("dim", "ow", "dimension to draw (name or dataset key)")
	centerX  = flag.Float64("x", 0, "world x at the center of the frame")
	centerZ  = flag.Float64("z", 0, "world z at the center of the frame")
	scale    = flag.Float64("scale", 1, "pixels per block")
	fit      = flag.Bool("fit", false, "frame the players of the dimension instead of using -x, -z and -scale")
	width    = flag.Int("w", 800, "frame width in pixels")
	height   = flag.Int("h", 600, "frame height in pixels")
	useGPU   = flag.Bool("gpu", false, "draw with the vertex pipeline instead of the raster compositor")
	apiURL   = flag.String("api_url", "", "server polled once for players and locations, e.g. http://localhost:8080")
	avatars  = flag.Bool("avatars", false, "download player avatars before drawing")
	cacheDB  = flag.String("cache_path", "worldmap.db", "bolt file caching tile datasets; empty keeps them in memory")
	outPath  = flag.String("out", "", "write a PNG here instead of printing")
	mode     = flag.String("mode", "auto", "terminal output: auto, 24bit, 256, none, iterm or rasterm")
	blanks   = flag.Bool("blanks", true, "whether to just use colored blanks instead of some bad ascii art")
	downsize = flag.Bool("downsize", true, "shrink the frame to fit the terminal")
)

func newRenderer(vp viewport.Dimensions, av compositor.AvatarSource) (compositor.Renderer, error) {
	if *useGPU {
		r, err := newGPU(vp, av)
		if err == nil {
			return r, nil
		}
		glog.Warningf("mapprint: falling back to raster: %v", err)
	}
	return raster.New(vp, av)
}

func newGPU(vp viewport.Dimensions, av compositor.AvatarSource) (*gpu.Renderer, error) {
	dev, err := gpu.NewSoftwareDevice(vp.Width, vp.Height)
	if err != nil {
		return nil, err
	}
	return gpu.New(dev, av, gpu.DefaultConfig())
}

func fetchSnapshot(ctx context.Context) (*gameworld.Snapshot, error) {
	if *apiURL == "" {
		return nil, nil
	}
	src := &livedata.HTTPSource{BaseURL: *apiURL}
	snap := &gameworld.Snapshot{Timestamp: time.Now().UnixMilli()}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.Players, err = src.Players(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Locations, err = src.Locations(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "polling players and locations")
	}
	return snap, nil
}

// preload waits, within ctx, for the avatars of players so the single
// frame can show them.
func preload(ctx context.Context, c *avatar.Cache, players []gameworld.Player) {
	var g errgroup.Group
	for _, p := range players {
		g.Go(func() error {
			if _, err := c.Load(ctx, p.Name); err != nil {
				glog.Warningf("mapprint: %v", err)
			}
			return nil
		})
	}
	g.Wait()
}

func out(img image.Image) error {
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	m, err := imageprint.ParseMode(*mode)
	if err != nil {
		return err
	}
	if *downsize {
		if ts, err := GetTermSize(); err == nil {
			inline := m == imageprint.Rasterm || m == imageprint.ITerm || (m == imageprint.Auto && imageprint.InlineCapable())
			if ts.WSXPixel != 0 && ts.WSYPixel != 0 && inline {
				// Inline images can use the real pixel size of the window.
				img = resize.Thumbnail(ts.WSXPixel, ts.WSYPixel, img, resize.Lanczos3)
			} else {
				// Every pixel takes two columns.
				img = resize.Thumbnail(ts.WSCol/2, ts.WSRow, img, resize.Lanczos3)
			}
		}
	}
	return imageprint.Print(os.Stdout, img, m, *blanks)
}

func main() {
	datasets.SetupFlags(flag.CommandLine, datasets.Default)
	flagutil.Parse()
	flag.Set("logtostderr", "true")

	d, err := gameworld.ParseDimension(*dim)
	if err != nil {
		glog.Exitf("mapprint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var store tilecache.Store = tilecache.NewMemoryStore()
	if *cacheDB != "" {
		store = tilecache.NewBoltStore(*cacheDB)
	}
	defer store.Close()
	tiles, err := tilecache.LoadWithFallback(ctx, tilecache.New(store, tilecache.DefaultConfig()), tilecache.KeyFor(d), datasets.Default.ForDimension(d))
	if err != nil {
		glog.Warningf("mapprint: drawing without tiles: %v", err)
	}

	snap, err := fetchSnapshot(ctx)
	if err != nil {
		glog.Warningf("mapprint: drawing without players: %v", err)
	}

	vp := viewport.Dimensions{Width: *width, Height: *height}
	t := viewport.Transform{X: *centerX, Z: *centerZ, Scale: *scale}.Clamped()
	if *fit {
		t = viewport.FitPlayers(snap.PlayersIn(d), vp)
	}

	var av compositor.AvatarSource
	if *avatars && snap != nil {
		c := avatar.New(&avatar.HTTPFetcher{}, avatar.Options{})
		defer c.Close()
		actx, acancel := context.WithTimeout(ctx, 10*time.Second)
		preload(actx, c, snap.PlayersIn(d))
		acancel()
		av = c
	}

	r, err := newRenderer(vp, av)
	if err != nil {
		glog.Exitf("mapprint: %v", err)
	}
	defer r.Cleanup()

	g := spatial.Build(tiles, spatial.DefaultCellSize)
	f := compositor.NewFrame(g, t, vp, snap, hover.State{}, compositor.Options{Dimension: d})
	if err := r.RenderFrame(f); err != nil {
		glog.Exitf("mapprint: rendering: %v", err)
	}
	if err := out(r.Image()); err != nil {
		glog.Exitf("mapprint: %v", err)
	}
}
