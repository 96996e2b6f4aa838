// Command mapview is an interactive terminal map. Drag to pan, use the
// wheel to zoom, hover for details; 1-3 switch dimension, f fits the
// players, c centers on the hovered entity, t toggles tile hover, q quits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/gdamore/tcell/v2"
	"github.com/golang/glog"

	"bytefi.sh/pkg/worldmap/clock"
	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/compositor/avatar"
	"bytefi.sh/pkg/worldmap/compositor/gpu"
	"bytefi.sh/pkg/worldmap/compositor/raster"
	"bytefi.sh/pkg/worldmap/datasets"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/livedata"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/tilecache"
	"bytefi.sh/pkg/worldmap/viewport"
)

var (
	streamURL   = flag.String("stream_url", "ws://localhost:8080/ws", "websocket stream of live players and locations")
	cachePath   = flag.String("cache_path", "worldmap.db", "bolt file caching tile datasets; empty keeps them in memory")
	dim         = flag.String("dim", "ow", "dimension shown first (name or dataset key)")
	useGPU      = flag.Bool("gpu", true, "draw with the vertex pipeline, falling back to the raster compositor")
	avatars     = flag.Bool("avatars", true, "download player avatars")
	supersample = flag.Int("supersample", 4, "surface pixels per terminal pixel")
	perfMonitor = flag.Bool("perf_monitor", false, "log render timings every second at -v=1")
)

func newRenderer(vp viewport.Dimensions, av compositor.AvatarSource) (compositor.Renderer, error) {
	if *useGPU {
		r, err := newGPU(vp, av)
		if err == nil {
			return r, nil
		}
		glog.Warningf("mapview: falling back to raster: %v", err)
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

// wake is a latest-wins redraw request.
type wake chan struct{}

func (w wake) poke() {
	select {
	case w <- struct{}{}:
	default:
	}
}

func main() {
	datasets.SetupFlags(flag.CommandLine, datasets.Default)
	flagutil.Parse()

	first, err := gameworld.ParseDimension(*dim)
	if err != nil {
		glog.Exitf("mapview: %v", err)
	}
	if err := run(first); err != nil {
		fmt.Fprintf(os.Stderr, "mapview: %v\n", err)
		os.Exit(1)
	}
}

func run(first gameworld.Dimension) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store tilecache.Store = tilecache.NewMemoryStore()
	if *cachePath != "" {
		store = tilecache.NewBoltStore(*cachePath)
	}
	defer store.Close()
	grids, err := datasets.Default.Load(ctx, tilecache.New(store, tilecache.DefaultConfig()))
	if err != nil {
		glog.Warningf("mapview: %v", err)
	}

	redraw := make(wake, 1)

	var av compositor.AvatarSource
	if *avatars {
		c := avatar.New(&avatar.HTTPFetcher{}, avatar.Options{OnReady: func(string) { redraw.poke() }})
		defer c.Close()
		av = c
	}

	cfg := livedata.DefaultConfig()
	cfg.URL = *streamURL
	cfg.OnChange = func(livedata.View) { redraw.poke() }
	ch, err := livedata.New(cfg)
	if err != nil {
		return err
	}
	defer ch.Close()

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	screen.EnableMouse()

	v := newView(first, *supersample)
	v.resize(screen.Size())

	r, err := newRenderer(v.surface(), av)
	if err != nil {
		return err
	}
	defer r.Cleanup()

	var status atomic.Pointer[string]
	statusStyle := tcell.StyleDefault.Reverse(true)
	th := compositor.NewThrottle(clock.Real, 0, func(f *compositor.Frame) {
		if err := r.RenderFrame(f); err != nil {
			glog.Errorf("mapview: %v", err)
			return
		}
		cols, rows := f.Viewport.Width/v.supersample, f.Viewport.Height/(2*v.supersample)
		blit(screen, halfBlocks(r.Image(), cols, rows), cols)
		if s := status.Load(); s != nil {
			drawText(screen, rows, cols, *s, statusStyle)
		}
		screen.Show()
	})
	defer th.Stop()
	if *perfMonitor {
		m := compositor.NewMonitor(clock.Real, 0, nil)
		th.SetMonitor(m)
		if mr, ok := r.(interface{ SetMonitor(*compositor.Monitor) }); ok {
			mr.SetMonitor(m)
		}
	}

	events := make(chan tcell.Event, 64)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	grid := func(d gameworld.Dimension) *spatial.Grid {
		if idx := grids[d]; idx != nil {
			return idx.Load()
		}
		return nil
	}

	submit := func() {
		lv := ch.State()
		vp := v.surface()
		if vp.Empty() {
			return
		}
		g := grid(v.dim)
		h := v.pick(g, lv.Snapshot)
		s := v.status(lv)
		status.Store(&s)
		th.Submit(compositor.NewFrame(g, v.t, vp, lv.Snapshot, h, compositor.Options{
			Dimension: v.dim,
			TileHover: v.tileHover,
		}))
	}

	submit()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventResize:
				v.resize(screen.Size())
				screen.Sync()
				submit()
			case *tcell.EventMouse:
				x, y := ev.Position()
				if v.mouse(x, y, ev.Buttons()) {
					submit()
				}
			case *tcell.EventKey:
				changed, quit := v.key(ev, ch.State().Snapshot.PlayersIn(v.dim))
				if quit {
					return nil
				}
				if changed {
					submit()
				}
			}
		case <-redraw:
			submit()
		}
	}
}
