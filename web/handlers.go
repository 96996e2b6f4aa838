package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/compositor/raster"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/tilecache"
	"bytefi.sh/pkg/worldmap/viewport"
)

// DatasetCacheControl lets edge caches keep datasets for a day and serve
// them stale for a week while revalidating.
const DatasetCacheControl = "public, max-age=86400, stale-while-revalidate=604800"

const (
	frameCacheControl = "public, max-age=5"
	// bump if the way frames are drawn changes
	generation = 1
)

// SnapshotSource is anything holding the current foreground layer, such as
// a livedata.Channel or a livefeed.Hub.
type SnapshotSource interface {
	Snapshot() *gameworld.Snapshot
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func() *gameworld.Snapshot

func (f SnapshotFunc) Snapshot() *gameworld.Snapshot { return f() }

type Config struct {
	MaxWidth, MaxHeight int
	// FrameCacheBytes bounds the encoded frames kept in memory.
	FrameCacheBytes int64
	FrameTTL        time.Duration
	// Monitor, if set, receives the timings of rendered frames.
	Monitor *compositor.Monitor
}

func DefaultConfig() Config {
	return Config{
		MaxWidth:        4096,
		MaxHeight:       4096,
		FrameCacheBytes: 64 << 20,
		FrameTTL:        time.Minute,
	}
}

type Handler struct {
	renderLock sync.Mutex
	renderer   *raster.Renderer

	grids    map[gameworld.Dimension]*spatial.Index
	live     SnapshotSource
	datasets func(gameworld.Dimension) tilecache.FetchFunc
	frames   *ristretto.Cache[string, []byte]
	cfg      Config
}

// NewHandler constructs the map surface. grids holds one index per
// dimension; a missing dimension renders as background. live and datasets
// may be nil.
func NewHandler(grids map[gameworld.Dimension]*spatial.Index, live SnapshotSource, datasets func(gameworld.Dimension) tilecache.FetchFunc, cfg Config) (*Handler, error) {
	if cfg.FrameCacheBytes <= 0 {
		cfg.FrameCacheBytes = DefaultConfig().FrameCacheBytes
	}
	rr, err := raster.New(viewport.Dimensions{Width: 1, Height: 1}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "web: creating renderer")
	}
	rr.SetMonitor(cfg.Monitor)
	frames, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10000,
		MaxCost:     cfg.FrameCacheBytes,
		BufferItems: 64,
	})
	if err != nil {
		rr.Cleanup()
		return nil, errors.Wrap(err, "web: creating frame cache")
	}
	return &Handler{
		renderer: rr,
		grids:    grids,
		live:     live,
		datasets: datasets,
		frames:   frames,
		cfg:      cfg,
	}, nil
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/map.png", h.mapHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/hover", h.hoverHandler).Methods(http.MethodGet)
	r.HandleFunc("/datasets/{key}.json.gz", h.datasetHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/view", h.viewHandler).Methods(http.MethodGet)
}

// Close releases the renderer and the frame cache.
func (h *Handler) Close() error {
	h.frames.Close()
	h.renderLock.Lock()
	defer h.renderLock.Unlock()
	return h.renderer.Cleanup()
}

func (h *Handler) grid(d gameworld.Dimension) *spatial.Grid {
	if idx := h.grids[d]; idx != nil {
		return idx.Load()
	}
	return nil
}

func (h *Handler) snapshot() *gameworld.Snapshot {
	if h.live == nil {
		return nil
	}
	return h.live.Snapshot()
}

// frameParams is a parsed map request.
type frameParams struct {
	dim       gameworld.Dimension
	t         viewport.Transform
	vp        viewport.Dimensions
	px, py    float64
	pointer   bool
	tileHover bool
}

func (h *Handler) parseFrame(r *http.Request) (frameParams, error) {
	q := r.URL.Query()
	p := frameParams{
		dim: gameworld.Overworld,
		t:   viewport.Transform{Scale: 1},
		vp:  viewport.Dimensions{Width: 800, Height: 600},
	}
	if s := q.Get("dim"); s != "" {
		d, err := gameworld.ParseDimension(s)
		if err != nil {
			return p, err
		}
		p.dim = d
	}

	floats := []struct {
		name string
		dst  *float64
	}{{"x", &p.t.X}, {"z", &p.t.Z}, {"scale", &p.t.Scale}, {"px", &p.px}, {"py", &p.py}}
	for _, f := range floats {
		s := q.Get(f.name)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return p, errors.Errorf("%s not a number", f.name)
		}
		*f.dst = v
	}
	p.t = p.t.Clamped()
	p.pointer = q.Has("px") && q.Has("py")

	ints := []struct {
		name string
		dst  *int
		max  int
	}{{"w", &p.vp.Width, h.cfg.MaxWidth}, {"h", &p.vp.Height, h.cfg.MaxHeight}}
	for _, f := range ints {
		s := q.Get(f.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || (f.max > 0 && v > f.max) {
			return p, errors.Errorf("%s out of range", f.name)
		}
		*f.dst = v
	}

	if s := q.Get("tilehover"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return p, errors.New("tilehover not a boolean")
		}
		p.tileHover = b
	}
	return p, nil
}

func (h *Handler) pick(p frameParams, g *spatial.Grid, snap *gameworld.Snapshot) hover.State {
	if !p.pointer {
		return hover.State{}
	}
	q := hover.Query{
		PX:        p.px,
		PY:        p.py,
		Transform: p.t,
		Viewport:  p.vp,
		Grid:      g,
		Dimension: p.dim,
		TileHover: p.tileHover,
	}
	if snap != nil {
		q.Players, q.Locations = snap.Players, snap.Locations
	}
	return hover.Pick(q)
}

func (h *Handler) frame(p frameParams) *compositor.Frame {
	g := h.grid(p.dim)
	snap := h.snapshot()
	return compositor.NewFrame(g, p.t, p.vp, snap, h.pick(p, g, snap), compositor.Options{
		Dimension: p.dim,
		TileHover: p.tileHover,
	})
}

// etag identifies a frame by everything that goes into drawing it. The
// pointer position only matters through the hover state it resolves to.
func etag(p frameParams, f *compositor.Frame) string {
	d := xxhash.New()
	json.NewEncoder(d).Encode(f.Players)
	json.NewEncoder(d).Encode(f.Locations)
	json.NewEncoder(d).Encode(f.Hover)
	return fmt.Sprintf(`W/"map:%d:%s:%d:%016x:%g,%g,%g:%dx%d:%t"`,
		generation, p.dim.DatasetKey(), f.Generation, d.Sum64(),
		p.t.X, p.t.Z, p.t.Scale, p.vp.Width, p.vp.Height, p.tileHover)
}

func (h *Handler) render(f *compositor.Frame) ([]byte, error) {
	h.renderLock.Lock()
	defer h.renderLock.Unlock()
	if err := h.renderer.RenderFrame(f); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, h.renderer.Image()); err != nil {
		return nil, errors.Wrap(err, "encoding frame")
	}
	return buf.Bytes(), nil
}

// renderCached returns the encoded frame for tag, drawing it on a miss.
func (h *Handler) renderCached(tag string, f *compositor.Frame) ([]byte, error) {
	if b, ok := h.frames.Get(tag); ok {
		return b, nil
	}
	b, err := h.render(f)
	if err != nil {
		return nil, err
	}
	h.frames.SetWithTTL(tag, b, int64(len(b)), h.cfg.FrameTTL)
	return b, nil
}

func (h *Handler) mapHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseFrame(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := h.frame(p)
	tag := etag(p, f)

	if r.Header.Get("If-None-Match") == tag {
		w.Header().Set("Cache-Control", frameCacheControl)
		w.Header().Set("ETag", tag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	b, err := h.renderCached(tag, f)
	if err != nil {
		glog.Errorf("web: rendering %s: %v", r.URL, err)
		http.Error(w, "frame could not be rendered", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("Cache-Control", frameCacheControl)
	w.Header().Set("ETag", tag)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(b)
	}
}

// HoverResponse is the body of /hover.
type HoverResponse struct {
	Kind        string              `json:"kind"`
	Description string              `json:"description,omitempty"`
	Player      *gameworld.Player   `json:"player,omitempty"`
	Location    *gameworld.Location `json:"location,omitempty"`
	Tile        *gameworld.Tile     `json:"tile,omitempty"`
	WorldX      float64             `json:"world_x"`
	WorldZ      float64             `json:"world_z"`
}

func (h *Handler) hoverHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.parseFrame(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !p.pointer {
		http.Error(w, "px and py are required", http.StatusBadRequest)
		return
	}
	g := h.grid(p.dim)
	s := h.pick(p, g, h.snapshot())

	resp := HoverResponse{Kind: s.Kind.String(), Description: describe(s)}
	resp.WorldX, resp.WorldZ = viewport.ViewportToWorld(p.px, p.py, p.t, p.vp)
	switch s.Kind {
	case hover.Player:
		resp.Player = &s.Player
	case hover.Location:
		resp.Location = &s.Location
	case hover.Tile:
		resp.Tile = &s.Tile
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		glog.Warningf("web: writing hover response: %v", err)
	}
}

// describe is the caption for s; players are described by name.
func describe(s hover.State) string {
	if s.Kind == hover.Player {
		return s.Player.Name
	}
	return s.Description
}

func (h *Handler) datasetHandler(w http.ResponseWriter, r *http.Request) {
	d, err := gameworld.ParseDimension(mux.Vars(r)["key"])
	if err != nil || h.datasets == nil {
		http.NotFound(w, r)
		return
	}

	tiles, err := h.datasets(d)(r.Context())
	if err != nil {
		glog.Errorf("web: loading dataset %s: %v", d.DatasetKey(), err)
		http.Error(w, "dataset unavailable", http.StatusBadGateway)
		return
	}
	var buf bytes.Buffer
	if err := gameworld.EncodeDataset(&buf, tiles); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tag := fmt.Sprintf(`W/"dataset:%s:%016x"`, d.DatasetKey(), xxhash.Sum64(buf.Bytes()))
	if r.Header.Get("If-None-Match") == tag {
		w.Header().Set("Cache-Control", DatasetCacheControl)
		w.Header().Set("ETag", tag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", DatasetCacheControl)
	w.Header().Set("ETag", tag)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(buf.Bytes())
	}
}
