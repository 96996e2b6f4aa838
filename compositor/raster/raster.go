// Package raster is the image/draw implementation of compositor.Renderer.
//
// The tile layer is painted onto an offscreen image and copied onto the
// surface every frame. It is repainted only when the tile set, the
// transform, the surface size or the hovered tile change, so frames where
// only players move cost one copy plus the entities.
package raster

import (
	"image"
	"image/draw"
	"slices"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/viewport"
)

// layerKey identifies what the offscreen tile layer currently shows.
type layerKey struct {
	generation uint64
	transform  viewport.Transform
	viewport   viewport.Dimensions
	hovered    gameworld.Tile
	hasHover   bool
}

// Stats counts work done, mostly for tests and the debug page.
type Stats struct {
	Frames         int
	TileLayerDraws int
}

type Renderer struct {
	avatars compositor.AvatarSource

	mu      sync.Mutex
	surface *image.RGBA
	layer   *image.RGBA
	key     layerKey
	cells   []spatial.CellKey
	valid   bool
	labels  *compositor.Labeler
	monitor *compositor.Monitor
	stats   Stats
	closed  bool
}

var _ compositor.Renderer = (*Renderer)(nil)

// New allocates a renderer for a surface of the given size. avatars may be
// nil, in which case players are drawn as plain markers.
func New(vp viewport.Dimensions, avatars compositor.AvatarSource) (*Renderer, error) {
	if vp.Empty() {
		return nil, errors.Wrapf(compositor.ErrInitialization, "raster: %dx%d surface", vp.Width, vp.Height)
	}
	r := &Renderer{
		avatars: avatars,
		labels:  compositor.NewLabeler(),
	}
	r.allocate(vp)
	return r, nil
}

func (r *Renderer) allocate(vp viewport.Dimensions) {
	rect := image.Rect(0, 0, vp.Width, vp.Height)
	r.surface = image.NewRGBA(rect)
	r.layer = image.NewRGBA(rect)
	r.valid = false
}

// RenderFrame draws f. A frame with a different viewport resizes the
// surface.
func (r *Renderer) RenderFrame(f *compositor.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return compositor.ErrClosed
	}
	if f.Viewport.Empty() {
		return errors.Errorf("raster: empty viewport %dx%d", f.Viewport.Width, f.Viewport.Height)
	}
	if f.Transform.Scale <= 0 {
		return errors.Errorf("raster: scale %v", f.Transform.Scale)
	}
	if b := r.surface.Bounds(); b.Dx() != f.Viewport.Width || b.Dy() != f.Viewport.Height {
		glog.V(2).Infof("raster: resizing surface to %dx%d", f.Viewport.Width, f.Viewport.Height)
		r.allocate(f.Viewport)
	}

	sample := r.monitor.StartFrame()
	key := layerKey{generation: f.Generation, transform: f.Transform, viewport: f.Viewport}
	key.hovered, key.hasHover = f.HoveredTile()
	drawn := 0
	if !r.valid || key != r.key || !slices.Equal(f.Cells, r.cells) {
		drawn = r.drawTileLayer(f)
		r.key = key
		r.cells = slices.Clone(f.Cells)
		r.valid = true
		r.stats.TileLayerDraws++
	}

	draw.Draw(r.surface, r.surface.Bounds(), r.layer, image.Point{}, draw.Src)
	sample.TileLayer(drawn)
	r.drawLocations(f)
	r.drawPlayers(f)
	sample.EntityLayer()
	r.stats.Frames++
	sample.End()
	return nil
}

// drawTileLayer repaints the offscreen layer and returns the number of
// tiles painted.
func (r *Renderer) drawTileLayer(f *compositor.Frame) int {
	compositor.FillRect(r.layer, r.layer.Bounds(), compositor.Background)
	size := gameworld.TileSize * f.Transform.Scale
	n := 0
	for _, g := range compositor.GroupByColor(f.Tiles) {
		src := image.NewUniform(compositor.TileColor(g.Tiles[0]))
		for _, t := range g.Tiles {
			px, py := viewport.WorldToViewport(float64(t.X), float64(t.Z), f.Transform, f.Viewport)
			draw.Draw(r.layer, compositor.PixelRect(px, py, size), src, image.Point{}, draw.Over)
		}
		n += len(g.Tiles)
	}

	t, ok := f.HoveredTile()
	if !ok {
		return n
	}
	px, py := viewport.WorldToViewport(float64(t.X), float64(t.Z), f.Transform, f.Viewport)
	rect := compositor.PixelRect(px, py, size)
	compositor.FillRect(r.layer, rect, compositor.TileColor(t))
	compositor.StrokeRect(r.layer, rect, 2, compositor.HoverColor)
	return n
}

func (r *Renderer) drawLocations(f *compositor.Frame) {
	for _, l := range f.Locations {
		if !f.Visible(l.Dimension) {
			continue
		}
		hovered := f.Hover.IsLocation(l)
		c := compositor.LocationColor(l, hovered)
		px, py := viewport.WorldToViewport(l.X, l.Z, f.Transform, f.Viewport)
		compositor.FillCircle(r.surface, px, py, compositor.LocationIconSize/2, c)
		r.labels.Draw(r.surface, l.Name, int(px), int(py)-compositor.LocationLabelOffset, c, l.ServerOwned())
	}
}

func (r *Renderer) drawPlayers(f *compositor.Frame) {
	const size = compositor.PlayerIconSize
	for _, p := range f.Players {
		if !f.Visible(p.Dimension) {
			continue
		}
		hovered := f.Hover.IsPlayer(p)
		px, py := viewport.WorldToViewport(p.X, p.Z, f.Transform, f.Viewport)
		rect := compositor.PixelRect(px, py, size)

		var avatar image.Image
		if r.avatars != nil {
			avatar, _ = r.avatars.Get(p.Name)
		}
		if avatar != nil {
			draw.Draw(r.surface, rect, avatar, avatar.Bounds().Min, draw.Over)
		} else {
			compositor.FillCircle(r.surface, px, py, size/2, compositor.PlayerLocation)
		}

		label := compositor.LabelColor
		if hovered {
			compositor.StrokeRect(r.surface, rect.Inset(-2), 2, compositor.HoverColor)
			label = compositor.HoverColor
		}
		r.labels.Draw(r.surface, p.Name, int(px), int(py)-compositor.PlayerLabelOffset, label, false)
	}
}

// Pick resolves the pointer against q; it does not look at the surface.
func (r *Renderer) Pick(q hover.Query) hover.State {
	return hover.Pick(q)
}

// Image returns the surface. It is overwritten by the next RenderFrame.
func (r *Renderer) Image() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surface
}

// SetMonitor makes the renderer report frame timings to m; nil stops it.
func (r *Renderer) SetMonitor(m *compositor.Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor = m
}

func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Renderer) Cleanup() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.layer = nil
	r.cells = nil
	return r.labels.Close()
}
