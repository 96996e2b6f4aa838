// Package compositor draws map frames: the static tile layer first, then
// locations and players on top of it.
//
// Two renderers implement the same Renderer contract: compositor/raster
// paints with image/draw and keeps an offscreen copy of the tile layer,
// and compositor/gpu pushes vertex batches through a Device. Hosts do not
// care which one they hold; when the GPU renderer cannot be constructed
// they fall back to the raster one.
//
// BUG(worldmap): Labels of entities near each other overlap. There is no
// label placement pass.
package compositor

import (
	"image"
	"iter"

	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/viewport"
)

// Screen sizes of entity markers, in pixels.
const (
	PlayerIconSize   = 20
	LocationIconSize = 8
)

var (
	// ErrInitialization is returned, wrapped, when a renderer cannot
	// acquire its drawing surface or device.
	ErrInitialization = errors.New("renderer initialization failed")
	// ErrClosed is returned when rendering after Cleanup.
	ErrClosed = errors.New("renderer cleaned up")
)

type Options struct {
	// Dimension selects which entities are drawn. Empty draws all.
	Dimension gameworld.Dimension
	// TileHover enables highlighting of the tile under the pointer.
	TileHover bool
}

// Frame is the full input of one draw. Tiles and Cells describe the same
// culled set: Cells lists the keys of the cells Tiles yields, which lets a
// renderer tell whether the tile layer changed without walking it.
type Frame struct {
	Transform  viewport.Transform
	Viewport   viewport.Dimensions
	Tiles      iter.Seq[[]gameworld.Tile]
	Cells      []spatial.CellKey
	Generation uint64
	Players    []gameworld.Player
	Locations  []gameworld.Location
	Hover      hover.State
	Options    Options
}

// NewFrame culls g to the viewport and assembles a frame. snap may be nil.
func NewFrame(g *spatial.Grid, t viewport.Transform, vp viewport.Dimensions, snap *gameworld.Snapshot, h hover.State, opts Options) *Frame {
	f := &Frame{
		Transform: t,
		Viewport:  vp,
		Hover:     h,
		Options:   opts,
	}
	if g != nil {
		bounds := viewport.VisibleBounds(t, vp, 0)
		f.Tiles = g.CellsOverlapping(bounds)
		f.Cells = g.Cells(bounds)
		f.Generation = g.Generation()
	}
	if snap != nil {
		if opts.Dimension == "" {
			f.Players, f.Locations = snap.Players, snap.Locations
		} else {
			f.Players = snap.PlayersIn(opts.Dimension)
			f.Locations = snap.LocationsIn(opts.Dimension)
		}
	}
	return f
}

// HoveredTile reports the tile to highlight, if any.
func (f *Frame) HoveredTile() (gameworld.Tile, bool) {
	if f.Options.TileHover && f.Hover.Kind == hover.Tile {
		return f.Hover.Tile, true
	}
	return gameworld.Tile{}, false
}

// Visible reports whether an entity in dimension d belongs in this frame.
func (f *Frame) Visible(d gameworld.Dimension) bool {
	return f.Options.Dimension == "" || f.Options.Dimension == d
}

// Renderer draws frames onto a surface it owns.
//
// Implementations are not safe for concurrent RenderFrame calls; put a
// Throttle in front when frames arrive from several goroutines.
type Renderer interface {
	// RenderFrame draws f. Errors that only affect part of the frame are
	// logged and do not fail the call.
	RenderFrame(f *Frame) error
	// Pick resolves the pointer against the frame inputs analytically.
	Pick(q hover.Query) hover.State
	// Image is the surface the last frame was drawn to.
	Image() *image.RGBA
	// Cleanup releases all resources. Safe to call more than once.
	Cleanup() error
}

// AvatarSource hands out player avatars without blocking. A false return
// means the image is not ready yet; asking again later is cheap.
type AvatarSource interface {
	Get(name string) (image.Image, bool)
}
