package main

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/livedata"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/viewport"
)

// panStep is how many cells the arrow keys move the view.
const panStep = 8

// view is the viewer state driven by terminal input. It is owned by the
// event loop.
type view struct {
	// supersample is how many surface pixels back one terminal pixel.
	supersample int
	cols, rows  int

	dim       gameworld.Dimension
	memory    viewport.Memory
	t         viewport.Transform
	tileHover bool

	pointer      bool
	pointerX     int
	pointerY     int
	dragging     bool
	dragX, dragY int
	hovered      hover.State
}

func newView(dim gameworld.Dimension, supersample int) *view {
	if supersample <= 0 {
		supersample = 1
	}
	return &view{supersample: supersample, dim: dim, t: viewport.Initial}
}

// resize takes the terminal size; the bottom row is the status line.
func (v *view) resize(cols, rows int) {
	v.cols, v.rows = cols, rows
}

// mapRows is the number of terminal rows showing the map.
func (v *view) mapRows() int {
	if v.rows <= 1 {
		return 0
	}
	return v.rows - 1
}

// surface is the renderer's surface size for the current terminal.
func (v *view) surface() viewport.Dimensions {
	return viewport.Dimensions{Width: v.cols * v.supersample, Height: v.mapRows() * 2 * v.supersample}
}

// pixel maps the center of terminal cell (x, y) to surface pixels.
func (v *view) pixel(x, y int) (px, py float64) {
	k := float64(v.supersample)
	return (float64(x) + 0.5) * k, (float64(y) + 0.5) * 2 * k
}

// mouse applies a pointer event and reports whether the view changed.
func (v *view) mouse(x, y int, buttons tcell.ButtonMask) bool {
	if y >= v.mapRows() {
		changed := v.pointer
		v.pointer, v.dragging = false, false
		return changed
	}
	moved := !v.pointer || x != v.pointerX || y != v.pointerY
	v.pointer, v.pointerX, v.pointerY = true, x, y

	vp := v.surface()
	px, py := v.pixel(x, y)
	switch {
	case buttons&tcell.WheelUp != 0:
		v.t = viewport.ZoomAt(v.t, vp, px, py, viewport.ZoomInFactor)
		return true
	case buttons&tcell.WheelDown != 0:
		v.t = viewport.ZoomAt(v.t, vp, px, py, viewport.ZoomOutFactor)
		return true
	case buttons&tcell.Button1 != 0:
		if v.dragging {
			k := float64(v.supersample)
			v.t = viewport.Pan(v.t, float64(x-v.dragX)*k, float64(y-v.dragY)*2*k)
		}
		v.dragging, v.dragX, v.dragY = true, x, y
		return true
	}
	v.dragging = false
	return moved
}

// key applies a key press. It reports whether the view changed and
// whether the user asked to quit.
func (v *view) key(ev *tcell.EventKey, players []gameworld.Player) (changed, quit bool) {
	k := float64(v.supersample)
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false, true
	case tcell.KeyLeft:
		v.t = viewport.Pan(v.t, panStep*k, 0)
		return true, false
	case tcell.KeyRight:
		v.t = viewport.Pan(v.t, -panStep*k, 0)
		return true, false
	case tcell.KeyUp:
		v.t = viewport.Pan(v.t, 0, panStep*2*k)
		return true, false
	case tcell.KeyDown:
		v.t = viewport.Pan(v.t, 0, -panStep*2*k)
		return true, false
	case tcell.KeyRune:
	default:
		return false, false
	}

	vp := v.surface()
	switch ev.Rune() {
	case 'q':
		return false, true
	case '1', '2', '3':
		v.switchTo(gameworld.Dimensions[ev.Rune()-'1'])
	case 'f':
		v.t = viewport.FitPlayers(players, vp)
	case 'c':
		switch v.hovered.Kind {
		case hover.Player:
			v.t = viewport.FocusOn(v.hovered.Player.X, v.hovered.Player.Z)
		case hover.Location:
			v.t = viewport.FocusOn(v.hovered.Location.X, v.hovered.Location.Z)
		default:
			return false, false
		}
	case 't':
		v.tileHover = !v.tileHover
	case '+', '=':
		v.t = viewport.ZoomAt(v.t, vp, float64(vp.Width)/2, float64(vp.Height)/2, viewport.ZoomInFactor)
	case '-':
		v.t = viewport.ZoomAt(v.t, vp, float64(vp.Width)/2, float64(vp.Height)/2, viewport.ZoomOutFactor)
	default:
		return false, false
	}
	return true, false
}

// switchTo changes dimension, remembering where each one was looked at.
func (v *view) switchTo(d gameworld.Dimension) {
	if d == v.dim {
		return
	}
	v.memory.Save(v.dim, v.t)
	v.dim = d
	v.t = v.memory.Restore(d)
	v.hovered = hover.State{}
}

// pick updates the hover state from the pointer.
func (v *view) pick(g *spatial.Grid, snap *gameworld.Snapshot) hover.State {
	if !v.pointer {
		v.hovered = hover.State{}
		return v.hovered
	}
	px, py := v.pixel(v.pointerX, v.pointerY)
	q := hover.Query{
		PX:        px,
		PY:        py,
		Transform: v.t,
		Viewport:  v.surface(),
		Grid:      g,
		Dimension: v.dim,
		TileHover: v.tileHover,
	}
	if snap != nil {
		q.Players, q.Locations = snap.Players, snap.Locations
	}
	v.hovered = hover.Pick(q)
	return v.hovered
}

func (v *view) status(lv livedata.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, " %s  %s", v.dim.Title(), lv.Status)
	if lv.Status == livedata.Reconnecting && lv.RetryIn > 0 {
		fmt.Fprintf(&b, " in %v", lv.RetryIn)
	}
	if lv.Snapshot != nil {
		fmt.Fprintf(&b, "  %d players", len(lv.Snapshot.PlayersIn(v.dim)))
	}
	fmt.Fprintf(&b, "  %.0f,%.0f x%.2f", v.t.X, v.t.Z, v.t.Scale)
	switch v.hovered.Kind {
	case hover.Player:
		fmt.Fprintf(&b, "  [%s]", v.hovered.Player.Name)
	case hover.Location, hover.Tile:
		fmt.Fprintf(&b, "  [%s]", v.hovered.Description)
	}
	if lv.Err != nil {
		fmt.Fprintf(&b, "  error: %v", lv.Err)
	}
	return b.String()
}
