// Package viewport maps between world coordinates and viewport pixels and
// computes the world region a viewport can see.
package viewport

import (
	"math"

	"bytefi.sh/pkg/worldmap/gameworld"
)

const (
	MinScale = 0.3
	MaxScale = 5.0
)

// Transform is the pan center (in world units) and zoom factor. Scale is
// kept within [MinScale, MaxScale] by every operation in this package.
type Transform struct {
	X, Z  float64
	Scale float64
}

// Dimensions is the viewport size in device pixels.
type Dimensions struct {
	Width, Height int
}

func (d Dimensions) Empty() bool {
	return d.Width <= 0 || d.Height <= 0
}

func ClampScale(s float64) float64 {
	if math.IsNaN(s) {
		return 1
	}
	return math.Max(MinScale, math.Min(MaxScale, s))
}

// Clamped returns t with its scale clamped.
func (t Transform) Clamped() Transform {
	t.Scale = ClampScale(t.Scale)
	return t
}

func WorldToViewport(wx, wz float64, t Transform, vp Dimensions) (px, py float64) {
	px = float64(vp.Width)/2 + (wx-t.X)*t.Scale
	py = float64(vp.Height)/2 + (wz-t.Z)*t.Scale
	return px, py
}

// ViewportToWorld is the inverse of WorldToViewport; t.Scale must be > 0.
func ViewportToWorld(px, py float64, t Transform, vp Dimensions) (wx, wz float64) {
	wx = (px-float64(vp.Width)/2)/t.Scale + t.X
	wz = (py-float64(vp.Height)/2)/t.Scale + t.Z
	return wx, wz
}

// VisibleBounds is the world rectangle covered by the viewport, grown by
// marginPx screen pixels (marginPx/Scale world units) on each side.
func VisibleBounds(t Transform, vp Dimensions, marginPx float64) gameworld.Rect {
	halfW := float64(vp.Width) / 2 / t.Scale
	halfH := float64(vp.Height) / 2 / t.Scale
	m := marginPx / t.Scale
	return gameworld.Rect{
		MinX: t.X - halfW - m,
		MinZ: t.Z - halfH - m,
		MaxX: t.X + halfW + m,
		MaxZ: t.Z + halfH + m,
	}
}
