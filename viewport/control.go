package viewport

import (
	"math"
	"sync"

	"bytefi.sh/pkg/worldmap/gameworld"
)

const (
	// FitPadding is the world space kept around fitted content.
	FitPadding = 200
	// FitMinExtent keeps a single point (or a tight cluster) from being
	// zoomed to the maximum.
	FitMinExtent = 1000
	// FocusScale is the zoom used when centering on one entity.
	FocusScale = 2.0

	// Wheel zoom steps.
	ZoomInFactor  = 1.1
	ZoomOutFactor = 0.9
)

// Initial is the transform a fresh view starts with.
var Initial = Transform{Scale: 1}

// Pan moves the view by a pointer drag of (dx, dy) pixels. Dragging right
// moves the world right, so the center moves left.
func Pan(t Transform, dx, dy float64) Transform {
	t.X -= dx / t.Scale
	t.Z -= dy / t.Scale
	return t
}

// ZoomAt multiplies the scale by factor while keeping the world point
// under (px, py) stationary on screen.
func ZoomAt(t Transform, vp Dimensions, px, py, factor float64) Transform {
	wx, wz := ViewportToWorld(px, py, t, vp)
	next := Transform{Scale: ClampScale(t.Scale * factor)}
	// Solve WorldToViewport(wx, wz, next) == (px, py) for the center.
	next.X = wx - (px-float64(vp.Width)/2)/next.Scale
	next.Z = wz - (py-float64(vp.Height)/2)/next.Scale
	return next
}

// Fit returns a transform centered on the points' bounding box that shows
// the box plus FitPadding world units on each side. With no points it
// returns Initial.
func Fit(points [][2]float64, vp Dimensions) Transform {
	if len(points) == 0 || vp.Empty() {
		return Initial
	}
	minX, minZ := math.Inf(1), math.Inf(1)
	maxX, maxZ := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p[0])
		maxX = math.Max(maxX, p[0])
		minZ = math.Min(minZ, p[1])
		maxZ = math.Max(maxZ, p[1])
	}
	w := math.Max(maxX-minX+2*FitPadding, FitMinExtent)
	h := math.Max(maxZ-minZ+2*FitPadding, FitMinExtent)
	scale := math.Min(float64(vp.Width)/w, float64(vp.Height)/h) * 0.8
	return Transform{
		X:     (minX + maxX) / 2,
		Z:     (minZ + maxZ) / 2,
		Scale: ClampScale(scale),
	}
}

// FitPlayers is Fit over player positions.
func FitPlayers(players []gameworld.Player, vp Dimensions) Transform {
	pts := make([][2]float64, 0, len(players))
	for _, p := range players {
		pts = append(pts, [2]float64{p.X, p.Z})
	}
	return Fit(pts, vp)
}

func FocusOn(x, z float64) Transform {
	return Transform{X: x, Z: z, Scale: FocusScale}
}

// Memory remembers the last transform used in each dimension so switching
// back restores the previous view.
type Memory struct {
	mu    sync.Mutex
	saved map[gameworld.Dimension]Transform
}

func (m *Memory) Save(d gameworld.Dimension, t Transform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[gameworld.Dimension]Transform{}
	}
	m.saved[d] = t.Clamped()
}

// Restore returns the saved transform for d, or Initial.
func (m *Memory) Restore(d gameworld.Dimension) Transform {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.saved[d]; ok {
		return t
	}
	return Initial
}
