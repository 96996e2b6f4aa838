package raster

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/pkg/errors"

	"bytefi.sh/pkg/worldmap/clock"
	"bytefi.sh/pkg/worldmap/compositor"
	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/hover"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/ttesting"
	"bytefi.sh/pkg/worldmap/viewport"
)

var vp = viewport.Dimensions{Width: 200, Height: 100}

func testGrid() *spatial.Grid {
	return spatial.Build([]gameworld.Tile{
		{X: 0, Z: 0, Label: "plains", R: 200, G: 0, B: 0},
		{X: 16, Z: 0, Label: "plains", R: 200, G: 0, B: 0},
		{X: -16, Z: 0, Label: "river", R: 0, G: 0, B: 200},
	}, spatial.DefaultCellSize)
}

func frame(g *spatial.Grid, snap *gameworld.Snapshot, h hover.State) *compositor.Frame {
	return compositor.NewFrame(g, viewport.Initial, vp, snap, h, compositor.Options{Dimension: gameworld.Overworld, TileHover: true})
}

func TestNewRejectsEmptySurface(t *testing.T) {
	_, err := New(viewport.Dimensions{Width: 0, Height: 10}, nil)
	if errors.Cause(err) != compositor.ErrInitialization {
		t.Fatalf("New() err = %v; want ErrInitialization", err)
	}
}

func TestTileLayer(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()

	if err := r.RenderFrame(frame(testGrid(), nil, hover.State{})); err != nil {
		t.Fatal(err)
	}
	img := r.Image()
	// Tile at world (0,0) is centered on the surface.
	center := img.RGBAAt(100, 50)
	if center.R <= compositor.Background.R || center.R <= center.B {
		t.Errorf("center pixel = %v; want red tile over background", center)
	}
	river := img.RGBAAt(100-16, 50)
	if river.B <= compositor.Background.B {
		t.Errorf("river pixel = %v; want blue tile", river)
	}
	if got := img.RGBAAt(5, 5); got != compositor.Background {
		t.Errorf("corner = %v; want background", got)
	}
}

func TestTileLayerReused(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()
	g := testGrid()

	snap := &gameworld.Snapshot{Players: []gameworld.Player{{Name: "a", X: 40, Z: 0, Dimension: gameworld.Overworld}}}
	for i := 0; i < 3; i++ {
		snap.Players[0].X += 10
		if err := r.RenderFrame(frame(g, snap, hover.State{})); err != nil {
			t.Fatal(err)
		}
	}
	s := r.Stats()
	ttesting.AssertEqualInt(t, "frames", s.Frames, 3)
	ttesting.AssertEqualInt(t, "tile layer draws", s.TileLayerDraws, 1)

	// Panning invalidates the layer.
	f := frame(g, snap, hover.State{})
	f.Transform = viewport.Pan(f.Transform, 5, 0)
	if err := r.RenderFrame(f); err != nil {
		t.Fatal(err)
	}
	ttesting.AssertEqualInt(t, "tile layer draws after pan", r.Stats().TileLayerDraws, 2)

	// So does a rebuilt grid with identical tiles.
	if err := r.RenderFrame(frame(testGrid(), snap, hover.State{})); err != nil {
		t.Fatal(err)
	}
	ttesting.AssertEqualInt(t, "tile layer draws after rebuild", r.Stats().TileLayerDraws, 3)
}

func TestHoveredTileOutline(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()
	g := testGrid()
	tile, _ := g.TileAt(0, 0)

	if err := r.RenderFrame(frame(g, nil, hover.State{Kind: hover.Tile, Tile: tile})); err != nil {
		t.Fatal(err)
	}
	// The tile spans pixels 92..107; the outline is its outer two pixels.
	if got := r.Image().RGBAAt(92, 50); got != compositor.HoverColor {
		t.Errorf("outline pixel = %v; want %v", got, compositor.HoverColor)
	}
	if got := r.Image().RGBAAt(100, 50); got == compositor.HoverColor {
		t.Errorf("tile interior painted with outline color")
	}
	ttesting.AssertEqualInt(t, "tile layer draws", r.Stats().TileLayerDraws, 1)

	if err := r.RenderFrame(frame(g, nil, hover.State{})); err != nil {
		t.Fatal(err)
	}
	ttesting.AssertEqualInt(t, "tile layer draws after hover change", r.Stats().TileLayerDraws, 2)
	if got := r.Image().RGBAAt(92, 50); got == compositor.HoverColor {
		t.Errorf("outline left behind after hover cleared")
	}
}

type avatars map[string]image.Image

func (a avatars) Get(name string) (image.Image, bool) {
	img, ok := a[name]
	return img, ok
}

func TestEntities(t *testing.T) {
	green := image.NewUniform(color.RGBA{0, 255, 0, 255})
	face := image.NewRGBA(image.Rect(0, 0, compositor.PlayerIconSize, compositor.PlayerIconSize))
	for y := 0; y < compositor.PlayerIconSize; y++ {
		for x := 0; x < compositor.PlayerIconSize; x++ {
			face.Set(x, y, green.C)
		}
	}
	r, err := New(vp, avatars{"steve": face})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()

	snap := &gameworld.Snapshot{
		Players: []gameworld.Player{
			{Name: "steve", X: 0, Z: 0, Dimension: gameworld.Overworld},
			{Name: "alex", X: 50, Z: 0, Dimension: gameworld.Overworld},
			{Name: "ghost", X: -50, Z: 0, Dimension: gameworld.Nether},
		},
		Locations: []gameworld.Location{
			{Name: "spawn", Owner: gameworld.OwnerServer, X: 0, Z: 40, Dimension: gameworld.Overworld},
		},
	}
	if err := r.RenderFrame(frame(nil, snap, hover.State{})); err != nil {
		t.Fatal(err)
	}
	img := r.Image()
	if got := img.RGBAAt(100, 50); got != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("avatar pixel = %v; want green", got)
	}
	if got := img.RGBAAt(150, 50); got != compositor.PlayerLocation {
		t.Errorf("marker without avatar = %v; want %v", got, compositor.PlayerLocation)
	}
	if got := img.RGBAAt(50, 50); got != compositor.Background {
		t.Errorf("player in another dimension drawn: %v", got)
	}
	if got := img.RGBAAt(100, 90); got != compositor.ServerLocation {
		t.Errorf("location pixel = %v; want %v", got, compositor.ServerLocation)
	}
}

func TestHoveredPlayerOutline(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()
	p := gameworld.Player{Name: "alex", Dimension: gameworld.Overworld}
	snap := &gameworld.Snapshot{Players: []gameworld.Player{p}}

	if err := r.RenderFrame(frame(nil, snap, hover.State{Kind: hover.Player, Player: p})); err != nil {
		t.Fatal(err)
	}
	// Marker spans 90..109, the outline sits two pixels outside it.
	if got := r.Image().RGBAAt(88, 50); got != compositor.HoverColor {
		t.Errorf("outline pixel = %v; want %v", got, compositor.HoverColor)
	}
}

func TestMonitorCountsRepaintedTiles(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()
	m := compositor.NewMonitor(clock.NewFake(time.Unix(0, 0)), time.Hour, func(compositor.FrameStats) {})
	r.SetMonitor(m)

	g := testGrid()
	for i := 0; i < 2; i++ {
		if err := r.RenderFrame(frame(g, nil, hover.State{})); err != nil {
			t.Fatal(err)
		}
	}
	s := m.Current()
	ttesting.AssertEqualInt(t, "frames", s.Frames, 2)
	// Only the first frame paints the three tiles; the second reuses them.
	ttesting.AssertNear(t, "tiles per frame", s.TilesPerFrame, 1.5, 1e-9)
}

func TestPlayerLabelPlacement(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()
	snap := &gameworld.Snapshot{Players: []gameworld.Player{{Name: "WWW", Dimension: gameworld.Overworld}}}
	if err := r.RenderFrame(frame(nil, snap, hover.State{})); err != nil {
		t.Fatal(err)
	}
	img := r.Image()
	top, bottom := labelRows(img, 70, 130)
	baseline := vp.Height/2 - compositor.PlayerLabelOffset
	ttesting.AssertInRange(t, "label bottom row", float64(bottom), float64(baseline-4), float64(baseline))
	ttesting.AssertInRange(t, "label top row", float64(top), float64(baseline-16), float64(baseline-5))
}

// labelRows returns the first and last rows holding light pixels within
// columns [x0, x1).
func labelRows(img *image.RGBA, x0, x1 int) (top, bottom int) {
	top, bottom = -1, -1
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := x0; x < x1; x++ {
			if c := img.RGBAAt(x, y); c.R > 100 && c.G > 100 && c.B > 100 {
				if top < 0 {
					top = y
				}
				bottom = y
				break
			}
		}
	}
	return top, bottom
}

func TestResize(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()
	f := frame(testGrid(), nil, hover.State{})
	f.Viewport = viewport.Dimensions{Width: 64, Height: 32}
	if err := r.RenderFrame(f); err != nil {
		t.Fatal(err)
	}
	if b := r.Image().Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("surface = %v; want 64x32", b)
	}
}

func TestCleanup(t *testing.T) {
	r, err := New(vp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if err := r.Cleanup(); err != nil {
		t.Errorf("second Cleanup() = %v", err)
	}
	if err := r.RenderFrame(frame(nil, nil, hover.State{})); err != compositor.ErrClosed {
		t.Errorf("RenderFrame after Cleanup = %v; want ErrClosed", err)
	}
}

// BenchmarkRenderFrame draws a generated world with a hundred clones of
// one player, the load the live server produces under test.
func BenchmarkRenderFrame(b *testing.B) {
	g := spatial.Build(gameworld.GenerateDataset(gameworld.Overworld, 1024, 1), spatial.DefaultCellSize)
	snap := &gameworld.Snapshot{
		Players: gameworld.SyntheticPlayers(gameworld.Player{Name: "steve", Dimension: gameworld.Overworld}, 100),
	}
	big := viewport.Dimensions{Width: 800, Height: 600}
	r, err := New(big, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer r.Cleanup()
	f := compositor.NewFrame(g, viewport.Transform{Scale: 0.5}, big, snap, hover.State{}, compositor.Options{Dimension: gameworld.Overworld})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.RenderFrame(f); err != nil {
			b.Fatal(err)
		}
	}
}
