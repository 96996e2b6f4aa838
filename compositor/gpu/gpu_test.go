package gpu

import (
	"image"
	"image/color"
	"image/draw"
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

func newRenderer(t *testing.T, avatars compositor.AvatarSource, cfg Config) *Renderer {
	t.Helper()
	dev, err := NewSoftwareDevice(vp.Width, vp.Height)
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(dev, avatars, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Cleanup() })
	return r
}

func render(t *testing.T, r *Renderer, tiles []gameworld.Tile, snap *gameworld.Snapshot, h hover.State) *image.RGBA {
	t.Helper()
	g := spatial.Build(tiles, spatial.DefaultCellSize)
	f := compositor.NewFrame(g, viewport.Initial, vp, snap, h, compositor.Options{Dimension: gameworld.Overworld, TileHover: true})
	if err := r.RenderFrame(f); err != nil {
		t.Fatal(err)
	}
	return r.Image()
}

func TestNewWithoutDevice(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig())
	if errors.Cause(err) != compositor.ErrInitialization {
		t.Fatalf("New(nil) err = %v; want ErrInitialization", err)
	}
	if _, err := NewSoftwareDevice(0, 10); errors.Cause(err) != compositor.ErrInitialization {
		t.Fatalf("NewSoftwareDevice(0, 10) err = %v; want ErrInitialization", err)
	}
}

func TestTileColor(t *testing.T) {
	r := newRenderer(t, nil, Config{})
	img := render(t, r, []gameworld.Tile{{X: 0, Z: 0, R: 255}}, nil, hover.State{})

	// 0.8 red over #121212.
	c := img.RGBAAt(100, 50)
	ttesting.AssertInRange(t, "red", float64(c.R), 205, 210)
	ttesting.AssertInRange(t, "green", float64(c.G), 2, 5)
	if got := img.RGBAAt(5, 5); got != compositor.Background {
		t.Errorf("corner = %v; want background", got)
	}
}

func TestSharedEdgesCoveredOnce(t *testing.T) {
	r := newRenderer(t, nil, Config{})
	tiles := []gameworld.Tile{{X: 0, Z: 0, G: 200}, {X: 16, Z: 0, G: 200}, {X: 0, Z: 16, G: 200}}
	img := render(t, r, tiles, nil, hover.State{})

	want := img.RGBAAt(103, 47)
	for _, p := range []image.Point{
		{100, 50}, // on the diagonal of the first quad
		{108, 50}, // on the edge between two quads
		{100, 58}, // on the edge between the first and third quad
		{92, 42},  // top-left corner pixel
	} {
		if got := img.RGBAAt(p.X, p.Y); got != want {
			t.Errorf("pixel %v = %v; want %v", p, got, want)
		}
	}
	// Right and bottom edges belong to the next tile, which is absent here.
	if got := img.RGBAAt(100, 74); got != compositor.Background {
		t.Errorf("below the third tile = %v; want background", got)
	}
}

func TestHoveredTileTint(t *testing.T) {
	r := newRenderer(t, nil, Config{})
	tile := gameworld.Tile{X: 0, Z: 0, R: 255}
	img := render(t, r, []gameworld.Tile{tile}, nil, hover.State{Kind: hover.Tile, Tile: tile})

	// Green goes from 0 to 0.7*0.3 before the 0.8 alpha.
	c := img.RGBAAt(100, 50)
	ttesting.AssertInRange(t, "green", float64(c.G), 40, 52)
}

func TestOverflowDropsGeometry(t *testing.T) {
	r := newRenderer(t, nil, Config{TileCapacity: 6})
	tiles := []gameworld.Tile{{X: 0, Z: 0, R: 255}, {X: 32, Z: 0, R: 255}, {X: 64, Z: 0, R: 255}}
	img := render(t, r, tiles, nil, hover.State{})

	if got := img.RGBAAt(100, 50); got == compositor.Background {
		t.Errorf("first tile missing")
	}
	if got := img.RGBAAt(132, 50); got != compositor.Background {
		t.Errorf("second tile drawn past capacity: %v", got)
	}
	ttesting.AssertEqualInt(t, "dropped", r.Dropped(), 2)
	ttesting.AssertEqualInt(t, "frames", r.Frames(), 1)
}

type avatars map[string]image.Image

func (a avatars) Get(name string) (image.Image, bool) {
	img, ok := a[name]
	return img, ok
}

func TestEntities(t *testing.T) {
	face := image.NewRGBA(image.Rect(0, 0, compositor.PlayerIconSize, compositor.PlayerIconSize))
	draw.Draw(face, face.Bounds(), image.NewUniform(color.RGBA{0, 255, 0, 255}), image.Point{}, draw.Src)
	r := newRenderer(t, avatars{"steve": face}, Config{})

	loc := gameworld.Location{Name: "home", Owner: "alex", X: 60, Z: 30, Dimension: gameworld.Overworld}
	snap := &gameworld.Snapshot{
		Players: []gameworld.Player{
			{Name: "steve", X: 0, Z: 0, Dimension: gameworld.Overworld},
			{Name: "alex", X: -60, Z: 0, Dimension: gameworld.Overworld},
		},
		Locations: []gameworld.Location{
			{Name: "spawn", Owner: gameworld.OwnerServer, X: 0, Z: 40, Dimension: gameworld.Overworld},
			loc,
		},
	}
	img := render(t, r, nil, snap, hover.State{Kind: hover.Location, Location: loc})

	if got := img.RGBAAt(100, 50); got != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("avatar pixel = %v; want green", got)
	}
	marker := img.RGBAAt(40, 50)
	ttesting.AssertInRange(t, "marker blue", float64(marker.B), 240, 250)

	spawn := img.RGBAAt(100, 90)
	ttesting.AssertInRange(t, "server location red", float64(spawn.R), 250, 255)
	ttesting.AssertInRange(t, "server location green", float64(spawn.G), 175, 181)

	// Hovered player location is tinted toward orange.
	home := img.RGBAAt(160, 80)
	ttesting.AssertInRange(t, "hovered location red", float64(home.R), 112, 123)
	ttesting.AssertInRange(t, "hovered location blue", float64(home.B), 168, 178)

	// Location quads are discs: the quad corner stays background.
	if got := img.RGBAAt(96, 86); got != compositor.Background {
		t.Errorf("location quad corner = %v; want background", got)
	}
}

func TestEntitySizeIgnoresZoom(t *testing.T) {
	r := newRenderer(t, nil, Config{})
	snap := &gameworld.Snapshot{Players: []gameworld.Player{{Name: "alex", Dimension: gameworld.Overworld}}}
	f := compositor.NewFrame(nil, viewport.Transform{Scale: 4}, vp, snap, hover.State{}, compositor.Options{Dimension: gameworld.Overworld})
	if err := r.RenderFrame(f); err != nil {
		t.Fatal(err)
	}
	img := r.Image()
	if got := img.RGBAAt(100+8, 50); got == compositor.Background {
		t.Errorf("marker shrank with zoom")
	}
	if got := img.RGBAAt(100+12, 50); got != compositor.Background {
		t.Errorf("marker grew with zoom: %v", got)
	}
}

func TestMonitorCountsTiles(t *testing.T) {
	r := newRenderer(t, nil, DefaultConfig())
	m := compositor.NewMonitor(clock.NewFake(time.Unix(0, 0)), time.Hour, func(compositor.FrameStats) {})
	r.SetMonitor(m)

	tiles := []gameworld.Tile{{X: 0, Z: 0, R: 255}, {X: 16, Z: 0, G: 255}, {X: -16, Z: 0, B: 255}}
	render(t, r, tiles, nil, hover.State{})
	render(t, r, tiles, nil, hover.State{})
	s := m.Current()
	ttesting.AssertEqualInt(t, "frames", s.Frames, 2)
	ttesting.AssertNear(t, "tiles per frame", s.TilesPerFrame, 3, 1e-9)
}

func TestPlayerLabelPlacement(t *testing.T) {
	r := newRenderer(t, nil, Config{})
	snap := &gameworld.Snapshot{Players: []gameworld.Player{{Name: "WWW", Dimension: gameworld.Overworld}}}
	img := render(t, r, nil, snap, hover.State{})
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

func TestCleanup(t *testing.T) {
	dev, err := NewSoftwareDevice(10, 10)
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(dev, nil, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if err := r.Cleanup(); err != nil {
		t.Errorf("second Cleanup() = %v", err)
	}
	f := compositor.NewFrame(nil, viewport.Initial, viewport.Dimensions{Width: 10, Height: 10}, nil, hover.State{}, compositor.Options{})
	if err := r.RenderFrame(f); err != compositor.ErrClosed {
		t.Errorf("RenderFrame after Cleanup = %v; want ErrClosed", err)
	}
	if _, err := dev.NewBuffer(1, 1); errors.Cause(err) != ErrReleased {
		t.Errorf("NewBuffer on released device = %v", err)
	}
}

func TestBufferAppend(t *testing.T) {
	dev, err := NewSoftwareDevice(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := dev.NewBuffer(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Append(1, 2, 3); err == nil {
		t.Errorf("Append of a partial vertex succeeded")
	}
	if err := b.Append(1, 2, 3, 4); err != nil {
		t.Fatal(err)
	}
	if err := b.Append(5, 6); err != ErrOverflow {
		t.Errorf("Append past capacity = %v; want ErrOverflow", err)
	}
	ttesting.AssertEqualInt(t, "len", b.Len(), 2)
	b.Reset()
	ttesting.AssertEqualInt(t, "len after reset", b.Len(), 0)
}

func BenchmarkRenderFrame(b *testing.B) {
	g := spatial.Build(gameworld.GenerateDataset(gameworld.Overworld, 1024, 1), spatial.DefaultCellSize)
	snap := &gameworld.Snapshot{
		Players: gameworld.SyntheticPlayers(gameworld.Player{Name: "steve", Dimension: gameworld.Overworld}, 100),
	}
	big := viewport.Dimensions{Width: 800, Height: 600}
	dev, err := NewSoftwareDevice(big.Width, big.Height)
	if err != nil {
		b.Fatal(err)
	}
	r, err := New(dev, nil, DefaultConfig())
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
