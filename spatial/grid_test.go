package spatial

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/ttesting"
)

func collect(g *Grid, r gameworld.Rect) []gameworld.Tile {
	var out []gameworld.Tile
	for cell := range g.CellsOverlapping(r) {
		out = append(out, cell...)
	}
	return out
}

func TestTwoTileQuery(t *testing.T) {
	red := gameworld.Tile{X: 0, Z: 0, R: 255}
	green := gameworld.Tile{X: 200, Z: 200, G: 255}
	g := Build([]gameworld.Tile{red, green}, 100)

	got := collect(g, gameworld.Rect{MinX: -10, MinZ: -10, MaxX: 10, MaxZ: 10})
	if diff := cmp.Diff([]gameworld.Tile{red}, got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func randomTiles(rnd *rand.Rand, n int, spread int) []gameworld.Tile {
	tiles := make([]gameworld.Tile, n)
	for i := range tiles {
		tiles[i] = gameworld.Tile{
			X:     rnd.Intn(2*spread) - spread,
			Z:     rnd.Intn(2*spread) - spread,
			Label: "t",
			R:     uint8(i),
			G:     uint8(i >> 8),
		}
	}
	return tiles
}

func TestCompleteness(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	tiles := randomTiles(rnd, 5000, 5000)
	for _, cellSize := range []int{16, 100, 512, 4096} {
		g := Build(tiles, cellSize)
		ttesting.AssertEqualInt(t, "len", g.Len(), len(tiles))
		for q := 0; q < 200; q++ {
			x0 := rnd.Float64()*12000 - 6000
			z0 := rnd.Float64()*12000 - 6000
			r := gameworld.Rect{MinX: x0, MinZ: z0, MaxX: x0 + rnd.Float64()*3000, MaxZ: z0 + rnd.Float64()*3000}

			found := map[gameworld.Tile]int{}
			for _, tile := range collect(g, r) {
				found[tile]++
			}
			for _, tile := range tiles {
				if r.Contains(float64(tile.X), float64(tile.Z)) && found[tile] == 0 {
					t.Fatalf("cell size %d: tile %+v inside %+v was dropped", cellSize, tile, r)
				}
			}
		}
	}
}

func TestEachTileInExactlyOneCell(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	tiles := randomTiles(rnd, 2000, 3000)
	g := Build(tiles, 256)

	total := 0
	for _, k := range g.keys {
		for _, tile := range g.Cell(k) {
			if KeyFor(tile.X, tile.Z, 256) != k {
				t.Fatalf("tile %+v stored under %v", tile, k)
			}
		}
		total += len(g.Cell(k))
	}
	ttesting.AssertEqualInt(t, "total", total, len(tiles))
}

func TestCellAssignmentIgnoresInsertionOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	tiles := randomTiles(rnd, 1000, 2000)
	shuffled := append([]gameworld.Tile(nil), tiles...)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	a := Build(tiles, 128)
	b := Build(shuffled, 128)
	for _, tile := range tiles {
		k := CellKey{X: floorDiv(tile.X, 128), Z: floorDiv(tile.Z, 128)}
		if !containsTile(a.Cell(k), tile) || !containsTile(b.Cell(k), tile) {
			t.Fatalf("tile %+v not found under %v", tile, k)
		}
	}
}

func containsTile(ts []gameworld.Tile, want gameworld.Tile) bool {
	for _, t := range ts {
		if t == want {
			return true
		}
	}
	return false
}

func TestKeyForNegative(t *testing.T) {
	for _, tc := range []struct {
		x, z int
		want CellKey
	}{
		{0, 0, CellKey{0, 0}},
		{511, 512, CellKey{0, 1}},
		{-1, -512, CellKey{-1, -1}},
		{-513, 1023, CellKey{-2, 1}},
	} {
		if got := KeyFor(tc.x, tc.z, 512); got != tc.want {
			t.Errorf("KeyFor(%d,%d) = %v; want %v", tc.x, tc.z, got, tc.want)
		}
	}
}

func TestWithinCellOrderIsStable(t *testing.T) {
	tiles := []gameworld.Tile{
		{X: 1, Label: "a"},
		{X: 900, Label: "far"},
		{X: 2, Label: "b"},
		{X: 3, Label: "c"},
	}
	g := Build(tiles, 512)
	var labels []string
	for _, tile := range g.Cell(CellKey{0, 0}) {
		labels = append(labels, tile.Label)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, labels); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestCellsMatchesCellsOverlapping(t *testing.T) {
	g := Build(gameworld.GenerateDataset(gameworld.Overworld, 4096, 1), 512)
	r := gameworld.Rect{MinX: -700, MinZ: -300, MaxX: 900, MaxZ: 1200}
	keys := g.Cells(r)
	i := 0
	for cell := range g.CellsOverlapping(r) {
		if diff := cmp.Diff(g.Cell(keys[i]), cell); diff != "" {
			t.Fatalf("cell %d differs:\n%s", i, diff)
		}
		i++
	}
	ttesting.AssertEqualInt(t, "cells", i, len(keys))

	// Zoomed out far enough to take the populated-keys path.
	wide := gameworld.Rect{MinX: -1e6, MinZ: -1e6, MaxX: 1e6, MaxZ: 1e6}
	ttesting.AssertEqualInt(t, "all cells", len(g.Cells(wide)), len(g.keys))
}

func TestIterationStopsEarly(t *testing.T) {
	g := Build(gameworld.GenerateDataset(gameworld.Overworld, 2048, 1), 256)
	n := 0
	for range g.CellsOverlapping(gameworld.Rect{MinX: -2048, MinZ: -2048, MaxX: 2048, MaxZ: 2048}) {
		n++
		if n == 3 {
			break
		}
	}
	ttesting.AssertEqualInt(t, "yielded", n, 3)
}

func TestTileAt(t *testing.T) {
	tiles := []gameworld.Tile{
		{X: 0, Z: 0, Label: "origin"},
		{X: 512, Z: 0, Label: "border"},
	}
	g := Build(tiles, 512)
	if got, ok := g.TileAt(5, 5); !ok || got.Label != "origin" {
		t.Errorf("TileAt(5,5) = %+v, %v", got, ok)
	}
	// (506, 0) is in cell 0 but inside the square of the tile centered
	// in cell 1.
	if got, ok := g.TileAt(506, 0); !ok || got.Label != "border" {
		t.Errorf("TileAt(506,0) = %+v, %v", got, ok)
	}
	if _, ok := g.TileAt(100, 100); ok {
		t.Errorf("TileAt(100,100) found a tile")
	}
}

func TestEmptyGrid(t *testing.T) {
	g := Build(nil, 0)
	ttesting.AssertEqualInt(t, "cell size", g.CellSize(), DefaultCellSize)
	if got := collect(g, gameworld.Rect{MaxX: 10, MaxZ: 10}); len(got) != 0 {
		t.Errorf("empty grid yielded %v", got)
	}
	var idx Index
	if idx.Load() == nil {
		t.Errorf("zero Index returned nil grid")
	}
}

func TestIndexReplaceIsAtomic(t *testing.T) {
	small := gameworld.GenerateDataset(gameworld.Nether, 256, 1)
	large := gameworld.GenerateDataset(gameworld.Nether, 1024, 1)
	var idx Index
	idx.Rebuild(small, 128)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := idx.Load()
				if n := g.Len(); n != len(small) && n != len(large) {
					t.Errorf("observed a grid with %d tiles", n)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			idx.Rebuild(large, 128)
		} else {
			idx.Rebuild(small, 128)
		}
	}
	close(stop)
	wg.Wait()
}

func TestGenerationsAreUnique(t *testing.T) {
	a := Build(nil, 0)
	b := Build(nil, 0)
	if a.Generation() == b.Generation() {
		t.Errorf("two builds share generation %d", a.Generation())
	}
}

func BenchmarkBuild(b *testing.B) {
	tiles := gameworld.GenerateDataset(gameworld.Overworld, 8192, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Build(tiles, DefaultCellSize)
	}
}
