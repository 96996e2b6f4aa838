// Package spatial partitions a tile dataset into a fixed grid of cells so a
// frame only touches the tiles near the viewport.
//
// A Grid is an arena: all tiles live in one slice, grouped so that every
// cell's tiles form a contiguous span, and an index maps each cell key to
// its span. Cells are laid out along a Hilbert curve, so cells that are
// close on the map are close in memory too.
package spatial

import (
	"iter"
	"math"
	"slices"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/google/hilbert"

	"bytefi.sh/pkg/worldmap/gameworld"
)

const (
	DefaultCellSize = 512
	// Margin is how many whole cells around a query are also returned, so
	// fast pans do not show tiles popping in at the edges.
	Margin = 1
)

// CellKey identifies a grid cell: (floor(x/cellSize), floor(z/cellSize)).
type CellKey struct {
	X, Z int
}

type span struct {
	start, end int
}

// Grid is an immutable spatial index over one tile dataset.
type Grid struct {
	cellSize   int
	generation uint64
	tiles      []gameworld.Tile
	keys       []CellKey // populated cells in arena order
	index      map[CellKey]span
}

var generations atomic.Uint64

// Build indexes tiles into cells of cellSize world units. It runs two
// linear passes over the tiles; the input slice is not retained.
func Build(tiles []gameworld.Tile, cellSize int) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	g := &Grid{
		cellSize:   cellSize,
		generation: generations.Add(1),
		index:      map[CellKey]span{},
	}
	if len(tiles) == 0 {
		return g
	}

	// Pass 1: count tiles per cell.
	counts := map[CellKey]int{}
	cellOf := make([]CellKey, len(tiles))
	for i, t := range tiles {
		k := KeyFor(t.X, t.Z, cellSize)
		cellOf[i] = k
		if counts[k] == 0 {
			g.keys = append(g.keys, k)
		}
		counts[k]++
	}

	sortHilbert(g.keys)

	offset := 0
	for _, k := range g.keys {
		g.index[k] = span{start: offset, end: offset}
		offset += counts[k]
	}

	// Pass 2: place tiles. Input order is kept within a cell.
	g.tiles = make([]gameworld.Tile, len(tiles))
	for i, t := range tiles {
		k := cellOf[i]
		s := g.index[k]
		g.tiles[s.end] = t
		s.end++
		g.index[k] = s
	}

	glog.V(2).Infof("spatial: built grid %d: %d tiles in %d cells of %d", g.generation, len(tiles), len(g.keys), cellSize)
	return g
}

// KeyFor returns the key of the cell containing world point (x, z).
func KeyFor(x, z, cellSize int) CellKey {
	return CellKey{X: floorDiv(x, cellSize), Z: floorDiv(z, cellSize)}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// sortHilbert orders keys by their position on a Hilbert curve laid over
// the bounding box of all keys.
func sortHilbert(keys []CellKey) {
	if len(keys) < 2 {
		return
	}
	minX, minZ := keys[0].X, keys[0].Z
	maxX, maxZ := minX, minZ
	for _, k := range keys[1:] {
		minX = min(minX, k.X)
		maxX = max(maxX, k.X)
		minZ = min(minZ, k.Z)
		maxZ = max(maxZ, k.Z)
	}
	side := 1
	for side <= maxX-minX || side <= maxZ-minZ {
		side <<= 1
	}
	h, err := hilbert.NewHilbert(side)
	if err != nil {
		glog.Warningf("spatial: no hilbert curve of side %d, keeping insertion order: %v", side, err)
		return
	}
	order := make(map[CellKey]int, len(keys))
	for _, k := range keys {
		d, err := h.MapInverse(k.X-minX, k.Z-minZ)
		if err != nil {
			glog.Warningf("spatial: hilbert index of %v: %v", k, err)
		}
		order[k] = d
	}
	slices.SortStableFunc(keys, func(a, b CellKey) int {
		return order[a] - order[b]
	})
}

func (g *Grid) CellSize() int { return g.cellSize }

// Len is the number of tiles in the grid.
func (g *Grid) Len() int { return len(g.tiles) }

// Generation is unique per Build call. Renderers use it to notice that
// the dataset behind the grid has been replaced.
func (g *Grid) Generation() uint64 { return g.generation }

// Cell returns the tiles of one cell, or nil.
func (g *Grid) Cell(k CellKey) []gameworld.Tile {
	s, ok := g.index[k]
	if !ok {
		return nil
	}
	return g.tiles[s.start:s.end:s.end]
}

// visit calls fn for each populated cell overlapping bounds expanded by
// Margin cells, in a deterministic order.
func (g *Grid) visit(bounds gameworld.Rect, fn func(CellKey, span) bool) {
	if g == nil || len(g.keys) == 0 || bounds.Empty() {
		return
	}
	cs := float64(g.cellSize)
	x0 := int(math.Floor(bounds.MinX/cs)) - Margin
	x1 := int(math.Floor(bounds.MaxX/cs)) + Margin
	z0 := int(math.Floor(bounds.MinZ/cs)) - Margin
	z1 := int(math.Floor(bounds.MaxZ/cs)) + Margin

	// Zoomed far out the query range can hold more cells than the grid
	// has; walking the populated keys is cheaper then.
	if (x1-x0+1)*(z1-z0+1) > len(g.keys) {
		for _, k := range g.keys {
			if k.X < x0 || k.X > x1 || k.Z < z0 || k.Z > z1 {
				continue
			}
			if !fn(k, g.index[k]) {
				return
			}
		}
		return
	}

	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			k := CellKey{X: x, Z: z}
			if s, ok := g.index[k]; ok {
				if !fn(k, s) {
					return
				}
			}
		}
	}
}

// CellsOverlapping yields the tile list of every populated cell that
// overlaps bounds, plus Margin cells around it. Every tile whose position
// lies inside bounds is yielded; tiles outside may be too.
func (g *Grid) CellsOverlapping(bounds gameworld.Rect) iter.Seq[[]gameworld.Tile] {
	return func(yield func([]gameworld.Tile) bool) {
		g.visit(bounds, func(_ CellKey, s span) bool {
			return yield(g.tiles[s.start:s.end:s.end])
		})
	}
}

// Cells returns the keys CellsOverlapping would yield, in the same order.
func (g *Grid) Cells(bounds gameworld.Rect) []CellKey {
	var out []CellKey
	g.visit(bounds, func(k CellKey, _ span) bool {
		out = append(out, k)
		return true
	})
	return out
}

// TileAt returns the tile whose square contains world point (x, z).
func (g *Grid) TileAt(x, z float64) (gameworld.Tile, bool) {
	if g == nil || len(g.tiles) == 0 {
		return gameworld.Tile{}, false
	}
	const half = gameworld.TileSize / 2
	cs := float64(g.cellSize)
	// A tile's square can straddle a cell border while its center, which
	// decides its cell, is on the other side.
	x0, x1 := int(math.Floor((x-half)/cs)), int(math.Floor((x+half)/cs))
	z0, z1 := int(math.Floor((z-half)/cs)), int(math.Floor((z+half)/cs))
	for cx := x0; cx <= x1; cx++ {
		for cz := z0; cz <= z1; cz++ {
			for _, t := range g.Cell(CellKey{X: cx, Z: cz}) {
				if t.Contains(x, z) {
					return t, true
				}
			}
		}
	}
	return gameworld.Tile{}, false
}
