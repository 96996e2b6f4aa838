package spatial

import (
	"sync/atomic"

	"bytefi.sh/pkg/worldmap/gameworld"
)

// Index holds the current grid for one view. Replacing the grid is atomic:
// a reader sees either the old grid or the new one, never a partial build.
// The zero value holds an empty grid.
type Index struct {
	current atomic.Pointer[Grid]
}

// Load returns the current grid. It never returns nil.
func (i *Index) Load() *Grid {
	if g := i.current.Load(); g != nil {
		return g
	}
	return empty
}

// Replace installs g as the current grid.
func (i *Index) Replace(g *Grid) {
	i.current.Store(g)
}

// Rebuild builds a grid over tiles and installs it once complete.
func (i *Index) Rebuild(tiles []gameworld.Tile, cellSize int) *Grid {
	g := Build(tiles, cellSize)
	i.Replace(g)
	return g
}

var empty = &Grid{cellSize: DefaultCellSize, index: map[CellKey]span{}}
