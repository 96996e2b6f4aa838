package compositor

import (
	"iter"

	"bytefi.sh/pkg/worldmap/gameworld"
)

// ColorGroup is a batch of tiles sharing one color, drawn in one pass.
type ColorGroup struct {
	R, G, B uint8
	Tiles   []gameworld.Tile
}

// GroupByColor batches tiles by identical color. Groups come out in the
// order their color was first seen; tiles keep their order.
func GroupByColor(cells iter.Seq[[]gameworld.Tile]) []ColorGroup {
	if cells == nil {
		return nil
	}
	var groups []ColorGroup
	idx := map[[3]uint8]int{}
	for cell := range cells {
		for _, t := range cell {
			k := [3]uint8{t.R, t.G, t.B}
			i, ok := idx[k]
			if !ok {
				i = len(groups)
				idx[k] = i
				groups = append(groups, ColorGroup{R: t.R, G: t.G, B: t.B})
			}
			groups[i].Tiles = append(groups[i].Tiles, t)
		}
	}
	return groups
}
