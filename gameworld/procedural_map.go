package gameworld

import (
	"fmt"
	"math"
)

type biome struct {
	label   string
	r, g, b uint8
}

var proceduralBiomes = map[Dimension][]biome{
	Overworld: {
		{"plains", 141, 179, 96},
		{"forest", 5, 102, 33},
		{"desert", 250, 148, 24},
		{"ocean", 0, 0, 112},
		{"river", 0, 0, 255},
		{"taiga", 11, 102, 89},
		{"snowy_plains", 255, 255, 255},
		{"dark_forest", 64, 81, 26},
		{"badlands", 217, 69, 21},
		{"swamp", 7, 249, 178},
	},
	Nether: {
		{"nether_wastes", 191, 59, 59},
		{"crimson_forest", 221, 8, 8},
		{"warped_forest", 73, 144, 123},
		{"soul_sand_valley", 94, 56, 48},
		{"basalt_deltas", 64, 54, 54},
	},
	End: {
		{"the_end", 128, 128, 255},
		{"end_highlands", 181, 181, 54},
		{"end_midlands", 255, 255, 128},
		{"small_end_islands", 96, 96, 128},
		{"end_barrens", 112, 112, 176},
	},
}

// patchTiles is the edge length, in tiles, of a region that shares one
// biome in generated datasets.
const patchTiles = 8

// GenerateDataset produces a deterministic tile dataset covering the square
// [-radius, radius] around the origin, one tile per TileSize world units.
// It stands in for a real dataset in tests and in the development feed.
func GenerateDataset(d Dimension, radius int, seed int64) []Tile {
	palette, ok := proceduralBiomes[d]
	if !ok {
		palette = proceduralBiomes[Overworld]
	}
	n := radius / TileSize
	tiles := make([]Tile, 0, (2*n+1)*(2*n+1))
	for tz := -n; tz <= n; tz++ {
		for tx := -n; tx <= n; tx++ {
			px := floorDiv(tx, patchTiles)
			pz := floorDiv(tz, patchTiles)
			b := palette[mix(int64(px), int64(pz), seed)%uint64(len(palette))]
			tiles = append(tiles, Tile{
				X:     tx * TileSize,
				Z:     tz * TileSize,
				Label: b.label,
				R:     b.r,
				G:     b.g,
				B:     b.b,
			})
		}
	}
	return tiles
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// mix is a small integer hash (splitmix64 finalizer) over the patch
// coordinates and seed.
func mix(x, z, seed int64) uint64 {
	h := uint64(x)*0x9e3779b97f4a7c15 ^ uint64(z)*0xc2b2ae3d27d4eb4f ^ uint64(seed)
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}

// SyntheticPlayers clones template into n players scattered on a spiral
// around it. Useful for load tests of the entity layer; names are unique.
func SyntheticPlayers(template Player, n int) []Player {
	const golden = 2.399963229728653 // radians
	out := make([]Player, 0, n)
	for i := 0; i < n; i++ {
		r := 40 * math.Sqrt(float64(i))
		a := float64(i) * golden
		out = append(out, Player{
			Name:      fmt.Sprintf("%s_%d", template.Name, i),
			X:         template.X + r*math.Cos(a),
			Z:         template.Z + r*math.Sin(a),
			Dimension: template.Dimension,
		})
	}
	return out
}
