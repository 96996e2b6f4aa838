package gameworld

// TileSize is the edge length of a tile in world units. A tile's X and Z
// name its center.
const TileSize = 16

// Tile is one classified terrain square. Tiles are immutable once loaded;
// a dataset is replaced as a whole on refresh.
type Tile struct {
	X     int    `json:"x" msgpack:"x"`
	Z     int    `json:"z" msgpack:"z"`
	Label string `json:"biome" msgpack:"l"`
	R     uint8  `json:"r" msgpack:"r"`
	G     uint8  `json:"g" msgpack:"g"`
	B     uint8  `json:"b" msgpack:"b"`
}

// Contains reports whether the world point lies within the tile's square.
func (t Tile) Contains(x, z float64) bool {
	const half = TileSize / 2
	dx := x - float64(t.X)
	dz := z - float64(t.Z)
	return dx >= -half && dx <= half && dz >= -half && dz <= half
}

// Rect is an axis aligned world space rectangle, bounds inclusive.
type Rect struct {
	MinX, MinZ float64
	MaxX, MaxZ float64
}

func (r Rect) Contains(x, z float64) bool {
	return x >= r.MinX && x <= r.MaxX && z >= r.MinZ && z <= r.MaxZ
}

func (r Rect) Empty() bool {
	return r.MaxX < r.MinX || r.MaxZ < r.MinZ
}

// Expand grows the rectangle by d on every side.
func (r Rect) Expand(d float64) Rect {
	return Rect{MinX: r.MinX - d, MinZ: r.MinZ - d, MaxX: r.MaxX + d, MaxZ: r.MaxZ + d}
}
