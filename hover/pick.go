// Package hover resolves what is under the pointer.
package hover

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/viewport"
)

// Hit radii in screen pixels. They are converted to world units with the
// current scale, so targets keep their on-screen size at every zoom.
const (
	PlayerRadiusPx   = 10
	LocationRadiusPx = 20
)

type Kind int

const (
	None Kind = iota
	Player
	Location
	Tile
)

func (k Kind) String() string {
	switch k {
	case Player:
		return "player"
	case Location:
		return "location"
	case Tile:
		return "tile"
	}
	return "none"
}

// State is what the pointer is over. Only the field matching Kind is set.
type State struct {
	Kind        Kind
	Player      gameworld.Player
	Location    gameworld.Location
	Tile        gameworld.Tile
	Description string
}

func (s State) IsPlayer(p gameworld.Player) bool {
	return s.Kind == Player && s.Player.Name == p.Name
}

func (s State) IsLocation(l gameworld.Location) bool {
	return s.Kind == Location && s.Location.X == l.X && s.Location.Z == l.Z
}

func (s State) IsTile(t gameworld.Tile) bool {
	return s.Kind == Tile && s.Tile.X == t.X && s.Tile.Z == t.Z
}

// Query is everything Pick needs. Players and Locations may span several
// dimensions; only those in Dimension are considered.
type Query struct {
	PX, PY    float64
	Transform viewport.Transform
	Viewport  viewport.Dimensions
	Players   []gameworld.Player
	Locations []gameworld.Location
	Grid      *spatial.Grid
	Dimension gameworld.Dimension
	TileHover bool
}

// Pick returns the topmost thing under the pointer: a player, else a
// location, else (if enabled) a tile. Within a kind the first match in
// input order wins.
func Pick(q Query) State {
	if q.Transform.Scale <= 0 {
		return State{}
	}
	wx, wz := viewport.ViewportToWorld(q.PX, q.PY, q.Transform, q.Viewport)

	r := PlayerRadiusPx / q.Transform.Scale
	for _, p := range q.Players {
		if p.Dimension == q.Dimension && within(p.X, p.Z, wx, wz, r) {
			return State{Kind: Player, Player: p}
		}
	}

	r = LocationRadiusPx / q.Transform.Scale
	for _, l := range q.Locations {
		if l.Dimension == q.Dimension && within(l.X, l.Z, wx, wz, r) {
			return State{Kind: Location, Location: l, Description: LocationDescription(l)}
		}
	}

	if q.TileHover && q.Grid != nil {
		if t, ok := q.Grid.TileAt(wx, wz); ok {
			return State{Kind: Tile, Tile: t, Description: TileDescription(t.Label)}
		}
	}
	return State{}
}

// within is a box test: both axis distances strictly below r.
func within(x, z, wx, wz, r float64) bool {
	return math.Abs(x-wx) < r && math.Abs(z-wz) < r
}

func LocationDescription(l gameworld.Location) string {
	if l.Description != "" {
		return l.Description
	}
	if l.ServerOwned() {
		return "Server Location"
	}
	return "Player Location"
}

// TileDescription turns a label like "dark_forest" into "Dark Forest".
func TileDescription(label string) string {
	// Casers keep state and cannot be shared between goroutines.
	return cases.Title(language.English).String(strings.ReplaceAll(strings.ToLower(label), "_", " "))
}
