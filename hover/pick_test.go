package hover

import (
	"testing"

	"bytefi.sh/pkg/worldmap/gameworld"
	"bytefi.sh/pkg/worldmap/spatial"
	"bytefi.sh/pkg/worldmap/ttesting"
	"bytefi.sh/pkg/worldmap/viewport"
)

// queryAt builds a query whose pointer sits over world point (wx, wz).
func queryAt(wx, wz float64, scale float64) Query {
	tr := viewport.Transform{X: 0, Z: 0, Scale: scale}
	vp := viewport.Dimensions{Width: 400, Height: 300}
	px, py := viewport.WorldToViewport(wx, wz, tr, vp)
	return Query{
		PX: px, PY: py,
		Transform: tr,
		Viewport:  vp,
		Dimension: gameworld.Overworld,
		TileHover: true,
	}
}

func TestPlayerBeatsTile(t *testing.T) {
	q := queryAt(5, 5, 1)
	q.Players = []gameworld.Player{{Name: "alex", X: 5, Z: 5, Dimension: gameworld.Overworld}}
	q.Grid = spatial.Build([]gameworld.Tile{{X: 5, Z: 5, Label: "plains"}}, 512)

	got := Pick(q)
	if got.Kind != Player || got.Player.Name != "alex" {
		t.Errorf("Pick = %+v; want player alex", got)
	}
}

func TestPriority(t *testing.T) {
	q := queryAt(0, 0, 1)
	q.Players = []gameworld.Player{{Name: "p", Dimension: gameworld.Overworld}}
	q.Locations = []gameworld.Location{{Name: "l", Owner: gameworld.OwnerServer, Dimension: gameworld.Overworld}}
	q.Grid = spatial.Build([]gameworld.Tile{{Label: "deep_dark"}}, 512)

	ttesting.AssertEqualString(t, "all present", Pick(q).Kind.String(), "player")
	q.Players = nil
	got := Pick(q)
	ttesting.AssertEqualString(t, "no players", got.Kind.String(), "location")
	ttesting.AssertEqualString(t, "location description", got.Description, "Server Location")
	q.Locations = nil
	got = Pick(q)
	ttesting.AssertEqualString(t, "tile only", got.Kind.String(), "tile")
	ttesting.AssertEqualString(t, "tile description", got.Description, "Deep Dark")
	q.TileHover = false
	ttesting.AssertEqualString(t, "tile hover off", Pick(q).Kind.String(), "none")
}

func TestRadiusScalesWithZoom(t *testing.T) {
	player := gameworld.Player{Name: "p", X: 8, Dimension: gameworld.Overworld}

	// At scale 1 the radius is 10 world units; 8 away is a hit.
	q := queryAt(0, 0, 1)
	q.Players = []gameworld.Player{player}
	if Pick(q).Kind != Player {
		t.Errorf("scale 1: expected hit")
	}
	// At scale 2 the radius is 5 world units; 8 away misses.
	q = queryAt(0, 0, 2)
	q.Players = []gameworld.Player{player}
	if Pick(q).Kind != None {
		t.Errorf("scale 2: expected miss")
	}
}

func TestOtherDimensionIgnored(t *testing.T) {
	q := queryAt(0, 0, 1)
	q.Players = []gameworld.Player{{Name: "n", Dimension: gameworld.Nether}}
	q.Locations = []gameworld.Location{{Name: "n", Dimension: gameworld.End}}
	if got := Pick(q); got.Kind != None {
		t.Errorf("Pick = %+v; want none", got)
	}
}

func TestFirstMatchWins(t *testing.T) {
	q := queryAt(0, 0, 1)
	q.Players = []gameworld.Player{
		{Name: "second-closest", X: 3, Dimension: gameworld.Overworld},
		{Name: "closest", X: 0, Dimension: gameworld.Overworld},
	}
	if got := Pick(q); got.Player.Name != "second-closest" {
		t.Errorf("Pick = %q; want the first in order", got.Player.Name)
	}
}

func TestLocationDescriptions(t *testing.T) {
	ttesting.AssertEqualString(t, "explicit", LocationDescription(gameworld.Location{Description: "Shops"}), "Shops")
	ttesting.AssertEqualString(t, "player", LocationDescription(gameworld.Location{Owner: "steve"}), "Player Location")
}

func TestStateMatchers(t *testing.T) {
	s := State{Kind: Tile, Tile: gameworld.Tile{X: 16, Z: 32}}
	if !s.IsTile(gameworld.Tile{X: 16, Z: 32, Label: "x"}) {
		t.Errorf("IsTile should match on position")
	}
	if s.IsPlayer(gameworld.Player{}) {
		t.Errorf("tile state matched a player")
	}
}
