package gameworld

// OwnerServer marks locations published by the server itself rather than
// by a player.
const OwnerServer = "server"

// Player is an online player as reported by the game server.
type Player struct {
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Z         float64   `json:"z"`
	Dimension Dimension `json:"world"`
}

// Location is a named point of interest.
type Location struct {
	Name        string    `json:"name"`
	Owner       string    `json:"owner"`
	X           float64   `json:"x"`
	Z           float64   `json:"z"`
	Dimension   Dimension `json:"world"`
	Description string    `json:"description,omitempty"`
	Timestamp   int64     `json:"timestamp,omitempty"`
}

func (l Location) ServerOwned() bool {
	return l.Owner == OwnerServer
}

// Snapshot is the complete foreground layer at one point in time. Consumers
// treat it as immutable; a new tick produces a new Snapshot.
type Snapshot struct {
	Players   []Player   `json:"players"`
	Locations []Location `json:"locations"`
	Timestamp int64      `json:"timestamp"`
}

// PlayersIn returns the players in dimension d, preserving order.
func (s *Snapshot) PlayersIn(d Dimension) []Player {
	if s == nil {
		return nil
	}
	var out []Player
	for _, p := range s.Players {
		if p.Dimension == d {
			out = append(out, p)
		}
	}
	return out
}

// LocationsIn returns the locations in dimension d, preserving order.
func (s *Snapshot) LocationsIn(d Dimension) []Location {
	if s == nil {
		return nil
	}
	var out []Location
	for _, l := range s.Locations {
		if l.Dimension == d {
			out = append(out, l)
		}
	}
	return out
}
