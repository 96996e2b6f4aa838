// Package gameworld holds the world model shared by the map engine: static
// terrain tiles grouped per dimension, and the live players and locations
// that are replaced wholesale on every synchronization tick.
package gameworld

import (
	"strings"

	"github.com/pkg/errors"
)

// Dimension names one of the sub-worlds. The string value is the one the
// game server puts into the `world` field of entities.
type Dimension string

const (
	Overworld Dimension = "world"
	Nether    Dimension = "world_nether"
	End       Dimension = "world_the_end"
)

// Dimensions lists all known dimensions in display order.
var Dimensions = []Dimension{Overworld, Nether, End}

var (
	ErrUnknownDimension = errors.New("unknown dimension")
)

// DatasetKey returns the stable identifier under which the dimension's tile
// dataset is published and cached.
func (d Dimension) DatasetKey() string {
	switch d {
	case Nether:
		return "nt"
	case End:
		return "end"
	default:
		return "ow"
	}
}

// Title is a short human readable name.
func (d Dimension) Title() string {
	switch d {
	case Nether:
		return "Nether"
	case End:
		return "End"
	case Overworld:
		return "Overworld"
	}
	return string(d)
}

// ParseDimension accepts either a dimension name ("world_nether") or a
// dataset key ("nt").
func ParseDimension(s string) (Dimension, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range Dimensions {
		if s == string(d) || s == d.DatasetKey() {
			return d, nil
		}
	}
	switch s {
	case "", "overworld":
		return Overworld, nil
	case "nether":
		return Nether, nil
	}
	return "", errors.Wrapf(ErrUnknownDimension, "gameworld.ParseDimension(%q)", s)
}
