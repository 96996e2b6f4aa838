package compositor

import (
	"image/color"

	"bytefi.sh/pkg/worldmap/gameworld"
)

var (
	Background     = color.RGBA{0x12, 0x12, 0x12, 0xff}
	HoverColor     = color.RGBA{0xea, 0xb3, 0x08, 0xff}
	ServerLocation = color.RGBA{0xea, 0xb3, 0x08, 0xff}
	PlayerLocation = color.RGBA{0x3b, 0xca, 0xf6, 0xff}
	LabelColor     = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

// TileAlpha is the opacity of the tile layer over the background.
const TileAlpha = 0x80

// TileColor is the fill of a tile in the raster path.
func TileColor(t gameworld.Tile) color.NRGBA {
	return color.NRGBA{t.R, t.G, t.B, TileAlpha}
}

// LocationColor picks the marker color for l.
func LocationColor(l gameworld.Location, hovered bool) color.RGBA {
	switch {
	case hovered:
		return HoverColor
	case l.ServerOwned():
		return ServerLocation
	}
	return PlayerLocation
}
