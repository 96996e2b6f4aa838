package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// FillRect blends c over r.
func FillRect(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

// StrokeRect draws an outline of the given width inside r.
func StrokeRect(dst draw.Image, r image.Rectangle, width int, c color.Color) {
	if width <= 0 || r.Empty() {
		return
	}
	u := image.NewUniform(c)
	top := image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width)
	bottom := image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y)
	left := image.Rect(r.Min.X, r.Min.Y+width, r.Min.X+width, r.Max.Y-width)
	right := image.Rect(r.Max.X-width, r.Min.Y+width, r.Max.X, r.Max.Y-width)
	for _, side := range []image.Rectangle{top, bottom, left, right} {
		draw.Draw(dst, side.Intersect(r), u, image.Point{}, draw.Over)
	}
}

// FillCircle blends a disc of radius r centered at (cx, cy).
func FillCircle(dst draw.Image, cx, cy, r float64, c color.Color) {
	bounds := image.Rect(
		int(math.Floor(cx-r)), int(math.Floor(cy-r)),
		int(math.Ceil(cx+r)), int(math.Ceil(cy+r)),
	)
	draw.DrawMask(dst, bounds, image.NewUniform(c), image.Point{}, &circle{cx, cy, r}, bounds.Min, draw.Over)
}

// circle is an alpha mask of a disc, sampled at pixel centers.
type circle struct {
	cx, cy, r float64
}

func (c *circle) ColorModel() color.Model { return color.AlphaModel }

func (c *circle) Bounds() image.Rectangle {
	return image.Rect(int(math.Floor(c.cx-c.r)), int(math.Floor(c.cy-c.r)), int(math.Ceil(c.cx+c.r)), int(math.Ceil(c.cy+c.r)))
}

func (c *circle) At(x, y int) color.Color {
	dx := float64(x) + 0.5 - c.cx
	dy := float64(y) + 0.5 - c.cy
	if dx*dx+dy*dy <= c.r*c.r {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}

// PixelRect converts a square of side size centered at (cx, cy) to pixel
// bounds. Adjacent squares share edges without gaps or overlap.
func PixelRect(cx, cy, size float64) image.Rectangle {
	x0 := cx - size/2
	y0 := cy - size/2
	return image.Rect(
		int(math.Floor(x0)), int(math.Floor(y0)),
		int(math.Floor(x0+size)), int(math.Floor(y0+size)),
	)
}
