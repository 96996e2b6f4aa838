package main

import (
	"image"
	"image/color"

	"github.com/gdamore/tcell/v2"
	"github.com/nfnt/resize"
)

// halfBlock is the glyph whose upper half is drawn in the foreground
// colour and lower half in the background colour.
const halfBlock = '▀'

// cell is one terminal cell showing two stacked pixels.
type cell struct {
	top, bottom color.RGBA
}

// halfBlocks scales img to cols x 2*rows pixels and pairs them into cells,
// row major.
func halfBlocks(img image.Image, cols, rows int) []cell {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	small := resize.Resize(uint(cols), uint(rows*2), img, resize.Bilinear)
	b := small.Bounds()
	at := func(x, y int) color.RGBA {
		return color.RGBAModel.Convert(small.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
	}
	cells := make([]cell, 0, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			cells = append(cells, cell{top: at(x, 2*y), bottom: at(x, 2*y+1)})
		}
	}
	return cells
}

func rgb(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}

type contentSetter interface {
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
}

func blit(s contentSetter, cells []cell, cols int) {
	for i, c := range cells {
		style := tcell.StyleDefault.Foreground(rgb(c.top)).Background(rgb(c.bottom))
		s.SetContent(i%cols, i/cols, halfBlock, nil, style)
	}
}

// drawText writes s on row y from column 0, padding with blanks to cols.
func drawText(s contentSetter, y, cols int, text string, style tcell.Style) {
	x := 0
	for _, r := range text {
		if x >= cols {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
	for ; x < cols; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}
