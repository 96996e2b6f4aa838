package compositor

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/golang/glog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Distance between an entity and its label baseline, in pixels.
const (
	LocationLabelOffset = 10
	PlayerLabelOffset   = 20
)

// Labeler draws centered text labels. Font faces keep glyph caches and are
// not safe for concurrent use, so every renderer owns its own Labeler.
type Labeler struct {
	small, large font.Face
}

// NewLabeler loads the label faces. If the bundled font cannot be parsed
// it falls back to a fixed bitmap face.
func NewLabeler() *Labeler {
	l := &Labeler{small: basicfont.Face7x13, large: basicfont.Face7x13}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		glog.Warningf("compositor: parsing label font, using bitmap face: %v", err)
		return l
	}
	if face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 12, DPI: 72, Hinting: font.HintingFull}); err == nil {
		l.small = face
	}
	if face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 16, DPI: 72, Hinting: font.HintingFull}); err == nil {
		l.large = face
	}
	return l
}

// Draw writes s horizontally centered on cx with its baseline at y.
func (l *Labeler) Draw(dst draw.Image, s string, cx, y int, c color.Color, large bool) {
	if s == "" {
		return
	}
	face := l.small
	if large {
		face = l.large
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	w := d.MeasureString(s).Ceil()
	d.Dot = fixed.P(cx-w/2, y)
	d.DrawString(s)
}

func (l *Labeler) Close() error {
	for _, f := range []font.Face{l.small, l.large} {
		if f != basicfont.Face7x13 {
			f.Close()
		}
	}
	return nil
}
