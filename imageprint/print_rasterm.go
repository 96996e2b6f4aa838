//go:build !windows

package imageprint

import (
	"fmt"
	"image"
	"io"

	"github.com/BourgeoisBear/rasterm"
	"github.com/andybons/gogif"
	"github.com/pkg/errors"
)

// InlineCapable reports whether PrintRasTerm can draw on this terminal.
func InlineCapable() bool {
	if rasterm.IsTermKitty() || rasterm.IsTermItermWez() {
		return true
	}
	capable, err := rasterm.IsSixelCapable()
	return capable && err == nil
}

// PrintRasTerm draws an image using the RasTerm library: kitty graphics,
// iTerm inline images, or sixels quantized to 64 colours.
func PrintRasTerm(w io.Writer, i image.Image) error {
	var err error
	switch {
	case rasterm.IsTermKitty():
		err = rasterm.Settings{}.KittyWriteImage(w, i)
	case rasterm.IsTermItermWez():
		err = rasterm.Settings{}.ItermWriteImage(w, i)
	default:
		if capable, serr := rasterm.IsSixelCapable(); !capable || serr != nil {
			return ErrUnsupported
		}
		paletted := image.NewPaletted(i.Bounds(), nil)
		quantizer := gogif.MedianCutQuantizer{NumColor: 64}
		quantizer.Quantize(paletted, i.Bounds(), i, i.Bounds().Min)
		err = rasterm.Settings{}.SixelWriteImage(w, paletted)
	}
	if err != nil {
		return errors.Wrap(err, "imageprint: rasterm")
	}
	fmt.Fprintln(w)
	return nil
}
