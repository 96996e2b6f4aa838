//go:build windows

package imageprint

import (
	"image"
	"io"
)

func InlineCapable() bool {
	return false
}

// PrintRasTerm is not supported on windows.
func PrintRasTerm(w io.Writer, i image.Image) error {
	return ErrUnsupported
}
