// Package imageprint prints rendered frames on a terminal, either as
// coloured character cells or, where the terminal supports it, as an
// inline image.
package imageprint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	ic "image/color"
	"image/png"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/pkg/errors"
)

// Mode selects how an image is written.
type Mode int

const (
	Auto Mode = iota
	TrueColor
	Color256
	NoColor
	ITerm
	Rasterm
)

var modeNames = map[Mode]string{
	Auto:      "auto",
	TrueColor: "24bit",
	Color256:  "256",
	NoColor:   "none",
	ITerm:     "iterm",
	Rasterm:   "rasterm",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names String returns.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Auto, errors.Errorf("imageprint: unknown mode %q", s)
}

// ErrUnsupported is returned when the terminal cannot show inline images.
var ErrUnsupported = errors.New("terminal cannot display inline images")

type dumper interface {
	Sprintf(format string, a ...interface{}) string
}

type fmtDumper struct{}

func (fmtDumper) Sprintf(format string, a ...interface{}) string {
	return fmt.Sprintf(format, a...)
}

// shade writes one pixel as two character cells.
func shade(w io.Writer, col ic.Color, escapesTrueColor, blanks, noColor bool) {
	cR, cG, cB, cA := col.RGBA()
	if cA == 0 {
		if !noColor {
			io.WriteString(w, "\x1b[0m")
		}
		io.WriteString(w, "  ")
		return
	}
	r, g, b := uint8(cR>>8), uint8(cG>>8), uint8(cB>>8)

	var d dumper = fmtDumper{}
	switch {
	case noColor:
	case escapesTrueColor:
		fmt.Fprintf(w, "\x1b[48;2;%d;%d;%dm", r, g, b)
	default:
		d = color.RGB(r, g, b, true)
	}

	cell := "  "
	if !blanks {
		a := ((cR + cG + cB) / 3) >> 8
		switch {
		case a < 32:
			cell = ".."
		case a < 64:
			cell = "--"
		case a < 128:
			cell = "=="
		default:
			cell = "##"
		}
	}
	io.WriteString(w, d.Sprintf("%s", cell))

	if escapesTrueColor && !noColor {
		io.WriteString(w, "\x1b[0m")
	}
}

func printCells(w io.Writer, i image.Image, trueColor, blanks, noColor bool) {
	b := i.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			shade(w, i.At(x, y), trueColor, blanks, noColor)
		}
		if !noColor {
			io.WriteString(w, "\x1b[0m")
		}
		io.WriteString(w, "\n")
	}
}

// Print256Color draws an image using 256color'd ascii art.
func Print256Color(w io.Writer, i image.Image, blanks bool) {
	printCells(w, i, false, blanks, false)
}

// Print24bit draws an image using 24bit color escape sequences by changing
// background.
func Print24bit(w io.Writer, i image.Image, blanks bool) {
	printCells(w, i, true, blanks, false)
}

// PrintNoColor draws an image without colour escape sequences. Only makes
// sense with blanks=false.
func PrintNoColor(w io.Writer, i image.Image, blanks bool) {
	printCells(w, i, false, blanks, true)
}

// PrintITerm draws an image using iTerm2's escape sequences.
//
// https://www.iterm2.com/documentation-images.html
func PrintITerm(w io.Writer, i image.Image, fn string) error {
	name := base64.StdEncoding.EncodeToString([]byte(fn))
	b := &bytes.Buffer{}
	enc := base64.NewEncoder(base64.StdEncoding, b)
	if err := png.Encode(enc, i); err != nil {
		return errors.Wrap(err, "imageprint: encoding png")
	}
	enc.Close()
	_, err := fmt.Fprintf(w, "\n\033]1337;File=name=%s;inline=1;size=%d;width=%dpx;height=%dpx:%s\a\n", name, b.Len(), i.Bounds().Dx(), i.Bounds().Dy(), b.String())
	return err
}

// Print writes i in mode m. Auto uses an inline image when the terminal
// supports one and 24-bit cells otherwise.
func Print(w io.Writer, i image.Image, m Mode, blanks bool) error {
	switch m {
	case Auto:
		if InlineCapable() {
			return PrintRasTerm(w, i)
		}
		Print24bit(w, i, blanks)
	case TrueColor:
		Print24bit(w, i, blanks)
	case Color256:
		Print256Color(w, i, blanks)
	case NoColor:
		PrintNoColor(w, i, blanks)
	case ITerm:
		return PrintITerm(w, i, "frame.png")
	case Rasterm:
		return PrintRasTerm(w, i)
	default:
		return errors.Errorf("imageprint: unknown mode %v", m)
	}
	return nil
}
