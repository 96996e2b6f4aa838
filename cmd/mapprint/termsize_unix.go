//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"golang.org/x/crypto/ssh/terminal"
	"golang.org/x/sys/unix"
)

type TermSize struct {
	WSRow, WSCol       uint
	WSXPixel, WSYPixel uint
}

var kittySizeReply = regexp.MustCompile(`\[4;(\d+);(\d+)t`)

// GetTermSize asks the controlling terminal for its size in cells and, if
// it knows, in pixels.
func GetTermSize() (TermSize, error) {
	f, err := os.OpenFile("/dev/tty", unix.O_NOCTTY|unix.O_CLOEXEC|unix.O_NDELAY|unix.O_RDWR, 0666)
	if err == nil {
		defer f.Close()
		sz, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
		if err == nil {
			if sz.Xpixel == 0 && sz.Ypixel == 0 && os.Getenv("TERM") == "xterm-kitty" {
				kittyPixels(f, sz)
			}
			return TermSize{WSRow: uint(sz.Row), WSCol: uint(sz.Col), WSXPixel: uint(sz.Xpixel), WSYPixel: uint(sz.Ypixel)}, nil
		}
	}
	w, h, err := terminal.GetSize(0)
	if err != nil {
		return TermSize{}, err
	}
	return TermSize{WSRow: uint(h), WSCol: uint(w)}, nil
}

// kittyPixels fills in the pixel size with the CSI 14 t query, which kitty
// answers as <ESC>[4;<height>;<width>t.
//
// TODO(worldmap): the reply is read without a timeout.
func kittyPixels(tty *os.File, sz *unix.Winsize) {
	state, err := terminal.MakeRaw(int(tty.Fd()))
	if err != nil {
		return
	}
	defer terminal.Restore(int(tty.Fd()), state)

	fmt.Fprint(tty, "\033[14t")
	r := bufio.NewReader(tty)
	if b, err := r.ReadByte(); err != nil || b != 033 {
		return
	}
	s, err := r.ReadString('t')
	if err != nil {
		return
	}
	m := kittySizeReply.FindStringSubmatch(s)
	if len(m) != 3 {
		return
	}
	h, errH := strconv.Atoi(m[1])
	w, errW := strconv.Atoi(m[2])
	if errH == nil && errW == nil {
		sz.Xpixel, sz.Ypixel = uint16(w), uint16(h)
	}
}
