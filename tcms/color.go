package tcms

import (
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
)

// Color is an ANSI terminal colour.
type Color int

const (
	None Color = iota
	Black
	Red
	Green
	Yellow
	Blue
	Magenta
	Cyan
	White
	DarkGray
	LightRed
	LightGreen
	LightYellow
	LightBlue
	LightMagenta
	LightCyan
)

func (c Color) code() string {
	switch {
	case c == None:
		return ""
	case c <= White:
		return "0;" + strconv.Itoa(29+int(c))
	default:
		return "1;" + strconv.Itoa(29+int(c)-int(White))
	}
}

// ColorMode selects whether output is coloured.
type ColorMode int

const (
	ColorOff  ColorMode = 0
	ColorOn   ColorMode = 1
	ColorAuto ColorMode = 2
)

// Painter wraps text in colour escapes when enabled.
type Painter struct {
	enabled bool
}

// NewPainter resolves mode against the given file. ColorAuto enables colour
// only for terminals.
func NewPainter(mode ColorMode, f *os.File) *Painter {
	enabled := mode == ColorOn
	if mode == ColorAuto && f != nil {
		enabled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Painter{enabled: enabled}
}

// Enabled reports whether colour escapes are emitted.
func (p *Painter) Enabled() bool {
	return p != nil && p.enabled
}

// Paint colours text. With colour off or None the text is returned as is.
func (p *Painter) Paint(text string, c Color) string {
	if !p.Enabled() || c == None {
		return text
	}
	return "\033[" + c.code() + "m" + text + "\033[1;m"
}
