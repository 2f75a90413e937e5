package protocol

import "github.com/wellenbrecher-go/wellenbrecher/internal/canvas"

// Pixel is the color value attached to SetPixel commands.
type Pixel = canvas.Bgra

// PixelFromRGB, PixelFromRGBA and PixelFromBW mirror the canvas package's
// color constructors under protocol-local names so command_ring.go doesn't
// need to spell out the canvas import at every call site.
var (
	PixelFromRGB  = canvas.FromRGB
	PixelFromRGBA = canvas.FromRGBA
	PixelFromBW   = canvas.FromBW
)

const (
	verbPX     = "PX"
	verbSIZE   = "SIZE"
	verbHELP   = "HELP"
	verbOFFSET = "OFFSET"
)

// Kind discriminates the Command variants the wire grammar produces.
type Kind int

const (
	Help Kind = iota
	Size
	SetPixel
	GetPixel
	Offset
)

func (k Kind) String() string {
	switch k {
	case Help:
		return "HELP"
	case Size:
		return "SIZE"
	case SetPixel:
		return "PX(set)"
	case GetPixel:
		return "PX(get)"
	case Offset:
		return "OFFSET"
	default:
		return "UNKNOWN"
	}
}

// Command is the parsed, tagged representation of one line of the wire
// protocol. Only the fields relevant to Kind are populated.
type Command struct {
	Kind  Kind
	X, Y  uint32
	Color Pixel
}

// HelpText is the fixed multi-line banner sent in reply to HELP\n,
// reproduced verbatim from the original HELP_TEXT so clients that
// pattern-match on real Pixelflut servers' help output keep working.
const HelpText = `
Welcome to Pixelflut!

Commands:
    HELP                -> get this information page
    SIZE                -> get the size of the canvas
    PX <x> <y>          -> get the color of pixel (x, y)
    PX <x> <y> <COLOR>  -> set the color of pixel (x, y)

    COLOR:
        Grayscale: ww          ("00"       black .. "ff"       white)
        RGB:       rrggbb      ("000000"   black .. "ffffff"   white)
        RGBA:      rrggbbaa    (rgb with alpha)
    
Example:
    "PX 420 69 ff\n"       -> set the color of pixel at (420, 69) to white
    "PX 420 69 00ffff\n"   -> set the color of pixel at (420, 69) to cyan
    "PX 420 69 ffff007f\n" -> blend the color of pixel at (420, 69) with yellow (alpha 127)
`
