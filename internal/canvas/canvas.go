// Package canvas implements the shared-memory pixel framebuffer that every
// lackey ring writes into without synchronization.
package canvas

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Bgra is a 32-bit pixel, byte order B,G,R,A.
type Bgra struct {
	B, G, R, A uint8
}

// FromRGB builds an opaque pixel from a 24-bit 0xRRGGBB value.
func FromRGB(rgb uint32) Bgra {
	return Bgra{
		R: uint8(rgb >> 16),
		G: uint8(rgb >> 8),
		B: uint8(rgb),
		A: 0xff,
	}
}

// FromRGBA builds a pixel from a 32-bit 0xRRGGBBAA value.
func FromRGBA(rgba uint32) Bgra {
	return Bgra{
		R: uint8(rgba >> 24),
		G: uint8(rgba >> 16),
		B: uint8(rgba >> 8),
		A: uint8(rgba),
	}
}

// FromBW builds an opaque grayscale pixel, replicating bw across R,G,B.
func FromBW(bw uint8) Bgra {
	return Bgra{R: bw, G: bw, B: bw, A: 0xff}
}

// RGB packs the pixel's color channels back into a 24-bit 0xRRGGBB value.
func (p Bgra) RGB() uint32 {
	return uint32(p.R)<<16 | uint32(p.G)<<8 | uint32(p.B)
}

// RGBAHex formats the pixel as the lowercase 8 hex digit string the wire
// protocol replies with, e.g. "0a0b0cff".
func (p Bgra) RGBAHex() string {
	return fmt.Sprintf("%02x%02x%02x%02x", p.R, p.G, p.B, p.A)
}

// UserID identifies the client that last touched a pixel. Zero means
// "unassigned" — the 1-based index into the UserState vector (see package
// userstate) is used as every other value.
type UserID = uint32

const pixelSize = 4 // bytes per Bgra, matches unsafe.Sizeof(Bgra{})

// ErrPixelOutOfBounds is returned by Pixel/SetPixel for coordinates outside
// the canvas.
type ErrPixelOutOfBounds struct {
	X, Y uint32
}

func (e *ErrPixelOutOfBounds) Error() string {
	return fmt.Sprintf("pixel (%d, %d) out of bounds", e.X, e.Y)
}

// ErrInvalidSize is returned when opening an existing canvas link whose
// stored dimensions don't match what the caller requested.
type ErrInvalidSize struct {
	Width, Height         uint32
	WantWidth, WantHeight uint32
}

func (e *ErrInvalidSize) Error() string {
	return fmt.Sprintf("canvas at link is %dx%d, wanted %dx%d", e.Width, e.Height, e.WantWidth, e.WantHeight)
}

// attachMu serializes every create/open call across goroutines within this
// process, mirroring the upstream "process-wide mutex" discipline so two
// lackeys racing to create the same flink never both win.
var attachMu sync.Mutex

// Canvas is a shared-memory region holding a BGRA pixel array and a parallel
// per-pixel owner (UserID) array, as laid out in the header below.
//
//	offset  size              meaning
//	0       4                 width  (u32 LE)
//	4       4                 height (u32 LE)
//	8       width*height*4    BGRA pixel array, row-major
//	        width*height*4    UserID array (u32 per pixel)
type Canvas struct {
	width, height uint32
	length        int // width*height, pixel count

	mem   []byte
	owner bool // true if this process should remove the flink on close
	path  string

	pixels []uint32 // aliases mem[8:8+length*4] as uint32 for atomic access
	owners []uint32 // aliases mem[8+length*4:] as uint32 for atomic access
}

// Open attaches the canvas at canvasPath, creating it with the given
// dimensions and fill color if the link does not already exist. If
// persistent is true, the backing shared memory outlives this process even
// if this process is the creator.
func Open(canvasPath string, persistent bool, width, height uint32, fill Bgra) (*Canvas, error) {
	attachMu.Lock()
	defer attachMu.Unlock()

	if width == 0 || height == 0 {
		return nil, fmt.Errorf("canvas: width and height must be >= 1")
	}

	length := int(width) * int(height)
	size := 8 + length*pixelSize*2

	fd, err := unix.Open(canvasPath, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0644)
	switch {
	case err == nil:
		return createOnFd(fd, canvasPath, width, height, length, size, fill, persistent)
	case err == unix.EEXIST:
		return openExisting(canvasPath, width, height, length, size, persistent)
	default:
		return nil, fmt.Errorf("canvas: open %s: %w", canvasPath, err)
	}
}

func createOnFd(fd int, path string, width, height uint32, length, size int, fill Bgra, persistent bool) (c *Canvas, err error) {
	defer func() {
		if err != nil {
			unix.Close(fd)
			unix.Unlink(path)
		}
	}()

	if err = unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("canvas: ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("canvas: mmap: %w", err)
	}

	putU32(mem[0:4], width)
	putU32(mem[4:8], height)

	c = newCanvasView(mem, path, width, height, length, !persistent)
	fillPixel := fill
	for i := 0; i < length; i++ {
		c.pixels[i] = pixelToU32(fillPixel)
	}
	return c, nil
}

func openExisting(path string, wantWidth, wantHeight uint32, length, size int, persistent bool) (*Canvas, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("canvas: open existing %s: %w", path, err)
	}
	defer unix.Close(fd)

	header := make([]byte, 8)
	if _, err := unix.Pread(fd, header, 0); err != nil {
		return nil, fmt.Errorf("canvas: read header: %w", err)
	}
	width := getU32(header[0:4])
	height := getU32(header[4:8])
	if width != wantWidth || height != wantHeight {
		return nil, &ErrInvalidSize{Width: width, Height: height, WantWidth: wantWidth, WantHeight: wantHeight}
	}

	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("canvas: mmap existing: %w", err)
	}

	return newCanvasView(mem, path, width, height, length, !persistent), nil
}

func newCanvasView(mem []byte, path string, width, height uint32, length int, owner bool) *Canvas {
	c := &Canvas{
		width:  width,
		height: height,
		length: length,
		mem:    mem,
		owner:  owner,
		path:   path,
	}
	pixelBytes := mem[8 : 8+length*pixelSize]
	ownerBytes := mem[8+length*pixelSize : 8+length*pixelSize*2]
	c.pixels = unsafe.Slice((*uint32)(unsafe.Pointer(&pixelBytes[0])), length)
	c.owners = unsafe.Slice((*uint32)(unsafe.Pointer(&ownerBytes[0])), length)
	return c
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func pixelToU32(p Bgra) uint32 {
	return uint32(p.B) | uint32(p.G)<<8 | uint32(p.R)<<16 | uint32(p.A)<<24
}

func u32ToPixel(v uint32) Bgra {
	return Bgra{B: uint8(v), G: uint8(v >> 8), R: uint8(v >> 16), A: uint8(v >> 24)}
}

// Width returns the canvas width in pixels.
func (c *Canvas) Width() uint32 { return c.width }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() uint32 { return c.height }

func (c *Canvas) index(x, y uint32) (int, error) {
	if x >= c.width || y >= c.height {
		return 0, &ErrPixelOutOfBounds{X: x, Y: y}
	}
	return int(y*c.width + x), nil
}

// Pixel returns the current color at (x, y).
func (c *Canvas) Pixel(x, y uint32) (Bgra, error) {
	idx, err := c.index(x, y)
	if err != nil {
		return Bgra{}, err
	}
	return u32ToPixel(atomic.LoadUint32(&c.pixels[idx])), nil
}

// User returns the UserID that last touched (x, y).
func (c *Canvas) User(x, y uint32) (UserID, error) {
	idx, err := c.index(x, y)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(&c.owners[idx]), nil
}

// SetPixel writes color at (x, y) attributed to userID, alpha-blending
// against the existing value when 0 < color.A < 255. This is deliberately
// unsynchronized: concurrent writers to the same pixel race, and the
// non-opaque blend path can interleave into a non-linear combination. That
// is accepted Pixelflut behavior, not a bug.
func (c *Canvas) SetPixel(x, y uint32, color Bgra, userID UserID) error {
	idx, err := c.index(x, y)
	if err != nil {
		return err
	}

	switch color.A {
	case 0:
		return nil
	case 255:
		atomic.StoreUint32(&c.pixels[idx], pixelToU32(color))
		atomic.StoreUint32(&c.owners[idx], userID)
		return nil
	default:
		current := u32ToPixel(atomic.LoadUint32(&c.pixels[idx]))
		blended := blend(current.RGB(), color.RGB(), uint32(color.A))
		atomic.StoreUint32(&c.pixels[idx], pixelToU32(FromRGB(blended)))
		atomic.StoreUint32(&c.owners[idx], userID)
		return nil
	}
}

// blend mixes dst toward src by alpha/255, matching the packed-channel
// integer blend of the reference implementation: rb and g channels are
// blended independently using the 0xff00ff / 0x00ff00 channel masks so both
// update in a single pair of additions.
func blend(dst, src, alpha uint32) uint32 {
	rb := dst & 0xff00ff
	g := dst & 0x00ff00

	srcRB := src & 0xff00ff
	srcG := src & 0x00ff00

	rb += satSub(srcRB, rb) * alpha >> 8
	g += satSub(srcG, g) * alpha >> 8

	return (rb & 0xff00ff) | (g & 0x00ff00)
}

func satSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

// PixelByteSlice returns a zero-copy byte view over the BGRA array, used by
// external bulk consumers (e.g. a viewer) that read the whole framebuffer at
// once.
func (c *Canvas) PixelByteSlice() []byte {
	return c.mem[8 : 8+c.length*pixelSize]
}

// UserByteSlice returns a zero-copy byte view over the UserID array.
func (c *Canvas) UserByteSlice() []byte {
	return c.mem[8+c.length*pixelSize : 8+c.length*pixelSize*2]
}

// Close unmaps the canvas. If this process owns the region (non-persistent
// mode), the backing flink is also removed.
func (c *Canvas) Close() error {
	if err := unix.Munmap(c.mem); err != nil {
		return fmt.Errorf("canvas: munmap: %w", err)
	}
	if c.owner {
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("canvas: remove flink: %w", err)
		}
	}
	return nil
}

// Remove unlinks the canvas file at canvasPath without mapping it,
// backing the --remove-canvas CLI flag: it lets an operator reclaim a
// persistent canvas's shared memory without starting a server.
func Remove(canvasPath string) error {
	attachMu.Lock()
	defer attachMu.Unlock()
	if err := os.Remove(canvasPath); err != nil {
		return fmt.Errorf("canvas: remove %s: %w", canvasPath, err)
	}
	return nil
}
