package canvas

import (
	"fmt"
	"path/filepath"
	"testing"
)

func tempCanvas(t *testing.T, w, h uint32) *Canvas {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("canvas-%s", t.Name()))
	c, err := Open(path, false, w, h, Bgra{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetPixelRoundTrip(t *testing.T) {
	c := tempCanvas(t, 8, 8)

	color := FromRGB(0x0a0b0c)
	if err := c.SetPixel(3, 4, color, 7); err != nil {
		t.Fatalf("SetPixel: %v", err)
	}

	got, err := c.Pixel(3, 4)
	if err != nil {
		t.Fatalf("Pixel: %v", err)
	}
	if got != color {
		t.Errorf("Pixel = %+v, want %+v", got, color)
	}

	user, err := c.User(3, 4)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if user != 7 {
		t.Errorf("User = %d, want 7", user)
	}
}

func TestSetPixelTransparentNoOp(t *testing.T) {
	c := tempCanvas(t, 4, 4)

	before, _ := c.Pixel(1, 1)
	beforeUser, _ := c.User(1, 1)

	transparent := FromRGBA(0x11223300)
	if err := c.SetPixel(1, 1, transparent, 9); err != nil {
		t.Fatalf("SetPixel: %v", err)
	}

	after, _ := c.Pixel(1, 1)
	afterUser, _ := c.User(1, 1)
	if after != before || afterUser != beforeUser {
		t.Errorf("transparent SetPixel mutated state: before=%+v/%d after=%+v/%d", before, beforeUser, after, afterUser)
	}
}

func TestSetPixelOutOfBounds(t *testing.T) {
	c := tempCanvas(t, 4, 4)

	if err := c.SetPixel(4, 0, FromRGB(0xffffff), 1); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
	if _, err := c.Pixel(0, 4); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestRGBAHexFormat(t *testing.T) {
	p := FromRGBA(0x0a0b0cff)
	if got := p.RGBAHex(); got != "0a0b0cff" {
		t.Errorf("RGBAHex() = %q, want %q", got, "0a0b0cff")
	}
}

func TestFromBW(t *testing.T) {
	p := FromBW(0x7f)
	want := Bgra{R: 0x7f, G: 0x7f, B: 0x7f, A: 0xff}
	if p != want {
		t.Errorf("FromBW = %+v, want %+v", p, want)
	}
}

func TestOpenExistingSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canvas")
	c, err := Open(path, true, 4, 4, Bgra{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()
	defer canvasCleanupRemove(t, path)

	if _, err := Open(path, true, 8, 8, Bgra{}); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func canvasCleanupRemove(t *testing.T, path string) {
	t.Helper()
	_ = Remove(path)
}
