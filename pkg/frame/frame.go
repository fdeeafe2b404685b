// Package frame defines the pixel buffer passed between capture,
// detection, classification and rendering.
package frame

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is a decoded, interleaved 8-bit pixel buffer in BGR order
// (BGRA when Channels is 4, intensity when Channels is 1).
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// New allocates a zeroed frame.
func New(width, height, channels int) Frame {
	return Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Empty reports whether the frame has no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	out := f
	if f.Pix != nil {
		out.Pix = make([]byte, len(f.Pix))
		copy(out.Pix, f.Pix)
	}
	return out
}

// Validate checks that the buffer size matches the declared geometry.
func (f Frame) Validate() error {
	switch f.Channels {
	case 1, 3, 4:
	default:
		return fmt.Errorf("frame: unsupported channel count %d", f.Channels)
	}
	if want := f.Width * f.Height * f.Channels; len(f.Pix) != want {
		return fmt.Errorf("frame: %dx%dx%d needs %d bytes, have %d",
			f.Width, f.Height, f.Channels, want, len(f.Pix))
	}
	return nil
}

// Luma returns the BT.601 intensity of pixel i (the same weights OpenCV
// uses for BGR2GRAY).
func (f Frame) Luma(i int) uint8 {
	off := i * f.Channels
	if f.Channels == 1 {
		return f.Pix[off]
	}
	b := uint32(f.Pix[off])
	g := uint32(f.Pix[off+1])
	r := uint32(f.Pix[off+2])
	// fixed point, 14 bits, rounded
	return uint8((r*4899 + g*9617 + b*1868 + 8192) >> 14)
}

// BGR returns the frame as a 3-channel BGR buffer, converting from
// intensity or BGRA when needed. A 3-channel frame is returned as is.
func (f Frame) BGR() Frame {
	if f.Channels == 3 {
		return f
	}
	out := New(f.Width, f.Height, 3)
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		src := i * f.Channels
		dst := i * 3
		if f.Channels == 1 {
			v := f.Pix[src]
			out.Pix[dst], out.Pix[dst+1], out.Pix[dst+2] = v, v, v
			continue
		}
		out.Pix[dst], out.Pix[dst+1], out.Pix[dst+2] = f.Pix[src], f.Pix[src+1], f.Pix[src+2]
	}
	return out
}

// FromImage converts any image.Image into a BGR frame.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	out := New(b.Dx(), b.Dy(), 3)

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.Pix[i] = c.B
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.R
			i += 3
		}
	}
	return out
}

// Fill returns a 3-channel frame of a single BGR color. Handy for tests
// and for probing models with a blank input.
func Fill(width, height int, b, g, r uint8) Frame {
	out := New(width, height, 3)
	for i := 0; i < len(out.Pix); i += 3 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = b, g, r
	}
	return out
}
