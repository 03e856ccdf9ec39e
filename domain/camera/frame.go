package camera

import (
	"image"
	"time"
)

// PixelFormat identifies the layout of Frame.Pix.
type PixelFormat int

const (
	// FormatMono8 is one byte per pixel, the native format of the line cameras.
	FormatMono8 PixelFormat = iota
	// FormatRGBA is four bytes per pixel, produced by desktop capture sources.
	FormatRGBA
)

func (f PixelFormat) String() string {
	switch f {
	case FormatMono8:
		return "mono8"
	case FormatRGBA:
		return "rgba"
	default:
		return "unknown"
	}
}

// bytesPerPixel returns the per-pixel byte width of the format.
func (f PixelFormat) bytesPerPixel() int {
	if f == FormatRGBA {
		return 4
	}
	return 1
}

// Frame carries one captured image. It is immutable once produced; the
// worker owns it until handed to the consumer callback, after which the
// backing buffer may be recycled. Retaining consumers must Clone.
type Frame struct {
	Pix        []uint8
	Width      int
	Height     int
	Stride     int
	Format     PixelFormat
	Sequence   uint64
	CapturedAt time.Time
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0 || len(f.Pix) == 0
}

// Clone returns a deep copy with its own backing buffer.
func (f Frame) Clone() Frame {
	out := f
	out.Pix = make([]uint8, len(f.Pix))
	copy(out.Pix, f.Pix)
	return out
}

// Mono returns the frame as a single-channel image. Mono8 frames convert
// without copying pixel values beyond the repack; RGBA frames reduce with
// the Rec. 709 luminance weights.
func (f Frame) Mono() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	if f.Empty() {
		return g
	}
	switch f.Format {
	case FormatMono8:
		for y := 0; y < f.Height; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+f.Width], f.Pix[y*f.Stride:y*f.Stride+f.Width])
		}
	case FormatRGBA:
		for y := 0; y < f.Height; y++ {
			src := f.Pix[y*f.Stride:]
			dst := g.Pix[y*g.Stride:]
			for x := 0; x < f.Width; x++ {
				o := x * 4
				v := 0.2126*float64(src[o]) + 0.7152*float64(src[o+1]) + 0.0722*float64(src[o+2])
				dst[x] = uint8(v + 0.5)
			}
		}
	}
	return g
}

// FrameFromRGBA wraps a captured RGBA image in a Frame without copying.
func FrameFromRGBA(img *image.RGBA, seq uint64, at time.Time) Frame {
	if img == nil {
		return Frame{}
	}
	b := img.Bounds()
	return Frame{
		Pix:        img.Pix,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Stride:     img.Stride,
		Format:     FormatRGBA,
		Sequence:   seq,
		CapturedAt: at,
	}
}

// CropGray extracts the [x,y,w,h] window of a gray image into a new image.
// The rectangle must already be clamped to the image bounds.
func CropGray(src *image.Gray, x, y, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		so := (y+row)*src.Stride + x
		copy(out.Pix[row*out.Stride:row*out.Stride+w], src.Pix[so:so+w])
	}
	return out
}

// AcquisitionStats summarises one worker's loop behaviour for instrumentation.
type AcquisitionStats struct {
	Frames      uint64
	Timeouts    uint64
	Errors      uint64
	AvgPull     time.Duration
	LastFrameAt time.Time
	Sequence    uint64
	State       ConnectionState
}
