package colorspace

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by a Converter that cannot handle the given
	// frame on this platform, the caller should try the next Converter
	ErrUnavailable = errors.New("converter unavailable")
	// ErrInvalidFrame is returned when a frame's planes do not describe a
	// valid 4:2:0 image
	ErrInvalidFrame = errors.New("invalid frame")
)

// Plane is a single image plane of a planar camera frame
type Plane struct {
	// Data is the plane's backing bytes
	Data []byte
	// RowStride is the number of bytes between the start of two consecutive
	// rows, it may exceed the logical width due to platform padding
	RowStride int
	// PixelStride is the number of bytes between two consecutive samples in
	// a row.  Luma planes use 1, interleaved chroma planes typically use 2
	PixelStride int
}

// Frame is a planar YUV 4:2:0 camera frame with one full resolution luma
// plane and two half resolution chroma planes
type Frame struct {
	Width  int
	Height int
	Y      Plane
	U      Plane
	V      Plane
	// Rotation is the clockwise sensor rotation in degrees needed to display
	// the frame upright, one of 0, 90, 180 or 270
	Rotation int
	// Mirror requests a horizontal flip after rotation, set for front facing
	// cameras
	Mirror bool
}

// OutputSize returns the dimensions of the RGB raster the frame converts to
// after rotation
func (f *Frame) OutputSize() (width, height int) {
	if f.Rotation == 90 || f.Rotation == 270 {
		return f.Height, f.Width
	}

	return f.Width, f.Height
}

// Validate checks the frame dimensions, rotation and that every plane is
// large enough for its declared strides
func (f *Frame) Validate() error {

	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}

	switch f.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: unsupported rotation %d", ErrInvalidFrame, f.Rotation)
	}

	if err := checkPlane("Y", f.Y, f.Width, f.Height); err != nil {
		return err
	}

	chromaW := (f.Width + 1) / 2
	chromaH := (f.Height + 1) / 2

	if err := checkPlane("U", f.U, chromaW, chromaH); err != nil {
		return err
	}

	return checkPlane("V", f.V, chromaW, chromaH)
}

// checkPlane verifies a plane holds at least width x height samples
func checkPlane(name string, p Plane, width, height int) error {

	pixelStride := p.PixelStride

	if pixelStride == 0 {
		pixelStride = 1
	}

	if p.RowStride < (width-1)*pixelStride+1 || pixelStride < 0 {
		return fmt.Errorf("%w: plane %s row stride %d too small for width %d",
			ErrInvalidFrame, name, p.RowStride, width)
	}

	need := (height-1)*p.RowStride + (width-1)*pixelStride + 1

	if len(p.Data) < need {
		return fmt.Errorf("%w: plane %s has %d bytes, need %d",
			ErrInvalidFrame, name, len(p.Data), need)
	}

	return nil
}

// Raster is an interleaved 8-bit RGB image
type Raster struct {
	Width  int
	Height int
	// Pix holds Width*Height*3 bytes in R, G, B order, rows are tightly packed
	Pix []byte
}

// NewRaster allocates a zeroed raster of the given size
func NewRaster(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// Converter turns a planar frame into an RGB raster applying the frame's
// rotation and mirroring
type Converter interface {
	// Name identifies the conversion strategy in logs and errors
	Name() string
	// Convert returns the upright RGB raster for the frame
	Convert(f *Frame) (*Raster, error)
}

// ConversionError is returned when no Converter could handle a frame
type ConversionError struct {
	// Converter is the name of the last strategy attempted
	Converter string
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("color conversion (%s) failed: %v", e.Converter, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
