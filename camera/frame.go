package camera

import (
	"fmt"

	"github.com/nutrivision/go-nutrivision/colorspace"
)

// FrameFromI420 returns a Frame viewing a planar YUV I420 buffer of an even
// sized image, the Y plane followed by the quarter size U and V planes.  The
// frame shares data and is only valid as long as it is
func FrameFromI420(data []byte, width, height int) (*colorspace.Frame, error) {

	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("I420 needs even dimensions, got %dx%d", width, height)
	}

	ySize := width * height
	cSize := ySize / 4

	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("I420 buffer has %d bytes, need %d", len(data), ySize+2*cSize)
	}

	cw := width / 2

	return &colorspace.Frame{
		Width:  width,
		Height: height,
		Y:      colorspace.Plane{Data: data[:ySize], RowStride: width, PixelStride: 1},
		U:      colorspace.Plane{Data: data[ySize : ySize+cSize], RowStride: cw, PixelStride: 1},
		V:      colorspace.Plane{Data: data[ySize+cSize : ySize+2*cSize], RowStride: cw, PixelStride: 1},
	}, nil
}

// evenSize rounds dimensions down to the nearest even values
func evenSize(width, height int) (int, int) {
	return width &^ 1, height &^ 1
}
