//go:build gocv
// +build gocv

package colorspace

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// NativeAvailable reports whether Native is backed by OpenCV in this build
const NativeAvailable = true

// Native converts frames with OpenCV.  Planes are repacked into a
// contiguous NV21 buffer which OpenCV's vectorized routines convert, rotate
// and flip.  Frames with odd dimensions are reported as ErrUnavailable so
// the caller falls back to the Software converter
type Native struct {
	mu sync.Mutex
	// nv21 is the repack buffer reused between frames
	nv21 []byte
	// rgbMat, rotMat and flipMat are the Mats used for intermediate results
	rgbMat  gocv.Mat
	rotMat  gocv.Mat
	flipMat gocv.Mat
	closed  bool
}

// NewNative returns an OpenCV backed converter, call Close to release the
// Mats it holds
func NewNative() *Native {
	return &Native{
		rgbMat:  gocv.NewMat(),
		rotMat:  gocv.NewMat(),
		flipMat: gocv.NewMat(),
	}
}

// Name returns the converter name
func (n *Native) Name() string {
	return "native"
}

// Close frees the Mats held by the converter
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.closed = true
	n.rgbMat.Close()
	n.rotMat.Close()
	n.flipMat.Close()

	return nil
}

// Convert returns the upright RGB raster for the frame
func (n *Native) Convert(f *Frame) (*Raster, error) {

	if err := f.Validate(); err != nil {
		return nil, err
	}

	if f.Width%2 != 0 || f.Height%2 != 0 {
		return nil, fmt.Errorf("%w: odd dimensions %dx%d", ErrUnavailable, f.Width, f.Height)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, fmt.Errorf("%w: converter closed", ErrUnavailable)
	}

	n.repackNV21(f)

	yuv, err := gocv.NewMatFromBytes(f.Height*3/2, f.Width, gocv.MatTypeCV8UC1, n.nv21)

	if err != nil {
		return nil, fmt.Errorf("error creating NV21 Mat: %w", err)
	}

	defer yuv.Close()

	gocv.CvtColor(yuv, &n.rgbMat, gocv.ColorYUVToRGBNV21)

	out := n.rgbMat

	switch f.Rotation {
	case 90:
		gocv.Rotate(out, &n.rotMat, gocv.Rotate90Clockwise)
		out = n.rotMat
	case 180:
		gocv.Rotate(out, &n.rotMat, gocv.Rotate180Clockwise)
		out = n.rotMat
	case 270:
		gocv.Rotate(out, &n.rotMat, gocv.Rotate90CounterClockwise)
		out = n.rotMat
	}

	if f.Mirror {
		gocv.Flip(out, &n.flipMat, 1)
		out = n.flipMat
	}

	if out.Empty() || out.Channels() != 3 {
		return nil, fmt.Errorf("unexpected OpenCV output, empty=%v channels=%d",
			out.Empty(), out.Channels())
	}

	return &Raster{
		Width:  out.Cols(),
		Height: out.Rows(),
		Pix:    out.ToBytes(),
	}, nil
}

// repackNV21 copies the frame planes into the contiguous Y followed by
// interleaved V/U layout OpenCV expects
func (n *Native) repackNV21(f *Frame) {

	w, h := f.Width, f.Height
	size := w * h * 3 / 2

	if cap(n.nv21) < size {
		n.nv21 = make([]byte, size)
	}

	n.nv21 = n.nv21[:size]

	yPix := stride(f.Y.PixelStride)

	for row := 0; row < h; row++ {
		src := f.Y.Data[row*f.Y.RowStride:]
		dst := n.nv21[row*w : (row+1)*w]

		if yPix == 1 {
			copy(dst, src[:w])
			continue
		}

		for col := 0; col < w; col++ {
			dst[col] = src[col*yPix]
		}
	}

	uPix, vPix := stride(f.U.PixelStride), stride(f.V.PixelStride)
	vu := n.nv21[w*h:]

	for row := 0; row < h/2; row++ {
		uRow := f.U.Data[row*f.U.RowStride:]
		vRow := f.V.Data[row*f.V.RowStride:]
		dst := vu[row*w : (row+1)*w]

		for col := 0; col < w/2; col++ {
			dst[col*2] = vRow[col*vPix]
			dst[col*2+1] = uRow[col*uPix]
		}
	}
}
