package preprocess

import (
	"fmt"
	"math"

	"github.com/nutrivision/go-nutrivision/colorspace"
)

// Layout is the memory layout of the model input tensor
type Layout int

const (
	// LayoutNHWC stores pixels interleaved, [1, S, S, 3]
	LayoutNHWC Layout = iota
	// LayoutNCHW stores one plane per channel, [1, 3, S, S]
	LayoutNCHW
)

// String returns a readable name of the layout
func (l Layout) String() string {
	switch l {
	case LayoutNHWC:
		return "NHWC"
	case LayoutNCHW:
		return "NCHW"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// FillValue is the normalized mid gray used for letterbox padding
const FillValue = float32(114) / 255

// Transform holds the letterbox parameters used to fit a source image into
// the square model input, they are needed to map boxes back to the source
type Transform struct {
	// Scale is the uniform resize factor applied to the source image
	Scale float32
	// PadLeft and PadTop are the offsets of the resized image inside the
	// model input
	PadLeft int
	PadTop  int
	// ResizeW and ResizeH are the dimensions of the resized image
	ResizeW int
	ResizeH int
	// SrcWidth and SrcHeight are the dimensions of the source image
	SrcWidth  int
	SrcHeight int
}

// CalcTransform calculates the letterbox parameters for fitting a srcWidth x
// srcHeight image into a size x size square
func CalcTransform(srcWidth, srcHeight, size int) Transform {

	scaleW := float32(size) / float32(srcWidth)
	scaleH := float32(size) / float32(srcHeight)
	scale := scaleH

	if scaleW < scaleH {
		scale = scaleW
	}

	resizeW := int(math.Round(float64(float32(srcWidth) * scale)))
	resizeH := int(math.Round(float64(float32(srcHeight) * scale)))

	// guard against rounding past the target for extreme aspect ratios
	resizeW = min(max(resizeW, 1), size)
	resizeH = min(max(resizeH, 1), size)

	return Transform{
		Scale:     scale,
		PadLeft:   (size - resizeW) / 2,
		PadTop:    (size - resizeH) / 2,
		ResizeW:   resizeW,
		ResizeH:   resizeH,
		SrcWidth:  srcWidth,
		SrcHeight: srcHeight,
	}
}

// Letterbox resizes RGB rasters into the square model input tensor whilst
// maintaining image aspect, padding the border with FillValue.  A Letterbox
// keeps sampling tables between calls and is not safe for concurrent use
type Letterbox struct {
	// size is the side length of the square model input
	size int
	// layout is the tensor memory layout written
	layout Layout
	// horizontal sampling tables, byte offsets of the two source columns and
	// the weight of the right one for each resized column
	xOff0 []int
	xOff1 []int
	xWgt  []float32
}

// NewLetterbox returns a letterbox preprocessor for a size x size input
// tensor of the given layout
func NewLetterbox(size int, layout Layout) *Letterbox {
	return &Letterbox{
		size:   size,
		layout: layout,
	}
}

// Size returns the model input side length
func (l *Letterbox) Size() int {
	return l.size
}

// Layout returns the tensor layout written
func (l *Letterbox) Layout() Layout {
	return l.layout
}

// Apply letterboxes src into dst, a size*size*3 float tensor, with values
// normalized to [0,1].  Every element of dst is written
func (l *Letterbox) Apply(src *colorspace.Raster, dst []float32) (Transform, error) {

	if src == nil || src.Width <= 0 || src.Height <= 0 {
		return Transform{}, fmt.Errorf("invalid source raster")
	}

	if len(src.Pix) < src.Width*src.Height*3 {
		return Transform{}, fmt.Errorf("source raster has %d bytes, need %d",
			len(src.Pix), src.Width*src.Height*3)
	}

	s := l.size

	if len(dst) != s*s*3 {
		return Transform{}, fmt.Errorf("input tensor has %d elements, need %d",
			len(dst), s*s*3)
	}

	tf := CalcTransform(src.Width, src.Height, s)
	l.prepareColumns(tf)

	const inv255 = float32(1) / 255

	srcStride := src.Width * 3
	ratioY := float32(src.Height) / float32(tf.ResizeH)
	plane := s * s

	for y := 0; y < s; y++ {

		ry := y - tf.PadTop

		if ry < 0 || ry >= tf.ResizeH {
			l.fillRow(dst, y, 0, s)
			continue
		}

		// vertical sample position using pixel centers
		fy := (float32(ry)+0.5)*ratioY - 0.5

		if fy < 0 {
			fy = 0
		}

		y0 := int(fy)

		if y0 > src.Height-1 {
			y0 = src.Height - 1
		}

		y1 := min(y0+1, src.Height-1)
		wy := fy - float32(y0)
		row0 := src.Pix[y0*srcStride : (y0+1)*srcStride]
		row1 := src.Pix[y1*srcStride : (y1+1)*srcStride]

		l.fillRow(dst, y, 0, tf.PadLeft)
		l.fillRow(dst, y, tf.PadLeft+tf.ResizeW, s)

		for rx := 0; rx < tf.ResizeW; rx++ {
			o0, o1, wx := l.xOff0[rx], l.xOff1[rx], l.xWgt[rx]
			x := rx + tf.PadLeft

			for c := 0; c < 3; c++ {
				top := float32(row0[o0+c])*(1-wx) + float32(row0[o1+c])*wx
				bottom := float32(row1[o0+c])*(1-wx) + float32(row1[o1+c])*wx
				v := (top*(1-wy) + bottom*wy) * inv255

				if l.layout == LayoutNCHW {
					dst[c*plane+y*s+x] = v
				} else {
					dst[(y*s+x)*3+c] = v
				}
			}
		}
	}

	return tf, nil
}

// prepareColumns computes the horizontal sampling tables for the transform,
// reusing previously allocated tables where large enough
func (l *Letterbox) prepareColumns(tf Transform) {

	n := tf.ResizeW

	if cap(l.xOff0) < n {
		l.xOff0 = make([]int, n)
		l.xOff1 = make([]int, n)
		l.xWgt = make([]float32, n)
	}

	l.xOff0 = l.xOff0[:n]
	l.xOff1 = l.xOff1[:n]
	l.xWgt = l.xWgt[:n]

	ratioX := float32(tf.SrcWidth) / float32(n)

	for rx := 0; rx < n; rx++ {
		fx := (float32(rx)+0.5)*ratioX - 0.5

		if fx < 0 {
			fx = 0
		}

		x0 := int(fx)

		if x0 > tf.SrcWidth-1 {
			x0 = tf.SrcWidth - 1
		}

		x1 := min(x0+1, tf.SrcWidth-1)

		l.xOff0[rx] = x0 * 3
		l.xOff1[rx] = x1 * 3
		l.xWgt[rx] = fx - float32(x0)
	}
}

// fillRow writes FillValue to columns [from, to) of tensor row y
func (l *Letterbox) fillRow(dst []float32, y, from, to int) {

	if from >= to {
		return
	}

	s := l.size

	if l.layout == LayoutNCHW {
		plane := s * s

		for c := 0; c < 3; c++ {
			row := dst[c*plane+y*s+from : c*plane+y*s+to]

			for i := range row {
				row[i] = FillValue
			}
		}

		return
	}

	row := dst[(y*s+from)*3 : (y*s+to)*3]

	for i := range row {
		row[i] = FillValue
	}
}
