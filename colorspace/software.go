package colorspace

import (
	"sync"
)

// ITU-R BT.601 full range chroma contributions, precomputed for every
// possible 8-bit chroma sample
var (
	crToR [256]int32
	cbToG [256]int32
	crToG [256]int32
	cbToB [256]int32
)

func init() {
	for i := range crToR {
		c := float32(i - 128)
		crToR[i] = int32(1.402 * c)
		cbToG[i] = int32(0.344136 * c)
		crToG[i] = int32(0.714136 * c)
		cbToB[i] = int32(1.772 * c)
	}
}

// Software is the portable per-pixel YUV 4:2:0 to RGB converter.  It handles
// any row and pixel stride and performs rotation and mirroring in the same
// pass as the color transform
type Software struct {
	// Workers is the number of goroutines rows are split across, values below
	// 2 convert on the calling goroutine
	Workers int
}

// NewSoftware returns a portable converter using the given number of workers
func NewSoftware(workers int) *Software {
	return &Software{Workers: workers}
}

// Name returns the converter name
func (s *Software) Name() string {
	return "software"
}

// Convert returns the upright RGB raster for the frame
func (s *Software) Convert(f *Frame) (*Raster, error) {

	if err := f.Validate(); err != nil {
		return nil, err
	}

	dstW, dstH := f.OutputSize()
	dst := NewRaster(dstW, dstH)
	m := newPixelMap(f)

	workers := s.Workers

	if workers < 2 || dstH < workers {
		convertRows(f, dst, m, 0, dstH)
		return dst, nil
	}

	rowsPerWorker := dstH / workers

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker

		if w == workers-1 {
			end = dstH
		}

		go func(start, end int) {
			defer wg.Done()
			convertRows(f, dst, m, start, end)
		}(start, end)
	}

	wg.Wait()

	return dst, nil
}

// pixelMap is the affine mapping of a destination pixel back to its source
// pixel, sx = xx*dx + xy*dy + x0 and sy = yx*dx + yy*dy + y0
type pixelMap struct {
	xx, xy, x0 int
	yx, yy, y0 int
	mirror     bool
	dstW       int
}

// newPixelMap builds the destination to source mapping for the frame's
// clockwise rotation
func newPixelMap(f *Frame) pixelMap {

	w, h := f.Width, f.Height
	dstW, _ := f.OutputSize()
	m := pixelMap{mirror: f.Mirror, dstW: dstW}

	switch f.Rotation {
	case 90:
		m.xy = 1
		m.yx, m.y0 = -1, h-1
	case 180:
		m.xx, m.x0 = -1, w-1
		m.yy, m.y0 = -1, h-1
	case 270:
		m.xy, m.x0 = -1, w-1
		m.yx = 1
	default:
		m.xx = 1
		m.yy = 1
	}

	return m
}

// convertRows converts destination rows [start, end)
func convertRows(f *Frame, dst *Raster, m pixelMap, start, end int) {

	yData, uData, vData := f.Y.Data, f.U.Data, f.V.Data
	yRow := f.Y.RowStride
	yPix := stride(f.Y.PixelStride)
	uRow, uPix := f.U.RowStride, stride(f.U.PixelStride)
	vRow, vPix := f.V.RowStride, stride(f.V.PixelStride)

	for dy := start; dy < end; dy++ {
		out := dst.Pix[dy*dst.Width*3 : (dy+1)*dst.Width*3]

		for dx := 0; dx < dst.Width; dx++ {
			ex := dx

			if m.mirror {
				ex = m.dstW - 1 - dx
			}

			sx := m.xx*ex + m.xy*dy + m.x0
			sy := m.yx*ex + m.yy*dy + m.y0

			y := int32(yData[sy*yRow+sx*yPix])
			cb := uData[(sy/2)*uRow+(sx/2)*uPix]
			cr := vData[(sy/2)*vRow+(sx/2)*vPix]

			i := dx * 3
			out[i] = clamp255(y + crToR[cr])
			out[i+1] = clamp255(y - cbToG[cb] - crToG[cr])
			out[i+2] = clamp255(y + cbToB[cb])
		}
	}
}

// stride treats an unset pixel stride as tightly packed
func stride(s int) int {
	if s <= 0 {
		return 1
	}

	return s
}

// clamp255 restricts the value to the [0, 255] byte range
func clamp255(v int32) byte {

	if v < 0 {
		return 0
	}

	if v > 255 {
		return 255
	}

	return byte(v)
}
