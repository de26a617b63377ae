package preprocess

import (
	"math"
	"testing"

	"github.com/nutrivision/go-nutrivision/colorspace"
)

const tolerance = 1e-5

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) <= tolerance
}

// solidRaster returns a raster filled with a single RGB color
func solidRaster(width, height int, r, g, b byte) *colorspace.Raster {

	ras := colorspace.NewRaster(width, height)

	for i := 0; i < len(ras.Pix); i += 3 {
		ras.Pix[i] = r
		ras.Pix[i+1] = g
		ras.Pix[i+2] = b
	}

	return ras
}

func TestCalcTransform(t *testing.T) {

	tests := []struct {
		srcWidth      int
		srcHeight     int
		size          int
		expectedXPad  int
		expectedYPad  int
		expectedW     int
		expectedH     int
		expectedScale float32
	}{
		{1280, 720, 640, 0, 140, 640, 360, 0.50},
		{800, 1000, 640, 64, 0, 512, 640, 0.64},
		{800, 800, 640, 0, 0, 640, 640, 0.8},
		{1280, 960, 640, 0, 80, 640, 480, 0.5},
		{320, 240, 640, 0, 80, 640, 480, 2},
	}

	for _, tc := range tests {
		tf := CalcTransform(tc.srcWidth, tc.srcHeight, tc.size)

		if tf.PadLeft != tc.expectedXPad || tf.PadTop != tc.expectedYPad {
			t.Errorf("src (%d, %d): padding values wrong, expected XPad=%d, YPad=%d, got XPad=%d, YPad=%d",
				tc.srcWidth, tc.srcHeight, tc.expectedXPad, tc.expectedYPad, tf.PadLeft, tf.PadTop)
		}

		if tf.ResizeW != tc.expectedW || tf.ResizeH != tc.expectedH {
			t.Errorf("src (%d, %d): resize wrong, expected %dx%d, got %dx%d",
				tc.srcWidth, tc.srcHeight, tc.expectedW, tc.expectedH, tf.ResizeW, tf.ResizeH)
		}

		if tf.Scale != tc.expectedScale {
			t.Errorf("src (%d, %d): scale factor incorrect, expected %f, got %f",
				tc.srcWidth, tc.srcHeight, tc.expectedScale, tf.Scale)
		}
	}
}

func TestLetterboxPadding(t *testing.T) {

	const size = 64

	tests := []struct {
		name      string
		srcWidth  int
		srcHeight int
		layout    Layout
	}{
		{"landscape NHWC", 128, 72, LayoutNHWC},
		{"portrait NHWC", 50, 100, LayoutNHWC},
		{"landscape NCHW", 128, 72, LayoutNCHW},
		{"portrait NCHW", 50, 100, LayoutNCHW},
		{"odd sizes", 33, 17, LayoutNHWC},
	}

	for _, tc := range tests {
		lb := NewLetterbox(size, tc.layout)
		dst := make([]float32, size*size*3)

		// poison the tensor so unwritten cells are detectable
		for i := range dst {
			dst[i] = -1
		}

		src := solidRaster(tc.srcWidth, tc.srcHeight, 255, 0, 51)
		tf, err := lb.Apply(src, dst)

		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}

		want := [3]float32{1, 0, 0.2}

		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				inside := x >= tf.PadLeft && x < tf.PadLeft+tf.ResizeW &&
					y >= tf.PadTop && y < tf.PadTop+tf.ResizeH

				for c := 0; c < 3; c++ {
					var got float32

					if tc.layout == LayoutNCHW {
						got = dst[c*size*size+y*size+x]
					} else {
						got = dst[(y*size+x)*3+c]
					}

					expected := FillValue

					if inside {
						expected = want[c]
					}

					if !almostEqual(got, expected) {
						t.Fatalf("%s: cell (%d,%d,%d) expected %f, got %f",
							tc.name, x, y, c, expected, got)
					}
				}
			}
		}
	}
}

func TestLetterboxInterpolation(t *testing.T) {

	// a 2x1 source resized into 4 columns blends the two pixels
	src := colorspace.NewRaster(2, 1)
	copy(src.Pix, []byte{0, 0, 0, 200, 200, 200})

	lb := NewLetterbox(4, LayoutNHWC)
	dst := make([]float32, 4*4*3)

	tf, err := lb.Apply(src, dst)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tf.ResizeW != 4 || tf.ResizeH != 2 || tf.PadTop != 1 {
		t.Fatalf("unexpected transform %+v", tf)
	}

	// sample positions -0.25, 0.25, 0.75, 1.25 clamp to the edges
	expected := []float32{0, 50, 150, 200}

	for x, v := range expected {
		got := dst[(1*4+x)*3]

		if !almostEqual(got, v/255) {
			t.Errorf("column %d: expected %f, got %f", x, v/255, got)
		}
	}
}

func TestLetterboxReuse(t *testing.T) {

	lb := NewLetterbox(32, LayoutNHWC)
	dst := make([]float32, 32*32*3)

	// wider source first grows the tables, second call must shrink them
	if _, err := lb.Apply(solidRaster(64, 16, 10, 10, 10), dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tf, err := lb.Apply(solidRaster(8, 32, 20, 20, 20), dst)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tf.ResizeW != 8 || tf.PadLeft != 12 {
		t.Errorf("unexpected transform %+v", tf)
	}

	if got := dst[(0*32+12)*3]; !almostEqual(got, float32(20)/255) {
		t.Errorf("expected first image column to equal source, got %f", got)
	}
}

func TestLetterboxInvalidInput(t *testing.T) {

	lb := NewLetterbox(16, LayoutNHWC)

	tests := []struct {
		name string
		src  *colorspace.Raster
		dst  []float32
	}{
		{"nil raster", nil, make([]float32, 16*16*3)},
		{"empty raster", &colorspace.Raster{}, make([]float32, 16*16*3)},
		{"short pixels", &colorspace.Raster{Width: 4, Height: 4, Pix: make([]byte, 10)}, make([]float32, 16*16*3)},
		{"wrong tensor size", solidRaster(4, 4, 0, 0, 0), make([]float32, 16*16)},
	}

	for _, tc := range tests {
		if _, err := lb.Apply(tc.src, tc.dst); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
