package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
)

// testImage returns a 3x2 image with a distinct color per pixel
func testImage() *image.NRGBA {

	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))

	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 80), G: uint8(y * 100), B: 7, A: 255})
		}
	}

	return img
}

func checkRaster(t *testing.T, name string, got []byte, w, h int) {

	t.Helper()

	if len(got) != w*h*3 {
		t.Fatalf("%s: expected %d bytes, got %d", name, w*h*3, len(got))
	}

	ref := testImage()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := ref.NRGBAAt(x, y)
			p := got[(y*w+x)*3:]

			if p[0] != c.R || p[1] != c.G || p[2] != c.B {
				t.Errorf("%s: pixel (%d,%d) expected %v, got %v", name, x, y,
					[]byte{c.R, c.G, c.B}, p[:3])
			}
		}
	}
}

func TestDecodeImage(t *testing.T) {

	var pngBuf, bmpBuf bytes.Buffer

	if err := imaging.Encode(&pngBuf, testImage(), imaging.PNG); err != nil {
		t.Fatalf("error encoding png: %v", err)
	}

	if err := bmp.Encode(&bmpBuf, testImage()); err != nil {
		t.Fatalf("error encoding bmp: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"png", pngBuf.Bytes()},
		{"bmp", bmpBuf.Bytes()},
	}

	for _, tc := range tests {
		ras, err := DecodeImage(bytes.NewReader(tc.data))

		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}

		if ras.Width != 3 || ras.Height != 2 {
			t.Fatalf("%s: expected 3x2, got %dx%d", tc.name, ras.Width, ras.Height)
		}

		checkRaster(t, tc.name, ras.Pix, 3, 2)
	}
}

func TestDecodeFile(t *testing.T) {

	path := filepath.Join(t.TempDir(), "food.png")

	if err := imaging.Save(testImage(), path); err != nil {
		t.Fatalf("error saving image: %v", err)
	}

	ras, err := DecodeFile(path)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checkRaster(t, "file", ras.Pix, ras.Width, ras.Height)

	if _, err := DecodeFile(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestDecodeImageInvalid(t *testing.T) {

	if _, err := DecodeImage(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Errorf("expected error for garbage input")
	}
}

func TestRasterFromSubImage(t *testing.T) {

	// sub images have a non zero origin and a stride wider than the bounds
	sub := testImage().SubImage(image.Rect(1, 0, 3, 2))
	ras := RasterFromImage(sub)

	if ras.Width != 2 || ras.Height != 2 {
		t.Fatalf("expected 2x2, got %dx%d", ras.Width, ras.Height)
	}

	if ras.Pix[0] != 80 || ras.Pix[3] != 160 || ras.Pix[7] != 100 {
		t.Errorf("unexpected sub image pixels %v", ras.Pix)
	}
}
