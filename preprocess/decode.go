package preprocess

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nutrivision/go-nutrivision/colorspace"

	// register additional still image formats with image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeImage reads an encoded still image and returns it as an upright RGB
// raster, EXIF orientation is applied
func DecodeImage(r io.Reader) (*colorspace.Raster, error) {

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))

	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	return RasterFromImage(img), nil
}

// DecodeFile opens and decodes the image file at path
func DecodeFile(path string) (*colorspace.Raster, error) {

	img, err := imaging.Open(path, imaging.AutoOrientation(true))

	if err != nil {
		return nil, fmt.Errorf("error opening image %s: %w", path, err)
	}

	return RasterFromImage(img), nil
}

// RasterFromImage converts an image into an interleaved RGB raster, alpha is
// dropped
func RasterFromImage(img image.Image) *colorspace.Raster {

	var nrgba *image.NRGBA

	switch src := img.(type) {
	case *image.NRGBA:
		nrgba = src
	case *image.RGBA:
		// opaque RGBA shares the NRGBA memory layout
		if src.Opaque() {
			nrgba = &image.NRGBA{Pix: src.Pix, Stride: src.Stride, Rect: src.Rect}
		}
	}

	if nrgba == nil {
		nrgba = imaging.Clone(img)
	}

	b := nrgba.Bounds()
	w, h := b.Dx(), b.Dy()
	ras := colorspace.NewRaster(w, h)

	for y := 0; y < h; y++ {
		row := nrgba.Pix[nrgba.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := ras.Pix[y*w*3 : (y+1)*w*3]

		for x := 0; x < w; x++ {
			dst[x*3] = row[x*4]
			dst[x*3+1] = row[x*4+1]
			dst[x*3+2] = row[x*4+2]
		}
	}

	return ras
}
