package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nutrivision/go-nutrivision/colorspace"
	"github.com/nutrivision/go-nutrivision/postprocess"
	"go.uber.org/atomic"
	"gocv.io/x/gocv"
)

// Dumper writes every processed image with its detections drawn on it as a
// numbered JPEG file, for inspecting what the detector saw
type Dumper struct {
	dir     string
	prefix  string
	quality int
	style   Style
	// every keeps one in N images
	every int64
	seq   atomic.Int64
}

// DumperOption configures a Dumper
type DumperOption func(*Dumper)

// WithPrefix sets the file name prefix, default "frame"
func WithPrefix(prefix string) DumperOption {
	return func(d *Dumper) {
		d.prefix = prefix
	}
}

// WithQuality sets the JPEG quality from 1 to 100, default 90
func WithQuality(quality int) DumperOption {
	return func(d *Dumper) {
		d.quality = quality
	}
}

// WithStyle sets the box and label appearance
func WithStyle(style Style) DumperOption {
	return func(d *Dumper) {
		d.style = style
	}
}

// WithEvery only writes one in n images
func WithEvery(n int) DumperOption {
	return func(d *Dumper) {
		if n > 0 {
			d.every = int64(n)
		}
	}
}

// NewDumper creates dir if needed and returns a Dumper writing into it
func NewDumper(dir string, opts ...DumperOption) (*Dumper, error) {

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating dump directory: %w", err)
	}

	d := &Dumper{
		dir:     dir,
		prefix:  "frame",
		quality: 90,
		style:   DefaultStyle(),
		every:   1,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Dump writes the annotated image if it is due
func (d *Dumper) Dump(r *colorspace.Raster, dets []postprocess.Detection) error {

	n := d.seq.Inc()

	if (n-1)%d.every != 0 {
		return nil
	}

	return SaveJPEG(d.Path(n), r, dets, d.style, d.quality)
}

// Path returns the file name of the nth dumped image
func (d *Dumper) Path(n int64) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_%06d.jpg", d.prefix, n))
}

// Annotate returns a BGR Mat of the raster with the detections drawn on it.
// The caller must Close the Mat
func Annotate(r *colorspace.Raster, dets []postprocess.Detection, style Style) (gocv.Mat, error) {

	if r == nil || r.Width <= 0 || r.Height <= 0 || len(r.Pix) < r.Width*r.Height*3 {
		return gocv.NewMat(), fmt.Errorf("invalid raster")
	}

	rgb, err := gocv.NewMatFromBytes(r.Height, r.Width, gocv.MatTypeCV8UC3, r.Pix[:r.Width*r.Height*3])

	if err != nil {
		return gocv.NewMat(), fmt.Errorf("error wrapping raster: %w", err)
	}

	defer rgb.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	DetectionBoxes(&bgr, dets, style)

	return bgr, nil
}

// SaveJPEG writes the annotated raster to path
func SaveJPEG(path string, r *colorspace.Raster, dets []postprocess.Detection,
	style Style, quality int) error {

	img, err := Annotate(r, dets, style)

	if err != nil {
		img.Close()
		return err
	}

	defer img.Close()

	if !gocv.IMWriteWithParams(path, img, []int{int(gocv.IMWriteJpegQuality), quality}) {
		return fmt.Errorf("error writing image %s", path)
	}

	return nil
}
