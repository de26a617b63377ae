package nutrivision

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nutrivision/go-nutrivision/colorspace"
	"github.com/nutrivision/go-nutrivision/postprocess"
	"github.com/nutrivision/go-nutrivision/preprocess"
	"go.uber.org/zap"
)

// Thresholds override the configured confidence and IoU thresholds for a
// single call, nil fields keep the configured ones
type Thresholds struct {
	Confidence *float32
	IoU        *float32
}

// Threshold returns a pointer to v for setting Thresholds and FrameOptions
func Threshold(v float32) *float32 {
	return &v
}

// resolve returns the confidence and IoU thresholds to apply over the
// given defaults
func (th Thresholds) resolve(conf, iou float32) (float32, float32, error) {

	if th.Confidence != nil {
		conf = *th.Confidence
	}

	if th.IoU != nil {
		iou = *th.IoU
	}

	if err := checkThreshold("confidence threshold", conf); err != nil {
		return 0, 0, err
	}

	if err := checkThreshold("IoU threshold", iou); err != nil {
		return 0, 0, err
	}

	return conf, iou, nil
}

// StageTimings are the durations of each pipeline stage for one frame
type StageTimings struct {
	Convert    time.Duration
	Preprocess time.Duration
	Inference  time.Duration
	Decode     time.Duration
	NMS        time.Duration
	Total      time.Duration
}

// Result is the output of running the pipeline on one image
type Result struct {
	// Detections are ordered by descending confidence in the coordinates of
	// the upright image
	Detections []postprocess.Detection
	// Width and Height are the dimensions of the upright image
	Width   int
	Height  int
	Timings StageTimings
}

// FrameDumper receives every processed image with its detections, used for
// debugging.  Implementations must not retain the raster
type FrameDumper interface {
	Dump(r *colorspace.Raster, dets []postprocess.Detection) error
}

// nopDumper is the default FrameDumper
type nopDumper struct{}

func (nopDumper) Dump(*colorspace.Raster, []postprocess.Detection) error {
	return nil
}

// ProcessorOptions are the optional collaborators of a Processor
type ProcessorOptions struct {
	Clock  clock.Clock
	Dumper FrameDumper
	Logger *zap.Logger
}

// Processor runs Converter, Letterbox, Runtime, Decoder and NMS for one
// image at a time.  It shares the Runtime arena and must only be used from
// the inference Worker
type Processor struct {
	rt     *Runtime
	conv   colorspace.Converter
	lb     *preprocess.Letterbox
	dec    *postprocess.Decoder
	clock  clock.Clock
	dumper FrameDumper
	log    *zap.Logger
}

// NewProcessor returns a Processor for an initialized Runtime
func NewProcessor(rt *Runtime, conv colorspace.Converter, dec *postprocess.Decoder,
	opts ProcessorOptions) (*Processor, error) {

	if rt.State() != StateReady {
		return nil, ErrNotInitialized
	}

	p := &Processor{
		rt:     rt,
		conv:   conv,
		lb:     preprocess.NewLetterbox(dec.Params.InputSize, rt.Layout()),
		dec:    dec,
		clock:  opts.Clock,
		dumper: opts.Dumper,
		log:    opts.Logger,
	}

	if p.clock == nil {
		p.clock = clock.New()
	}

	if p.dumper == nil {
		p.dumper = nopDumper{}
	}

	if p.log == nil {
		p.log = zap.NewNop()
	}

	return p, nil
}

// ProcessFrame converts a planar camera frame to an upright raster and runs
// detection on it
func (p *Processor) ProcessFrame(f *colorspace.Frame, th Thresholds) (*Result, error) {

	start := p.clock.Now()

	if p.conv == nil {
		return nil, &StageError{Stage: StageConvert, Width: f.Width, Height: f.Height,
			Err: colorspace.ErrUnavailable}
	}

	raster, err := p.conv.Convert(f)

	if err != nil {
		return nil, &StageError{Stage: StageConvert, Width: f.Width, Height: f.Height, Err: err}
	}

	converted := p.clock.Since(start)
	res, err := p.detect(raster, th)

	if err != nil {
		return nil, err
	}

	res.Timings.Convert = converted
	res.Timings.Total = p.clock.Since(start)

	return res, nil
}

// ProcessRaster runs detection on an upright RGB raster
func (p *Processor) ProcessRaster(r *colorspace.Raster, th Thresholds) (*Result, error) {

	start := p.clock.Now()
	res, err := p.detect(r, th)

	if err != nil {
		return nil, err
	}

	res.Timings.Total = p.clock.Since(start)

	return res, nil
}

func (p *Processor) detect(r *colorspace.Raster, th Thresholds) (*Result, error) {

	conf, iou, err := th.resolve(p.dec.Params.ConfidenceThreshold, p.dec.Params.IoUThreshold)

	if err != nil {
		return nil, err
	}

	res := &Result{
		Width:  r.Width,
		Height: r.Height,
	}

	mark := p.clock.Now()

	lap := func() time.Duration {
		now := p.clock.Now()
		d := now.Sub(mark)
		mark = now
		return d
	}

	input := p.rt.Input()

	if input == nil {
		return nil, ErrNotInitialized
	}

	tf, err := p.lb.Apply(r, input)

	if err != nil {
		return nil, &StageError{Stage: StagePreprocess, Width: r.Width, Height: r.Height, Err: err}
	}

	res.Timings.Preprocess = lap()

	if err := p.rt.Run(); err != nil {
		return nil, &StageError{Stage: StageInference, Width: r.Width, Height: r.Height, Err: err}
	}

	res.Timings.Inference = lap()

	dets, err := p.dec.Decode(p.rt.Output(), tf, conf)

	if err != nil {
		return nil, &StageError{Stage: StageDecode, Width: r.Width, Height: r.Height, Err: err}
	}

	res.Timings.Decode = lap()

	res.Detections = postprocess.Limit(postprocess.NMS(dets, iou), p.dec.Params.MaxDetections)
	res.Timings.NMS = lap()

	if err := p.dumper.Dump(r, res.Detections); err != nil {
		p.log.Warn("error dumping frame", zap.Error(err))
	}

	return res, nil
}

// String returns a one line summary of the stage timings
func (t StageTimings) String() string {
	return fmt.Sprintf("convert=%s preprocess=%s inference=%s decode=%s nms=%s total=%s",
		t.Convert, t.Preprocess, t.Inference, t.Decode, t.NMS, t.Total)
}
