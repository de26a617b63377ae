package nutrivision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nutrivision/go-nutrivision/colorspace"
	"github.com/nutrivision/go-nutrivision/postprocess"
	"github.com/nutrivision/go-nutrivision/preprocess"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DetectorState is the lifecycle state of a Controller
type DetectorState int

const (
	DetectorUninitialized DetectorState = iota
	DetectorInitializing
	// DetectorIdle has the model loaded with detection switched off
	DetectorIdle
	// DetectorActive admits camera frames
	DetectorActive
	DetectorDisposed
)

// String returns a readable description of the DetectorState
func (s DetectorState) String() string {
	switch s {
	case DetectorUninitialized:
		return "uninitialized"
	case DetectorInitializing:
		return "initializing"
	case DetectorIdle:
		return "idle"
	case DetectorActive:
		return "active"
	case DetectorDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("DetectorState(%d)", int(s))
	}
}

// Options are the optional collaborators of a Controller
type Options struct {
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Clock defaults to the wall clock
	Clock clock.Clock
	// Dumper receives every processed image, defaults to no dumping
	Dumper FrameDumper
}

// FrameOptions are the per frame parameters of ProcessFrame
type FrameOptions struct {
	// SensorOrientation is the clockwise rotation in degrees needed to show
	// the frame upright
	SensorOrientation int
	// FrontCamera mirrors the frame horizontally
	FrontCamera bool
	// FrameSkip processes every Nth frame, zero uses the configured value
	FrameSkip int
	// ConfidenceThreshold and IoUThreshold override the configured values
	// when set, see Threshold
	ConfidenceThreshold *float32
	IoUThreshold        *float32
}

// FrameResult is the outcome of an admitted camera frame
type FrameResult struct {
	Detections []postprocess.Detection
	// InferenceTime is the time from admission to the end of NMS
	InferenceTime time.Duration
	// OutputWidth and OutputHeight are the dimensions of the upright frame
	// the detection boxes refer to
	OutputWidth  int
	OutputHeight int
	Timings      StageTimings
	Metrics      Metrics
}

// outcome carries a worker job result back to the caller
type outcome struct {
	res *Result
	err error
}

// Controller is the detection state machine.  It loads the model lazily on
// first use, gates camera frames through admission control and keeps the
// rolling metrics of the active session
type Controller struct {
	cfg    Config
	log    *zap.Logger
	clock  clock.Clock
	dumper FrameDumper

	rt     *Runtime
	worker *Worker
	init   singleflight.Group
	busy   atomic.Bool

	metrics *metricsWindow

	// mu guards the fields below
	mu            sync.Mutex
	state         DetectorState
	proc          *Processor
	native        *colorspace.Native
	labels        []string
	generation    uint64
	frameCount    int
	lastCompleted time.Time
}

// NewController validates the configuration and starts the inference
// worker.  The model is not loaded until StartDetection or Detect is called
func NewController(cfg Config, opts Options) (*Controller, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	if opts.Dumper == nil {
		opts.Dumper = nopDumper{}
	}

	return &Controller{
		cfg:     cfg,
		log:     opts.Logger,
		clock:   opts.Clock,
		dumper:  opts.Dumper,
		rt:      NewRuntime(cfg, opts.Logger),
		worker:  NewWorker(cfg.WorkerCPUs, opts.Logger),
		metrics: newMetricsWindow(cfg.MetricsWindow),
	}, nil
}

// State returns the current lifecycle state
func (c *Controller) State() DetectorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Labels returns the class labels loaded with the model
func (c *Controller) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.labels
}

// StartDetection loads the model if needed and activates frame admission
// with fresh session metrics.  Concurrent callers share one initialization.
// Starting an active Controller is a no-op
func (c *Controller) StartDetection(ctx context.Context) error {

	c.mu.Lock()

	switch c.state {
	case DetectorDisposed:
		c.mu.Unlock()
		return ErrDisposed
	case DetectorActive:
		c.mu.Unlock()
		return nil
	case DetectorIdle:
		c.activate()
		c.mu.Unlock()
		return nil
	}

	c.mu.Unlock()

	if err := c.ensureInit(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case DetectorDisposed:
		return ErrDisposed
	case DetectorIdle:
		c.activate()
	}

	return nil
}

// activate starts a new session, c.mu must be held
func (c *Controller) activate() {

	c.state = DetectorActive
	c.generation++
	c.frameCount = 0
	c.lastCompleted = time.Time{}
	c.metrics.reset(c.clock.Now())

	c.log.Info("detection started")
}

// StopDetection switches admission off and clears the session metrics.  The
// model stays loaded so detection can be restarted instantly.  An inference
// in flight completes but no longer updates the metrics
func (c *Controller) StopDetection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case DetectorDisposed:
		return ErrDisposed
	case DetectorActive:
		c.state = DetectorIdle
		c.generation++
		c.metrics.reset(time.Time{})
		c.log.Info("detection stopped")
	}

	return nil
}

// ensureInit runs the model load on the worker exactly once.  A cancelled
// ctx releases the caller but the load still completes for the others
func (c *Controller) ensureInit(ctx context.Context) error {

	ch := c.init.DoChan("init", func() (interface{}, error) {
		return nil, c.initialize(context.WithoutCancel(ctx))
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) initialize(ctx context.Context) error {

	c.mu.Lock()

	switch c.state {
	case DetectorDisposed:
		c.mu.Unlock()
		return ErrDisposed
	case DetectorIdle, DetectorActive:
		c.mu.Unlock()
		return nil
	}

	c.state = DetectorInitializing
	c.mu.Unlock()

	c.log.Info("loading detector", zap.String("model", c.cfg.ModelFile))

	var (
		proc    *Processor
		native  *colorspace.Native
		labels  []string
		loadErr error
	)

	err := c.worker.Do(ctx, func() {
		proc, native, labels, loadErr = c.load()
	})

	if err == nil {
		err = loadErr
	}

	if err == nil && proc == nil {
		// the worker recovered a panic in load
		err = fmt.Errorf("detector load aborted")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == DetectorDisposed {
		if native != nil {
			native.Close()
		}

		return ErrDisposed
	}

	if err != nil {
		c.state = DetectorUninitialized
		c.log.Error("error loading detector", zap.Error(err))

		return err
	}

	c.proc = proc
	c.native = native
	c.labels = labels
	c.state = DetectorIdle

	c.log.Info("detector ready", zap.String("backend", c.rt.Backend()),
		zap.Int("labels", len(labels)))

	return nil
}

// load runs on the worker thread so the backend is created on the thread
// that will run it
func (c *Controller) load() (*Processor, *colorspace.Native, []string, error) {

	var labels []string

	if c.cfg.LabelsFile != "" {
		var err error
		labels, err = LoadLabels(c.cfg.LabelsFile)

		if err != nil {
			return nil, nil, nil, err
		}

		checkLabels(labels, c.cfg.ClassNum, c.log)
	}

	if err := c.rt.Init(); err != nil {
		return nil, nil, nil, err
	}

	var (
		native     *colorspace.Native
		converters []colorspace.Converter
	)

	switch {
	case c.cfg.NativeConversion && colorspace.NativeAvailable:
		native = colorspace.NewNative()
		converters = append(converters, native)
	case c.cfg.NativeConversion:
		c.log.Info("native conversion not built in, using the software converter")
	}

	converters = append(converters, colorspace.NewSoftware(c.cfg.ConversionWorkers))

	dec := postprocess.NewDecoder(c.cfg.postprocessParams(), labels)

	proc, err := NewProcessor(c.rt, colorspace.NewChain(converters...), dec, ProcessorOptions{
		Clock:  c.clock,
		Dumper: c.dumper,
		Logger: c.log,
	})

	if err != nil {
		if native != nil {
			native.Close()
		}

		return nil, nil, nil, err
	}

	return proc, native, labels, nil
}

// ProcessFrame runs detection on a camera frame when admission control lets
// it through.  A nil result with a nil error means the frame was dropped,
// either rejected by one of the guards or because it could not be
// converted.  Frames arriving while Detect runs are rejected as busy.  The
// frame planes are only read until ProcessFrame returns, unless ctx ends
// first in which case the worker may still be reading them
func (c *Controller) ProcessFrame(ctx context.Context, frame *colorspace.Frame,
	opts FrameOptions) (*FrameResult, error) {

	c.mu.Lock()

	if c.state == DetectorDisposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}

	if c.state != DetectorActive {
		c.mu.Unlock()
		c.metrics.reject(func(r *Rejections) { r.NotActive++ })
		return nil, nil
	}

	if !c.busy.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.metrics.reject(func(r *Rejections) { r.Busy++ })
		return nil, nil
	}

	skip := opts.FrameSkip

	if skip < 1 {
		skip = c.cfg.FrameSkip
	}

	c.frameCount++

	if c.frameCount < skip {
		c.busy.Store(false)
		c.mu.Unlock()
		c.metrics.reject(func(r *Rejections) { r.Skipped++ })
		return nil, nil
	}

	c.frameCount = 0
	start := c.clock.Now()

	if !c.lastCompleted.IsZero() && start.Sub(c.lastCompleted) < c.cfg.MinInterval {
		c.busy.Store(false)
		c.mu.Unlock()
		c.metrics.reject(func(r *Rejections) { r.Throttled++ })
		return nil, nil
	}

	gen := c.generation
	proc := c.proc
	c.mu.Unlock()

	f := *frame
	f.Rotation = opts.SensorOrientation
	f.Mirror = opts.FrontCamera

	th := Thresholds{
		Confidence: opts.ConfidenceThreshold,
		IoU:        opts.IoUThreshold,
	}

	results := make(chan outcome, 1)

	submitted := c.worker.TrySubmit(func() {
		o := safeProcess(func() (*Result, error) {
			return proc.ProcessFrame(&f, th)
		})

		c.complete(gen, o, c.clock.Since(start))
		results <- o
	})

	if !submitted {
		// the worker is serving a still image
		c.busy.Store(false)
		c.metrics.reject(func(r *Rejections) { r.Busy++ })
		return nil, nil
	}

	var o outcome

	select {
	case o = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if o.err != nil {
		if isConversionFailure(o.err) {
			c.log.Debug("dropped frame", zap.Error(o.err))
			return nil, nil
		}

		c.log.Warn("error processing frame", zap.Error(o.err))

		return nil, o.err
	}

	return &FrameResult{
		Detections:    o.res.Detections,
		InferenceTime: o.res.Timings.Total,
		OutputWidth:   o.res.Width,
		OutputHeight:  o.res.Height,
		Timings:       o.res.Timings,
		Metrics:       c.Metrics(),
	}, nil
}

// complete runs on the worker when a camera frame has been processed.  The
// throttle and the metrics are only updated when the session that admitted
// the frame is still the current one
func (c *Controller) complete(gen uint64, o outcome, latency time.Duration) {

	defer c.busy.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}

	c.lastCompleted = c.clock.Now()

	switch {
	case o.err == nil && o.res != nil:
		c.metrics.record(latency, averageConfidence(o.res.Detections), len(o.res.Detections))
	case isConversionFailure(o.err):
		c.metrics.drop()
	}
}

// isConversionFailure reports errors that drop a frame instead of failing
// the call
func isConversionFailure(err error) bool {

	var stageErr *StageError

	if errors.As(err, &stageErr) && stageErr.Stage == StageConvert {
		return true
	}

	var convErr *colorspace.ConversionError

	return errors.As(err, &convErr)
}

// safeProcess turns a panic within the pipeline into an error so the
// caller always receives a result
func safeProcess(fn func() (*Result, error)) (o outcome) {

	defer func() {
		if p := recover(); p != nil {
			o = outcome{err: fmt.Errorf("pipeline panic: %v", p)}
		}
	}()

	o.res, o.err = fn()

	return o
}

func averageConfidence(dets []postprocess.Detection) float64 {

	if len(dets) == 0 {
		return 0
	}

	var sum float64

	for _, d := range dets {
		sum += float64(d.Confidence)
	}

	return sum / float64(len(dets))
}

// Detect runs detection on an upright RGB still image, loading the model
// first if needed.  It bypasses admission control and session metrics and
// blocks until the worker is free
func (c *Controller) Detect(ctx context.Context, r *colorspace.Raster,
	th Thresholds) ([]postprocess.Detection, error) {

	c.mu.Lock()

	if c.state == DetectorDisposed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}

	c.mu.Unlock()

	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()

	if proc == nil {
		return nil, ErrDisposed
	}

	var o outcome

	err := c.worker.Do(ctx, func() {

		// camera frames arriving while the image runs are rejected as busy
		// instead of queueing behind it.  A frame admitted just before the
		// job started keeps the flag and runs next
		if c.busy.CompareAndSwap(false, true) {
			defer c.busy.Store(false)
		}

		o = safeProcess(func() (*Result, error) {
			return proc.ProcessRaster(r, th)
		})
	})

	if err != nil {
		return nil, err
	}

	if o.err != nil {
		return nil, o.err
	}

	return o.res.Detections, nil
}

// DetectFile decodes an image file, applying its EXIF orientation, and runs
// Detect on it
func (c *Controller) DetectFile(ctx context.Context, path string,
	th Thresholds) ([]postprocess.Detection, error) {

	r, err := preprocess.DecodeFile(path)

	if err != nil {
		return nil, err
	}

	return c.Detect(ctx, r, th)
}

// Metrics returns a snapshot of the current session metrics
func (c *Controller) Metrics() Metrics {
	return c.metrics.snapshot(c.clock.Now())
}

// Query writes a description of the loaded backend and model tensors
func (c *Controller) Query(w io.Writer) error {
	return c.rt.Query(w)
}

// Dispose stops detection and irreversibly releases the model, the worker
// and the native converter.  An inference in flight is allowed to finish.
// Disposing twice is a no-op
func (c *Controller) Dispose() error {

	c.mu.Lock()

	if c.state == DetectorDisposed {
		c.mu.Unlock()
		return nil
	}

	c.state = DetectorDisposed
	c.generation++
	native := c.native
	c.native = nil
	c.proc = nil
	c.mu.Unlock()

	c.metrics.reset(time.Time{})

	var rtErr error

	doErr := c.worker.Do(context.Background(), func() {
		rtErr = c.rt.Dispose()
	})

	c.worker.Close()

	var nativeErr error

	if native != nil {
		nativeErr = native.Close()
	}

	err := multierr.Combine(doErr, rtErr, nativeErr)

	if err != nil {
		return fmt.Errorf("error disposing detector: %w", err)
	}

	c.log.Info("detector disposed")

	return nil
}
