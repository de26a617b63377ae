package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nutrivision/go-nutrivision/colorspace"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrRunning is returned when starting a Device that is already capturing
var ErrRunning = errors.New("capture already running")

const (
	// readRetryDelay is the pause after a failed device read
	readRetryDelay = 100 * time.Millisecond
	// maxReadFailures consecutive failed reads end the capture
	maxReadFailures = 50
)

// Config selects the capture source
type Config struct {
	// Source is a capture device index such as "0", or a video file path or
	// stream URL
	Source string
	// Width and Height request a capture resolution from devices, zero keeps
	// the device default
	Width  int
	Height int
	// FPS paces video files, zero uses the rate stored in the file
	FPS float64
	// Loop restarts video files when they end
	Loop bool
}

// Options are the optional collaborators of a Device
type Options struct {
	Logger *zap.Logger
	Clock  clock.Clock
}

// Device captures BGR images with OpenCV and delivers them as planar YUV
// frames, the format phone cameras produce
type Device struct {
	cfg   Config
	log   *zap.Logger
	clock clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	ended    chan struct{}
	endedOne sync.Once
}

// New returns a stopped Device
func New(cfg Config, opts Options) *Device {

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Device{
		cfg:   cfg,
		log:   opts.Logger,
		clock: opts.Clock,
		ended: make(chan struct{}),
	}
}

// open returns the capture and whether it reads from a file
func (d *Device) open() (*gocv.VideoCapture, bool, error) {

	if id, err := strconv.Atoi(d.cfg.Source); err == nil {
		vc, err := gocv.VideoCaptureDevice(id)

		if err != nil {
			return nil, false, fmt.Errorf("error opening capture device %d: %w", id, err)
		}

		if d.cfg.Width > 0 && d.cfg.Height > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(d.cfg.Width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(d.cfg.Height))
		}

		return vc, false, nil
	}

	vc, err := gocv.VideoCaptureFile(d.cfg.Source)

	if err != nil {
		return nil, false, fmt.Errorf("error opening video %s: %w", d.cfg.Source, err)
	}

	return vc, true, nil
}

// Start opens the source and delivers frames to handle on a capture
// goroutine until Stop is called, ctx ends or the video ends
func (d *Device) Start(ctx context.Context, handle func(*colorspace.Frame)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done != nil {
		return ErrRunning
	}

	vc, isFile, err := d.open()

	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	var interval time.Duration

	if isFile {
		fps := d.cfg.FPS

		if fps <= 0 {
			fps = vc.Get(gocv.VideoCaptureFPS)
		}

		if fps > 0 {
			interval = time.Duration(float64(time.Second) / fps)
		}
	}

	d.log.Info("capture started", zap.String("source", d.cfg.Source),
		zap.Bool("file", isFile), zap.Duration("interval", interval))

	go d.capture(ctx, vc, isFile, interval, handle, d.done)

	return nil
}

func (d *Device) capture(ctx context.Context, vc *gocv.VideoCapture, isFile bool,
	interval time.Duration, handle func(*colorspace.Frame), done chan struct{}) {

	defer close(done)
	defer vc.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()

	yuv := gocv.NewMat()
	defer yuv.Close()

	var ticker *clock.Ticker

	if interval > 0 {
		ticker = d.clock.Ticker(interval)
		defer ticker.Stop()
	}

	failures := 0

	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		if ok := vc.Read(&bgr); !ok || bgr.Empty() {
			if isFile && d.cfg.Loop {
				vc.Set(gocv.VideoCapturePosFrames, 0)
				continue
			}

			if isFile {
				d.log.Info("end of video", zap.String("source", d.cfg.Source))
				d.end()
				return
			}

			failures++
			d.log.Warn("error reading capture device", zap.String("source", d.cfg.Source),
				zap.Int("failures", failures))

			if !d.retry(ctx, failures) {
				return
			}

			continue
		}

		failures = 0

		frame, err := toFrame(bgr, &yuv)

		if err != nil {
			d.log.Warn("error converting capture image", zap.Error(err))
			continue
		}

		handle(frame)
	}
}

// toFrame converts a BGR image to I420 in yuv and returns a Frame viewing
// it, odd rows or columns are cropped
func toFrame(bgr gocv.Mat, yuv *gocv.Mat) (*colorspace.Frame, error) {

	w, h := evenSize(bgr.Cols(), bgr.Rows())

	src := bgr

	if w != bgr.Cols() || h != bgr.Rows() {
		src = bgr.Region(image.Rect(0, 0, w, h))
		defer src.Close()
	}

	gocv.CvtColor(src, yuv, gocv.ColorBGRToYUVI420)

	data, err := yuv.DataPtrUint8()

	if err != nil {
		return nil, fmt.Errorf("error reading I420 data: %w", err)
	}

	return FrameFromI420(data, w, h)
}

// Stop ends capturing and waits for the capture goroutine, the handler is
// not called after Stop returns
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.done == nil {
		return nil
	}

	d.cancel()
	<-d.done

	d.done = nil
	d.cancel = nil

	d.log.Info("capture stopped", zap.String("source", d.cfg.Source))

	return nil
}

// retry waits before the next read after a device read failed, it returns
// false when capturing should stop
func (d *Device) retry(ctx context.Context, failures int) bool {

	if failures >= maxReadFailures {
		d.log.Error("capture device stopped delivering images",
			zap.String("source", d.cfg.Source), zap.Int("failures", failures))
		d.end()

		return false
	}

	timer := d.clock.Timer(readRetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Device) end() {
	d.endedOne.Do(func() { close(d.ended) })
}

// Ended is closed when the source is exhausted, a video file read to the end
// without Loop or a device that keeps failing to deliver images
func (d *Device) Ended() <-chan struct{} {
	return d.ended
}
