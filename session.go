package nutrivision

import (
	"context"
	"fmt"
	"sync"

	"github.com/nutrivision/go-nutrivision/colorspace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// FrameSource delivers camera frames to a handler.  The handler is called
// serially and the frame is only valid for the duration of the call
type FrameSource interface {
	// Start begins delivering frames until Stop is called or ctx ends
	Start(ctx context.Context, handle func(*colorspace.Frame)) error
	// Stop ends frame delivery, once it returns the handler is not called
	// again
	Stop() error
}

// SessionOptions configure a LiveSession
type SessionOptions struct {
	// Frame are the per frame parameters passed to ProcessFrame
	Frame FrameOptions
	// OnResult receives the result of every admitted frame
	OnResult func(*FrameResult)
	// OnError receives per frame errors, the session keeps running
	OnError func(error)
	Logger  *zap.Logger
}

type sessionState int

const (
	sessionStopped sessionState = iota
	sessionRunning
	sessionPaused
)

// LiveSession binds a FrameSource to a Controller and follows host lifecycle
// events.  Pause stops the camera and detection together, Resume restarts
// both without reloading the model
type LiveSession struct {
	ctrl *Controller
	src  FrameSource
	opts SessionOptions
	log  *zap.Logger

	mu    sync.Mutex
	state sessionState
	ctx   context.Context
}

// NewLiveSession returns a stopped session
func NewLiveSession(ctrl *Controller, src FrameSource, opts SessionOptions) *LiveSession {

	log := opts.Logger

	if log == nil {
		log = zap.NewNop()
	}

	return &LiveSession{
		ctrl: ctrl,
		src:  src,
		opts: opts,
		log:  log,
	}
}

// Start activates detection, loading the model if needed, then starts the
// frame source
func (s *LiveSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionStopped {
		return nil
	}

	if err := s.run(ctx); err != nil {
		return err
	}

	s.log.Info("live session started")

	return nil
}

// run starts detection and then the source, s.mu must be held
func (s *LiveSession) run(ctx context.Context) error {

	if err := s.ctrl.StartDetection(ctx); err != nil {
		return fmt.Errorf("error starting detection: %w", err)
	}

	s.ctx = ctx

	if err := s.src.Start(ctx, s.handle); err != nil {
		return multierr.Combine(fmt.Errorf("error starting frame source: %w", err),
			s.ctrl.StopDetection())
	}

	s.state = sessionRunning

	return nil
}

// halt stops the source before detection so no frame arrives at a stopped
// controller, s.mu must be held
func (s *LiveSession) halt() error {
	return multierr.Combine(s.src.Stop(), s.ctrl.StopDetection())
}

// Pause stops the frame source and detection, the model stays loaded
func (s *LiveSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionRunning {
		return nil
	}

	s.state = sessionPaused
	s.log.Info("live session paused")

	return s.halt()
}

// Resume restarts detection and the frame source after Pause
func (s *LiveSession) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionPaused {
		return nil
	}

	if err := s.run(ctx); err != nil {
		return err
	}

	s.log.Info("live session resumed")

	return nil
}

// Stop ends the session.  The Controller is left idle and not disposed
func (s *LiveSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case sessionStopped:
		return nil
	case sessionPaused:
		s.state = sessionStopped
		return nil
	}

	s.state = sessionStopped
	s.log.Info("live session stopped")

	return s.halt()
}

// handle is called serially by the frame source
func (s *LiveSession) handle(f *colorspace.Frame) {

	res, err := s.ctrl.ProcessFrame(s.ctx, f, s.opts.Frame)

	if err != nil {
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}

		return
	}

	if res != nil && s.opts.OnResult != nil {
		s.opts.OnResult(res)
	}
}
