package nutrivision

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nutrivision/go-nutrivision/colorspace"
)

// manualSource delivers frames when the test calls emit
type manualSource struct {
	mu       sync.Mutex
	handle   func(*colorspace.Frame)
	starts   int
	stops    int
	startErr error
}

func (s *manualSource) Start(ctx context.Context, handle func(*colorspace.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startErr != nil {
		return s.startErr
	}

	s.starts++
	s.handle = handle

	return nil
}

func (s *manualSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops++
	s.handle = nil

	return nil
}

// emit returns false when the source is stopped
func (s *manualSource) emit(f *colorspace.Frame) bool {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if handle == nil {
		return false
	}

	handle(f)

	return true
}

func TestLiveSessionPauseResume(t *testing.T) {

	fake := &fakeConf{}
	c, _ := newTestController(t, fake, nil)
	src := &manualSource{}

	var results int

	s := NewLiveSession(c, src, SessionOptions{
		OnResult: func(*FrameResult) { results++ },
		OnError:  func(err error) { t.Errorf("unexpected frame error: %v", err) },
	})

	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if c.State() != DetectorActive {
		t.Fatalf("expected active detection, got %s", c.State())
	}

	src.emit(grayFrame(16, 8))
	src.emit(grayFrame(16, 8))

	if err := s.Pause(); err != nil {
		t.Fatalf("unexpected pause error: %v", err)
	}

	if c.State() != DetectorIdle || src.stops != 1 {
		t.Errorf("expected source and detection stopped, state=%s stops=%d", c.State(), src.stops)
	}

	if src.emit(grayFrame(16, 8)) {
		t.Errorf("expected no frames while paused")
	}

	// pausing twice is a no-op
	if err := s.Pause(); err != nil || src.stops != 1 {
		t.Errorf("expected second pause to be ignored, err=%v stops=%d", err, src.stops)
	}

	if err := s.Resume(ctx); err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}

	src.emit(grayFrame(16, 8))

	if results != 3 {
		t.Errorf("expected 3 results, got %d", results)
	}

	if src.starts != 2 || fake.opens.Load() != 1 {
		t.Errorf("expected resume to restart the source without reloading, starts=%d opens=%d",
			src.starts, fake.opens.Load())
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	if c.State() != DetectorIdle {
		t.Errorf("expected stop to leave the controller idle, got %s", c.State())
	}
}

func TestLiveSessionSourceFailure(t *testing.T) {

	fake := &fakeConf{}
	c, _ := newTestController(t, fake, nil)
	src := &manualSource{startErr: errors.New("camera busy")}

	s := NewLiveSession(c, src, SessionOptions{})

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected source error")
	}

	if c.State() != DetectorIdle {
		t.Errorf("expected detection switched off again, got %s", c.State())
	}
}
