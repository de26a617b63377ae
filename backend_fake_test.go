package nutrivision

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nutrivision/go-nutrivision/colorspace"
	"github.com/nutrivision/go-nutrivision/preprocess"
	"go.uber.org/atomic"
)

// fakeConf controls the behaviour of a fake backend registered for a test
// and counts how it was used
type fakeConf struct {
	layout    preprocess.Layout
	openErr   error
	openPanic bool
	// smokeErr fails the first Run of every opened backend
	smokeErr error
	// onRun is called for every Run after the smoke test with the call
	// number starting at 1
	onRun func(call int, a *Arena) error

	opens  atomic.Int64
	runs   atomic.Int64
	closes atomic.Int64

	mu      sync.Mutex
	frames  int
	arenas  []*Arena
	smokeIn []float32
}

type fakeBackend struct {
	name  string
	fake  *fakeConf
	arena *Arena
	ran   bool
}

var fakeSeq atomic.Int64

// registerFake registers fake under a unique backend name
func registerFake(fake *fakeConf) string {

	name := fmt.Sprintf("fake%d", fakeSeq.Inc())

	RegisterBackend(name, func(cfg BackendConfig, arena *Arena) (Backend, error) {

		fake.opens.Inc()

		if fake.openPanic {
			panic("opener exploded")
		}

		if fake.openErr != nil {
			return nil, fake.openErr
		}

		fake.mu.Lock()
		fake.arenas = append(fake.arenas, arena)
		fake.mu.Unlock()

		return &fakeBackend{name: name, fake: fake, arena: arena}, nil
	})

	return name
}

func (b *fakeBackend) Name() string {
	return b.name
}

func (b *fakeBackend) Layout() preprocess.Layout {
	return b.fake.layout
}

func (b *fakeBackend) Run() error {

	b.fake.runs.Inc()

	if !b.ran {
		b.ran = true

		b.fake.mu.Lock()
		b.fake.smokeIn = append([]float32(nil), b.arena.Input...)
		b.fake.mu.Unlock()

		// dirty the output so tests can check the arena is cleared again
		for i := range b.arena.Output {
			b.arena.Output[i] = 1
		}

		return b.fake.smokeErr
	}

	b.fake.mu.Lock()
	b.fake.frames++
	call := b.fake.frames
	b.fake.mu.Unlock()

	clear(b.arena.Output)

	if b.fake.onRun != nil {
		return b.fake.onRun(call, b.arena)
	}

	return nil
}

func (b *fakeBackend) Close() error {
	b.fake.closes.Inc()
	return nil
}

func (b *fakeBackend) InputTensors() []TensorInfo {
	return []TensorInfo{{Name: "images", Dims: []int64{1, 3, 32, 32}, Type: "FP32"}}
}

func (b *fakeBackend) OutputTensors() []TensorInfo {
	return []TensorInfo{{Name: "output0", Dims: []int64{1, 6, 4}, Type: "FP32"}}
}

// frameRuns returns the number of Runs after the smoke test
func (s *fakeConf) frameRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.frames
}

// writeModel creates a placeholder model file
func writeModel(t *testing.T) string {

	t.Helper()

	path := filepath.Join(t.TempDir(), "model.onnx")

	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatalf("error writing model: %v", err)
	}

	return path
}

// testConfig is a small model geometry with box outputs in model pixels
func testConfig(t *testing.T, backends ...string) Config {

	cfg := DefaultConfig()
	cfg.ModelFile = writeModel(t)
	cfg.InputSize = 32
	cfg.ClassNum = 2
	cfg.Predictions = 4
	cfg.NormalizedBoxes = false
	cfg.MinInterval = 0
	cfg.NativeConversion = false
	cfg.CPUThreads = 1
	cfg.Backends = backends

	return cfg
}

// setPrediction writes one prediction into a (4+C) x N output tensor
func setPrediction(out []float32, n, i int, cx, cy, w, h float32, class int, score float32) {

	out[i] = cx
	out[n+i] = cy
	out[2*n+i] = w
	out[3*n+i] = h
	out[(4+class)*n+i] = score
}

// grayFrame returns a tightly packed mid gray YUV 4:2:0 frame
func grayFrame(width, height int) *colorspace.Frame {

	cw := (width + 1) / 2
	ch := (height + 1) / 2

	fill := func(n int, v byte) []byte {
		b := make([]byte, n)

		for i := range b {
			b[i] = v
		}

		return b
	}

	return &colorspace.Frame{
		Width:  width,
		Height: height,
		Y:      colorspace.Plane{Data: fill(width*height, 128), RowStride: width, PixelStride: 1},
		U:      colorspace.Plane{Data: fill(cw*ch, 128), RowStride: cw, PixelStride: 1},
		V:      colorspace.Plane{Data: fill(cw*ch, 128), RowStride: cw, PixelStride: 1},
	}
}
