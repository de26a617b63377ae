package nutrivision

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/nutrivision/go-nutrivision/preprocess"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Runtime
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDisposed
)

// String returns a readable description of the State
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runtime owns exactly one loaded detector and its tensor arena.  Init opens
// the configured backends in order until one loads the model and passes a
// smoke inference.  Run must not be called concurrently
type Runtime struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	state   State
	backend Backend
	arena   *Arena
	layout  preprocess.Layout
}

// NewRuntime returns an uninitialized Runtime for the configuration, a nil
// logger disables logging
func NewRuntime(cfg Config, log *zap.Logger) *Runtime {

	if log == nil {
		log = zap.NewNop()
	}

	return &Runtime{
		cfg: cfg,
		log: log,
	}
}

// State returns the current lifecycle state
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Init loads the model.  Calling Init on a ready Runtime is a no-op.  Asset
// errors abort immediately, backend errors move on to the next backend and
// are only returned when all of them fail, in which case no tensors remain
// allocated
func (r *Runtime) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateDisposed:
		return ErrDisposed
	case StateReady:
		return nil
	}

	info, err := os.Stat(r.cfg.ModelFile)

	if err != nil {
		return &AssetError{Path: r.cfg.ModelFile, Err: err}
	}

	if info.IsDir() {
		return &AssetError{Path: r.cfg.ModelFile, Err: fmt.Errorf("model file is a directory")}
	}

	forced, err := r.cfg.layout()

	if err != nil {
		return err
	}

	var failures []error

	for _, name := range r.cfg.Backends {
		backend, arena, err := r.open(name)

		if err == nil {
			r.backend = backend
			r.arena = arena
			r.layout = backend.Layout()

			if forced != nil {
				r.layout = *forced
			}

			r.state = StateReady

			r.log.Info("inference backend ready",
				zap.String("backend", name),
				zap.Stringer("layout", r.layout),
			)

			return nil
		}

		var assetErr *AssetError

		if errors.As(err, &assetErr) {
			return err
		}

		r.log.Warn("inference backend unavailable, trying next",
			zap.String("backend", name),
			zap.Error(err),
		)

		failures = append(failures, err)
	}

	return fmt.Errorf("%w: %w", ErrNoBackend, multierr.Combine(failures...))
}

// open allocates a fresh arena, opens the backend on it and runs the zero
// tensor smoke test
func (r *Runtime) open(name string) (Backend, *Arena, error) {

	open := lookupBackend(name)

	if open == nil {
		return nil, nil, &BackendError{Backend: name, Err: fmt.Errorf("backend not registered")}
	}

	arena := NewArena(r.cfg.InputSize, r.cfg.ClassNum, r.cfg.Predictions)

	backend, err := safeOpen(open, r.cfg.backendConfig(), arena)

	if err != nil {
		var assetErr *AssetError

		if errors.As(err, &assetErr) {
			return nil, nil, err
		}

		return nil, nil, &BackendError{Backend: name, Err: err}
	}

	if err := safeRun(backend); err != nil {
		closeErr := backend.Close()

		return nil, nil, &BackendError{Backend: name,
			Err: multierr.Combine(fmt.Errorf("smoke inference failed: %w", err), closeErr)}
	}

	arena.Zero()

	return backend, arena, nil
}

// safeOpen recovers from a panicking backend opener
func safeOpen(open BackendOpener, cfg BackendConfig, arena *Arena) (b Backend, err error) {

	defer func() {
		if p := recover(); p != nil {
			b = nil
			err = fmt.Errorf("backend panic: %v", p)
		}
	}()

	return open(cfg, arena)
}

// safeRun recovers from a panicking backend run
func safeRun(b Backend) (err error) {

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("backend panic: %v", p)
		}
	}()

	return b.Run()
}

// Run executes the model on the arena input, writing the arena output.  It
// is deterministic for identical inputs
func (r *Runtime) Run() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateDisposed:
		return ErrDisposed
	case StateUninitialized:
		return ErrNotInitialized
	}

	return safeRun(r.backend)
}

// Input returns the arena input tensor, nil before Init
func (r *Runtime) Input() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.arena == nil {
		return nil
	}

	return r.arena.Input
}

// Output returns the arena output tensor, nil before Init
func (r *Runtime) Output() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.arena == nil {
		return nil
	}

	return r.arena.Output
}

// Layout returns the input tensor layout of the loaded model
func (r *Runtime) Layout() preprocess.Layout {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.layout
}

// Backend returns the name of the selected backend, empty before Init
func (r *Runtime) Backend() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backend == nil {
		return ""
	}

	return r.backend.Name()
}

// Dispose releases the backend and tensors.  The Runtime can not be used
// afterwards, disposing twice is a no-op
func (r *Runtime) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDisposed {
		return nil
	}

	r.state = StateDisposed

	var err error

	if r.backend != nil {
		err = r.backend.Close()
		r.backend = nil
	}

	r.arena = nil

	if err != nil {
		return fmt.Errorf("error closing backend: %w", err)
	}

	r.log.Info("inference runtime disposed")

	return nil
}
