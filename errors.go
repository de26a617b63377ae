package nutrivision

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned by any operation on a disposed Runtime or
	// Controller
	ErrDisposed = errors.New("detector disposed")
	// ErrNotInitialized is returned when running a Runtime that has not
	// completed initialization
	ErrNotInitialized = errors.New("detector not initialized")
	// ErrNoBackend is returned when every configured backend failed to open
	ErrNoBackend = errors.New("no inference backend available")
	// ErrWorkerClosed is returned when submitting work to a stopped Worker
	ErrWorkerClosed = errors.New("inference worker closed")
)

// AssetError reports a missing or corrupt model or labels file, or a model
// whose tensor shapes do not match the configuration.  It is fatal to
// initialization and never triggers a backend fallback
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// BackendError reports an inference backend that could not be opened or
// failed its smoke test
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// StageError wraps a failure within a single frame's pipeline with the
// stage name and the dimensions of the image being processed
type StageError struct {
	Stage  string
	Width  int
	Height int
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed on %dx%d image: %v", e.Stage, e.Width,
		e.Height, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// pipeline stage names used in StageError
const (
	StageConvert    = "convert"
	StagePreprocess = "preprocess"
	StageInference  = "inference"
	StageDecode     = "decode"
)
