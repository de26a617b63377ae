package nutrivision

import (
	"sort"
	"sync"

	"github.com/nutrivision/go-nutrivision/preprocess"
)

// Arena holds the input and output tensors shared by the Runtime and its
// Backend.  It is allocated once per Runtime and only accessed by the single
// inference in flight
type Arena struct {
	// Input is the S x S x 3 normalized image tensor
	Input []float32
	// Output is the (4+C) x N detector output tensor
	Output []float32
}

// NewArena allocates an arena for the given model geometry
func NewArena(inputSize, classNum, predictions int) *Arena {
	return &Arena{
		Input:  make([]float32, inputSize*inputSize*3),
		Output: make([]float32, (4+classNum)*predictions),
	}
}

// Zero clears both tensors
func (a *Arena) Zero() {
	clear(a.Input)
	clear(a.Output)
}

// BackendConfig is passed to a BackendOpener
type BackendConfig struct {
	ModelFile   string
	InputSize   int
	ClassNum    int
	Predictions int
	// Threads is the number of CPU threads for general purpose compute
	Threads int
	// DeviceID selects the accelerator device
	DeviceID int
	// SharedLibrary is the onnxruntime library path
	SharedLibrary string
	// ProviderOptions are backend specific key/value settings
	ProviderOptions map[string]string
}

// Backend is an inference strategy bound to an Arena.  Run reads Arena.Input
// and writes Arena.Output and is never called concurrently
type Backend interface {
	// Name returns the registered backend name
	Name() string
	// Layout returns the input tensor layout the model expects
	Layout() preprocess.Layout
	// Run executes the model once
	Run() error
	// Close releases the backend resources
	Close() error
}

// BackendOpener loads the model into a new Backend bound to arena.  Openers
// return an *AssetError when the model itself is unusable
type BackendOpener func(cfg BackendConfig, arena *Arena) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendOpener)
)

// RegisterBackend makes a backend available by name, registering the same
// name twice replaces the opener
func RegisterBackend(name string, open BackendOpener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	backends[name] = open
}

// Backends returns the sorted names of the registered backends
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))

	for name := range backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func lookupBackend(name string) BackendOpener {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	return backends[name]
}
