package nutrivision

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/nutrivision/go-nutrivision/postprocess"
	"github.com/nutrivision/go-nutrivision/preprocess"
	"gopkg.in/yaml.v3"
)

// Config defines the detector model, thresholds, admission control and
// backend selection
type Config struct {
	// ModelFile is the path to the detector model
	ModelFile string `yaml:"model_file"`
	// LabelsFile is the path to the class labels, one per line
	LabelsFile string `yaml:"labels_file"`
	// InputSize is the side length S of the square model input
	InputSize int `yaml:"input_size"`
	// ClassNum is the number of classes C the model outputs
	ClassNum int `yaml:"classes"`
	// Predictions is the number of predictions N the model outputs
	Predictions int `yaml:"predictions"`
	// Layout forces the input tensor layout to nhwc or nchw, empty takes the
	// layout reported by the backend
	Layout string `yaml:"layout"`
	// NormalizedBoxes is set when the model emits box coordinates relative
	// to InputSize
	NormalizedBoxes bool `yaml:"normalized_boxes"`

	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	IoUThreshold        float32 `yaml:"iou_threshold"`
	// MaxCandidates caps the boxes entering NMS, zero disables the cap
	MaxCandidates int `yaml:"max_candidates"`
	// MaxDetections limits the boxes returned, zero is unlimited
	MaxDetections int `yaml:"max_detections"`

	// FrameSkip processes every Nth camera frame
	FrameSkip int `yaml:"frame_skip"`
	// MinInterval is the minimum time between the end of one inference and
	// the admission of the next camera frame
	MinInterval time.Duration `yaml:"min_interval"`
	// MetricsWindow is the number of frames the rolling metrics cover
	MetricsWindow int `yaml:"metrics_window"`

	// Backends lists the inference backends to try in order
	Backends []string `yaml:"backends"`
	// CPUThreads is the thread count of the cpu backend
	CPUThreads int `yaml:"cpu_threads"`
	// DeviceID selects the accelerator device
	DeviceID int `yaml:"device_id"`
	// SharedLibrary is the path of the onnxruntime shared library, empty uses
	// the platform default
	SharedLibrary string `yaml:"onnxruntime_library"`
	// ProviderOptions are passed to the accelerated execution provider
	ProviderOptions map[string]string `yaml:"provider_options"`

	// NativeConversion enables the OpenCV color converter ahead of the
	// software one, it needs a build with the gocv tag
	NativeConversion bool `yaml:"native_conversion"`
	// ConversionWorkers is the goroutine count of the software converter
	ConversionWorkers int `yaml:"conversion_workers"`
	// WorkerCPUs pins the inference worker thread to the given CPU cores
	WorkerCPUs []int `yaml:"worker_cpus"`
}

// DefaultConfig returns the configuration of the 83 class food detector
func DefaultConfig() Config {

	food := postprocess.FoodParams()

	return Config{
		InputSize:           food.InputSize,
		ClassNum:            food.ClassNum,
		Predictions:         food.Predictions,
		NormalizedBoxes:     food.NormalizedBoxes,
		ConfidenceThreshold: food.ConfidenceThreshold,
		IoUThreshold:        food.IoUThreshold,
		MaxCandidates:       food.MaxCandidates,
		FrameSkip:           1,
		MinInterval:         100 * time.Millisecond,
		MetricsWindow:       30,
		Backends:            []string{"cuda", "cpu"},
		CPUThreads:          runtime.NumCPU(),
		NativeConversion:    true,
		ConversionWorkers:   1,
	}
}

// LoadConfig reads a YAML configuration file over the defaults and
// validates the result
func LoadConfig(path string) (Config, error) {

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)

	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the configuration values are within range
func (c Config) Validate() error {

	if c.InputSize <= 0 || c.ClassNum <= 0 || c.Predictions <= 0 {
		return fmt.Errorf("invalid model geometry: input_size=%d classes=%d predictions=%d",
			c.InputSize, c.ClassNum, c.Predictions)
	}

	if err := checkThreshold("confidence_threshold", c.ConfidenceThreshold); err != nil {
		return err
	}

	if err := checkThreshold("iou_threshold", c.IoUThreshold); err != nil {
		return err
	}

	if c.MaxCandidates < 0 || c.MaxDetections < 0 {
		return fmt.Errorf("max_candidates and max_detections must not be negative")
	}

	if c.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be at least 1, got %d", c.FrameSkip)
	}

	if c.MinInterval < 0 {
		return fmt.Errorf("min_interval must not be negative, got %s", c.MinInterval)
	}

	if c.MetricsWindow < 1 {
		return fmt.Errorf("metrics_window must be at least 1, got %d", c.MetricsWindow)
	}

	if c.CPUThreads < 0 || c.ConversionWorkers < 0 {
		return fmt.Errorf("thread counts must not be negative")
	}

	if _, err := c.layout(); err != nil {
		return err
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("no backends configured")
	}

	for _, name := range c.Backends {
		if lookupBackend(name) == nil {
			return fmt.Errorf("unknown backend %q, available: %s", name,
				strings.Join(Backends(), ", "))
		}
	}

	return nil
}

func checkThreshold(name string, v float32) error {

	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %f", name, v)
	}

	return nil
}

// layout parses the forced tensor layout, nil when the backend decides
func (c Config) layout() (forced *preprocess.Layout, err error) {

	var l preprocess.Layout

	switch strings.ToLower(c.Layout) {
	case "":
		return nil, nil
	case "nhwc":
		l = preprocess.LayoutNHWC
	case "nchw":
		l = preprocess.LayoutNCHW
	default:
		return nil, fmt.Errorf("unknown layout %q, use nhwc or nchw", c.Layout)
	}

	return &l, nil
}

// postprocessParams returns the decoder parameters for the configuration
func (c Config) postprocessParams() postprocess.Params {
	return postprocess.Params{
		InputSize:           c.InputSize,
		ClassNum:            c.ClassNum,
		Predictions:         c.Predictions,
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
		MaxCandidates:       c.MaxCandidates,
		MaxDetections:       c.MaxDetections,
		NormalizedBoxes:     c.NormalizedBoxes,
	}
}

// backendConfig returns the options passed to backend openers
func (c Config) backendConfig() BackendConfig {
	return BackendConfig{
		ModelFile:       c.ModelFile,
		InputSize:       c.InputSize,
		ClassNum:        c.ClassNum,
		Predictions:     c.Predictions,
		Threads:         c.CPUThreads,
		DeviceID:        c.DeviceID,
		SharedLibrary:   c.SharedLibrary,
		ProviderOptions: c.ProviderOptions,
	}
}
