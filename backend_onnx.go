package nutrivision

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/nutrivision/go-nutrivision/preprocess"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// onnxruntime execution providers registered as backends
const (
	BackendCPU      = "cpu"
	BackendCUDA     = "cuda"
	BackendTensorRT = "tensorrt"
	BackendCoreML   = "coreml"
	BackendDirectML = "directml"
	BackendOpenVINO = "openvino"
)

func init() {
	for _, name := range []string{BackendCPU, BackendCUDA, BackendTensorRT,
		BackendCoreML, BackendDirectML, BackendOpenVINO} {

		provider := name
		RegisterBackend(provider, func(cfg BackendConfig, arena *Arena) (Backend, error) {
			return openONNX(provider, cfg, arena)
		})
	}
}

var ortMu sync.Mutex

// initORT initializes the process wide onnxruntime environment once
func initORT(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing onnxruntime environment: %w", err)
	}

	return nil
}

// onnxBackend runs the model with an onnxruntime session whose tensors are
// bound to the Arena.  FP16 models are bound to staging buffers which are
// converted around each run
type onnxBackend struct {
	name    string
	layout  preprocess.Layout
	session *ort.AdvancedSession
	input   ort.ArbitraryTensor
	output  ort.ArbitraryTensor
	arena   *Arena
	// fp16 staging buffers, nil for float32 models
	input16  []byte
	output16 []byte
	inputs   []TensorInfo
	outputs  []TensorInfo
}

// openONNX opens the model on the given execution provider
func openONNX(provider string, cfg BackendConfig, arena *Arena) (Backend, error) {

	if err := initORT(cfg.SharedLibrary); err != nil {
		return nil, err
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(cfg.ModelFile)

	if err != nil {
		return nil, &AssetError{Path: cfg.ModelFile, Err: fmt.Errorf("error reading model: %w", err)}
	}

	b := &onnxBackend{
		name:    provider,
		arena:   arena,
		inputs:  convertIOInfo(inInfo),
		outputs: convertIOInfo(outInfo),
	}

	fp16, err := b.checkModel(cfg, inInfo, outInfo)

	if err != nil {
		return nil, &AssetError{Path: cfg.ModelFile, Err: err}
	}

	s := int64(cfg.InputSize)
	inShape := ort.NewShape(1, s, s, 3)

	if b.layout == preprocess.LayoutNCHW {
		inShape = ort.NewShape(1, 3, s, s)
	}

	outShape := ort.NewShape(1, int64(4+cfg.ClassNum), int64(cfg.Predictions))

	if err := b.createTensors(inShape, outShape, fp16); err != nil {
		b.destroyTensors()
		return nil, err
	}

	options, err := newSessionOptions(provider, cfg)

	if err != nil {
		b.destroyTensors()
		return nil, err
	}

	defer options.Destroy()

	b.session, err = ort.NewAdvancedSession(cfg.ModelFile,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.ArbitraryTensor{b.input}, []ort.ArbitraryTensor{b.output},
		options,
	)

	if err != nil {
		b.destroyTensors()
		return nil, fmt.Errorf("error creating onnxruntime session: %w", err)
	}

	return b, nil
}

// checkModel validates the model tensors against the configured geometry,
// sets the input layout and reports whether the model uses FP16 tensors
func (b *onnxBackend) checkModel(cfg BackendConfig, in, out []ort.InputOutputInfo) (bool, error) {

	if len(in) == 0 || len(out) == 0 {
		return false, fmt.Errorf("model has %d inputs and %d outputs", len(in), len(out))
	}

	s := int64(cfg.InputSize)

	switch {
	case matchDims(in[0].Dimensions, 1, 3, s, s):
		b.layout = preprocess.LayoutNCHW
	case matchDims(in[0].Dimensions, 1, s, s, 3):
		b.layout = preprocess.LayoutNHWC
	default:
		return false, fmt.Errorf("input %s has shape %v, expected 1x3x%dx%d or 1x%dx%dx3",
			in[0].Name, in[0].Dimensions, s, s, s, s)
	}

	if !matchDims(out[0].Dimensions, 1, int64(4+cfg.ClassNum), int64(cfg.Predictions)) {
		return false, fmt.Errorf("output %s has shape %v, expected 1x%dx%d",
			out[0].Name, out[0].Dimensions, 4+cfg.ClassNum, cfg.Predictions)
	}

	inType, outType := in[0].DataType, out[0].DataType

	switch {
	case inType == ort.TensorElementDataTypeFloat && outType == ort.TensorElementDataTypeFloat:
		return false, nil
	case inType == ort.TensorElementDataTypeFloat16 && outType == ort.TensorElementDataTypeFloat16:
		return true, nil
	default:
		return false, fmt.Errorf("unsupported tensor types %v/%v", inType, outType)
	}
}

// createTensors binds the session tensors to the arena, or to FP16 staging
// buffers
func (b *onnxBackend) createTensors(inShape, outShape ort.Shape, fp16 bool) error {

	if !fp16 {
		in, err := ort.NewTensor(inShape, b.arena.Input)

		if err != nil {
			return fmt.Errorf("error creating input tensor: %w", err)
		}

		b.input = in

		out, err := ort.NewTensor(outShape, b.arena.Output)

		if err != nil {
			return fmt.Errorf("error creating output tensor: %w", err)
		}

		b.output = out

		return nil
	}

	b.input16 = make([]byte, len(b.arena.Input)*2)
	b.output16 = make([]byte, len(b.arena.Output)*2)

	in, err := ort.NewCustomDataTensor(inShape, b.input16, ort.TensorElementDataTypeFloat16)

	if err != nil {
		return fmt.Errorf("error creating FP16 input tensor: %w", err)
	}

	b.input = in

	out, err := ort.NewCustomDataTensor(outShape, b.output16, ort.TensorElementDataTypeFloat16)

	if err != nil {
		return fmt.Errorf("error creating FP16 output tensor: %w", err)
	}

	b.output = out

	return nil
}

func (b *onnxBackend) destroyTensors() error {

	var errs []error

	if b.input != nil {
		errs = append(errs, b.input.Destroy())
		b.input = nil
	}

	if b.output != nil {
		errs = append(errs, b.output.Destroy())
		b.output = nil
	}

	return multierr.Combine(errs...)
}

// newSessionOptions configures the execution provider
func newSessionOptions(provider string, cfg BackendConfig) (*ort.SessionOptions, error) {

	options, err := ort.NewSessionOptions()

	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}

	if err := appendProvider(options, provider, cfg); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func appendProvider(options *ort.SessionOptions, provider string, cfg BackendConfig) error {

	deviceOpts := map[string]string{"device_id": strconv.Itoa(cfg.DeviceID)}

	for k, v := range cfg.ProviderOptions {
		deviceOpts[k] = v
	}

	switch provider {
	case BackendCPU:
		if cfg.Threads > 0 {
			if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
				return fmt.Errorf("error setting intra op threads: %w", err)
			}
		}

		if err := options.SetInterOpNumThreads(1); err != nil {
			return fmt.Errorf("error setting inter op threads: %w", err)
		}

	case BackendCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()

		if err != nil {
			return fmt.Errorf("error creating CUDA options: %w", err)
		}

		defer cudaOpts.Destroy()

		if err := cudaOpts.Update(deviceOpts); err != nil {
			return fmt.Errorf("error updating CUDA options: %w", err)
		}

		if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}

	case BackendTensorRT:
		trtOpts, err := ort.NewTensorRTProviderOptions()

		if err != nil {
			return fmt.Errorf("error creating TensorRT options: %w", err)
		}

		defer trtOpts.Destroy()

		if err := trtOpts.Update(deviceOpts); err != nil {
			return fmt.Errorf("error updating TensorRT options: %w", err)
		}

		if err := options.AppendExecutionProviderTensorRT(trtOpts); err != nil {
			return fmt.Errorf("error enabling TensorRT: %w", err)
		}

	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}

	case BackendDirectML:
		if err := options.AppendExecutionProviderDirectML(cfg.DeviceID); err != nil {
			return fmt.Errorf("error enabling DirectML: %w", err)
		}

	case BackendOpenVINO:
		vinoOpts := map[string]string{"device_type": "CPU", "precision": "FP32"}

		for k, v := range cfg.ProviderOptions {
			vinoOpts[k] = v
		}

		if err := options.AppendExecutionProviderOpenVINO(vinoOpts); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}

	default:
		return fmt.Errorf("unknown execution provider %s", provider)
	}

	return nil
}

// convertIOInfo converts onnxruntime tensor info for reporting
func convertIOInfo(infos []ort.InputOutputInfo) []TensorInfo {

	out := make([]TensorInfo, len(infos))

	for i, info := range infos {
		out[i] = TensorInfo{
			Index: i,
			Name:  info.Name,
			Dims:  []int64(info.Dimensions),
			Type:  fmt.Sprint(info.DataType),
		}
	}

	return out
}

func (b *onnxBackend) Name() string {
	return b.name
}

func (b *onnxBackend) Layout() preprocess.Layout {
	return b.layout
}

func (b *onnxBackend) InputTensors() []TensorInfo {
	return b.inputs
}

func (b *onnxBackend) OutputTensors() []TensorInfo {
	return b.outputs
}

// Run executes the session, converting through the FP16 staging buffers
// when the model uses them
func (b *onnxBackend) Run() error {

	if b.input16 != nil {
		encodeFloat16(b.input16, b.arena.Input)
	}

	if err := b.session.Run(); err != nil {
		return fmt.Errorf("error running onnxruntime session: %w", err)
	}

	if b.output16 != nil {
		decodeFloat16(b.arena.Output, b.output16)
	}

	return nil
}

// Close destroys the session and its tensors
func (b *onnxBackend) Close() error {

	var errs []error

	if b.session != nil {
		errs = append(errs, b.session.Destroy())
		b.session = nil
	}

	errs = append(errs, b.destroyTensors())

	return multierr.Combine(errs...)
}
