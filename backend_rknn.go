//go:build rknn

package nutrivision

/*
#include "rknn_api.h"
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/nutrivision/go-nutrivision/preprocess"
)

// BackendRKNN runs compiled .rknn models on the Rockchip NPU
const BackendRKNN = "rknn"

func init() {
	RegisterBackend(BackendRKNN, openRKNN)
}

// CoreMask wraps C.rknn_core_mask
type CoreMask int

// rknn_core_mask values used to target which cores on the NPU the model is run
// on.  Auto picks an idle core, the others pin the model to specific cores
const (
	NPUCoreAuto    CoreMask = C.RKNN_NPU_CORE_AUTO
	NPUCore0       CoreMask = C.RKNN_NPU_CORE_0
	NPUCore1       CoreMask = C.RKNN_NPU_CORE_1
	NPUCore2       CoreMask = C.RKNN_NPU_CORE_2
	NPUCore01      CoreMask = C.RKNN_NPU_CORE_0_1
	NPUCore012     CoreMask = C.RKNN_NPU_CORE_0_1_2
	NPUSkipSetCore CoreMask = 9999
)

// coreMasks maps the core_mask provider option to a CoreMask
var coreMasks = map[string]CoreMask{
	"auto":  NPUCoreAuto,
	"0":     NPUCore0,
	"1":     NPUCore1,
	"2":     NPUCore2,
	"0_1":   NPUCore01,
	"0_1_2": NPUCore012,
	"skip":  NPUSkipSetCore,
}

// rknnErrorString returns a readable description of a C API return code
func rknnErrorString(ret C.int) string {
	switch ret {
	case C.RKNN_ERR_FAIL:
		return "execution failed"
	case C.RKNN_ERR_TIMEOUT:
		return "execution timed out"
	case C.RKNN_ERR_DEVICE_UNAVAILABLE:
		return "device is unavailable"
	case C.RKNN_ERR_MALLOC_FAIL:
		return "C memory allocation failed"
	case C.RKNN_ERR_PARAM_INVALID:
		return "parameter is invalid"
	case C.RKNN_ERR_MODEL_INVALID:
		return "model file is invalid"
	case C.RKNN_ERR_CTX_INVALID:
		return "context is invalid"
	case C.RKNN_ERR_INPUT_INVALID:
		return "input is invalid"
	case C.RKNN_ERR_OUTPUT_INVALID:
		return "output is invalid"
	case C.RKNN_ERR_DEVICE_UNMATCH:
		return "device mismatch, please update rknn sdk and npu driver/firmware"
	case C.RKNN_ERR_TARGET_PLATFORM_UNMATCH:
		return "the RKNN model target platform is not compatible with the current platform"
	default:
		return fmt.Sprintf("unknown error code %d", int(ret))
	}
}

// rknnBackend holds the NPU context.  Input is staged through C memory as
// the C API keeps pointers to it for the duration of the run
type rknnBackend struct {
	ctx     C.rknn_context
	arena   *Arena
	inBuf   unsafe.Pointer
	inputs  []TensorInfo
	outputs []TensorInfo
}

// openRKNN loads the model onto the NPU
func openRKNN(cfg BackendConfig, arena *Arena) (Backend, error) {

	info, err := os.Stat(cfg.ModelFile)

	if err != nil {
		return nil, &AssetError{Path: cfg.ModelFile, Err: err}
	}

	if info.IsDir() {
		return nil, &AssetError{Path: cfg.ModelFile, Err: fmt.Errorf("model file is a directory")}
	}

	cModelFile := C.CString(cfg.ModelFile)
	defer C.free(unsafe.Pointer(cModelFile))

	b := &rknnBackend{arena: arena}

	ret := C.rknn_init(&b.ctx, unsafe.Pointer(cModelFile), 0, 0, nil)

	if ret != C.RKNN_SUCC {
		return nil, fmt.Errorf("C.rknn_init call failed with code %d, error: %s",
			int(ret), rknnErrorString(ret))
	}

	if err := b.setup(cfg); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func (b *rknnBackend) setup(cfg BackendConfig) error {

	mask := NPUCoreAuto

	if opt, ok := cfg.ProviderOptions["core_mask"]; ok {
		m, found := coreMasks[strings.ToLower(opt)]

		if !found {
			return fmt.Errorf("unknown core_mask %q", opt)
		}

		mask = m
	}

	// setting the core mask is only supported on RK3588
	if mask != NPUSkipSetCore {
		ret := C.rknn_set_core_mask(b.ctx, C.rknn_core_mask(mask))

		if ret != C.RKNN_SUCC {
			return fmt.Errorf("C.rknn_set_core_mask failed with code %d, error: %s",
				int(ret), rknnErrorString(ret))
		}
	}

	var ioNum C.rknn_input_output_num

	ret := C.rknn_query(b.ctx, C.RKNN_QUERY_IN_OUT_NUM, unsafe.Pointer(&ioNum),
		C.uint(C.sizeof_rknn_input_output_num))

	if ret != C.RKNN_SUCC {
		return fmt.Errorf("rknn_query failed with return code %d", int(ret))
	}

	var err error

	if b.inputs, err = b.queryTensors(C.RKNN_QUERY_INPUT_ATTR, int(ioNum.n_input)); err != nil {
		return err
	}

	if b.outputs, err = b.queryTensors(C.RKNN_QUERY_OUTPUT_ATTR, int(ioNum.n_output)); err != nil {
		return err
	}

	if len(b.inputs) != 1 || len(b.outputs) != 1 {
		return &AssetError{Path: cfg.ModelFile, Err: fmt.Errorf("model has %d inputs and %d outputs",
			len(b.inputs), len(b.outputs))}
	}

	s := int64(cfg.InputSize)
	in := b.inputs[0].Dims

	if !matchDims(in, 1, s, s, 3) && !matchDims(in, 1, 3, s, s) {
		return &AssetError{Path: cfg.ModelFile, Err: fmt.Errorf("input has shape %v", in)}
	}

	if !matchDims(b.outputs[0].Dims, 1, int64(4+cfg.ClassNum), int64(cfg.Predictions)) {
		return &AssetError{Path: cfg.ModelFile, Err: fmt.Errorf("output has shape %v", b.outputs[0].Dims)}
	}

	b.inBuf = C.malloc(C.size_t(len(b.arena.Input) * 4))

	if b.inBuf == nil {
		return fmt.Errorf("error allocating input buffer")
	}

	return nil
}

// queryTensors gets the model tensor attributes
func (b *rknnBackend) queryTensors(cmd C.rknn_query_cmd, n int) ([]TensorInfo, error) {

	infos := make([]TensorInfo, n)

	for i := 0; i < n; i++ {
		var attr C.rknn_tensor_attr
		attr.index = C.uint32_t(i)

		ret := C.rknn_query(b.ctx, cmd, unsafe.Pointer(&attr), C.uint(unsafe.Sizeof(attr)))

		if ret != C.RKNN_SUCC {
			return nil, fmt.Errorf("C.rknn_query tensor attributes failed with code %d, error: %s",
				int(ret), rknnErrorString(ret))
		}

		dims := make([]int64, int(attr.n_dims))

		for d := range dims {
			dims[d] = int64(attr.dims[d])
		}

		infos[i] = TensorInfo{
			Index:  i,
			Name:   C.GoString(&attr.name[0]),
			Dims:   dims,
			Type:   C.GoString(C.get_type_string(attr._type)),
			Format: C.GoString(C.get_format_string(attr.fmt)),
		}
	}

	return infos, nil
}

func (b *rknnBackend) Name() string {
	return BackendRKNN
}

// Layout is always NHWC, the runtime converts to the native NPU format
func (b *rknnBackend) Layout() preprocess.Layout {
	return preprocess.LayoutNHWC
}

func (b *rknnBackend) InputTensors() []TensorInfo {
	return b.inputs
}

func (b *rknnBackend) OutputTensors() []TensorInfo {
	return b.outputs
}

// Run sets the float32 input, runs the model and copies the float output
// into the arena
func (b *rknnBackend) Run() error {

	n := len(b.arena.Input)
	copy(unsafe.Slice((*float32)(b.inBuf), n), b.arena.Input)

	var input C.rknn_input
	input.index = 0
	input.buf = b.inBuf
	input.size = C.uint32_t(n * 4)
	input.pass_through = 0
	input._type = C.RKNN_TENSOR_FLOAT32
	input.fmt = C.RKNN_TENSOR_NHWC

	ret := C.rknn_inputs_set(b.ctx, 1, &input)

	if ret != C.RKNN_SUCC {
		return fmt.Errorf("C.rknn_inputs_set failed with code %d, error: %s",
			int(ret), rknnErrorString(ret))
	}

	ret = C.rknn_run(b.ctx, nil)

	if ret < 0 {
		return fmt.Errorf("C.rknn_run failed with code %d, error: %s",
			int(ret), rknnErrorString(ret))
	}

	var output C.rknn_output
	output.index = 0
	output.want_float = 1

	ret = C.rknn_outputs_get(b.ctx, 1, &output, nil)

	if ret < 0 {
		return fmt.Errorf("C.rknn_outputs_get failed with code %d, error: %s",
			int(ret), rknnErrorString(ret))
	}

	defer C.rknn_outputs_release(b.ctx, 1, &output)

	got := int(output.size) / 4

	if got != len(b.arena.Output) {
		return fmt.Errorf("output has %d elements, expected %d", got, len(b.arena.Output))
	}

	copy(b.arena.Output, unsafe.Slice((*float32)(output.buf), got))

	return nil
}

// Close wraps C.rknn_destroy which unloads the model and releases the
// context
func (b *rknnBackend) Close() error {

	if b.inBuf != nil {
		C.free(b.inBuf)
		b.inBuf = nil
	}

	ret := C.rknn_destroy(b.ctx)

	if ret != C.RKNN_SUCC {
		return fmt.Errorf("C.rknn_destroy failed with code %d, error: %s",
			int(ret), rknnErrorString(ret))
	}

	return nil
}
