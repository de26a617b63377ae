package nutrivision

import (
	"fmt"
	"strings"
)

// TensorInfo describes a model input or output tensor as reported by a
// backend
type TensorInfo struct {
	Index int
	Name  string
	Dims  []int64
	// Type is the element type, eg: FP32, FP16, INT8
	Type string
	// Format is the memory layout when the backend reports one
	Format string
}

// String returns the TensorInfo attributes formatted as a string
func (t TensorInfo) String() string {

	dims := make([]string, len(t.Dims))

	for i, d := range t.Dims {
		dims[i] = fmt.Sprintf("%d", d)
	}

	s := fmt.Sprintf("index=%d, name=%s, n_dims=%d, dims=[%s], type=%s",
		t.Index, t.Name, len(t.Dims), strings.Join(dims, ", "), t.Type)

	if t.Format != "" {
		s += ", fmt=" + t.Format
	}

	return s
}

// TensorDescriber is implemented by backends able to report the model's
// tensors
type TensorDescriber interface {
	InputTensors() []TensorInfo
	OutputTensors() []TensorInfo
}

// matchDims reports whether the model dims equal want, treating negative
// model dims as dynamic
func matchDims(dims []int64, want ...int64) bool {

	if len(dims) != len(want) {
		return false
	}

	for i, d := range dims {
		if d >= 0 && d != want[i] {
			return false
		}
	}

	return true
}
