package nutrivision

import (
	"fmt"
	"io"
)

// Query writes the selected backend, tensor layout and the model's input and
// output tensors in human readable format
func (r *Runtime) Query(w io.Writer) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDisposed {
		return ErrDisposed
	}

	if r.state != StateReady {
		return ErrNotInitialized
	}

	fmt.Fprintf(w, "Backend: %s, Input Layout: %s\n", r.backend.Name(), r.layout)
	fmt.Fprintf(w, "Input Elements: %d, Output Elements: %d\n", len(r.arena.Input), len(r.arena.Output))

	desc, ok := r.backend.(TensorDescriber)

	if !ok {
		return nil
	}

	fmt.Fprintf(w, "Input tensors:\n")

	for _, info := range desc.InputTensors() {
		fmt.Fprintf(w, "  %s\n", info.String())
	}

	fmt.Fprintf(w, "Output tensors:\n")

	for _, info := range desc.OutputTensors() {
		fmt.Fprintf(w, "  %s\n", info.String())
	}

	return nil
}
