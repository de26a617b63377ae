//go:build !linux

package nutrivision

import "fmt"

// SetThreadAffinity is not supported on this platform
func SetThreadAffinity(cores []int) error {
	return fmt.Errorf("CPU affinity not supported")
}

// ThreadAffinity is not supported on this platform
func ThreadAffinity() ([]int, error) {
	return nil, fmt.Errorf("CPU affinity not supported")
}
