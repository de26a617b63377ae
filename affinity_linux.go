//go:build linux

package nutrivision

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetThreadAffinity pins the calling OS thread to the given CPU cores, call
// it from a goroutine locked with runtime.LockOSThread
func SetThreadAffinity(cores []int) error {

	var set unix.CPUSet

	for _, core := range cores {
		set.Set(core)
	}

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("failed to set CPU affinity: %w", err)
	}

	return nil
}

// ThreadAffinity returns the CPU cores the calling thread may run on
func ThreadAffinity() ([]int, error) {

	var set unix.CPUSet

	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("failed to get CPU affinity: %w", err)
	}

	var cores []int

	for i := 0; i < 1024; i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}

	return cores, nil
}
