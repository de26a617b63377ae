package nutrivision

import (
	"fmt"
	"strings"
)

const (
	// RK3588FastCores is the cpu affinity mask of the fast cortex A76 cores 4-7
	RK3588FastCores = uintptr(0b11110000)
	// RK3588SlowCores is the cpu affinity mask of the efficient cortex A55 cores 0-3
	RK3588SlowCores = uintptr(0b00001111)
	// RK3588AllCores is the cpu affinity mask for all cortex A76 and A55 cores 0-7
	RK3588AllCores = uintptr(0b11111111)

	// RK3576FastCores is the cpu affinity mask of the fast cortex A72 cores 4-7
	RK3576FastCores = uintptr(0b11110000)
	// RK3576SlowCores is the cpu affinity mask of the efficient cortex A53 cores 0-3
	RK3576SlowCores = uintptr(0b00001111)
	// RK3576AllCores is the cpu affinity mask for all cortex A72 and A53 cores 0-7
	RK3576AllCores = uintptr(0b11111111)

	// RK3566AllCores is the cpu affinity mask of all cortex A55 cores 0-3
	RK3566AllCores = uintptr(0b00001111)
)

// CoreType specifies the CPU core type
type CoreType int

const (
	FastCores CoreType = 0
	SlowCores CoreType = 1
	AllCores  CoreType = 2
)

// coreMaskList defines a list of CPU core masks for lookup by platform
var coreMaskList = map[string]map[CoreType]uintptr{
	"rk3566": {
		SlowCores: RK3566AllCores,
		FastCores: RK3566AllCores,
		AllCores:  RK3566AllCores,
	},
	"rk3576": {
		SlowCores: RK3576SlowCores,
		FastCores: RK3576FastCores,
		AllCores:  RK3576AllCores,
	},
	"rk3588": {
		SlowCores: RK3588SlowCores,
		FastCores: RK3588FastCores,
		AllCores:  RK3588AllCores,
	},
}

// ParseCoreType parses fast, slow or all
func ParseCoreType(s string) (CoreType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return FastCores, nil
	case "slow":
		return SlowCores, nil
	case "all", "":
		return AllCores, nil
	default:
		return AllCores, fmt.Errorf("unknown core type %q", s)
	}
}

// CPUCoreMask calculates the core mask by passing in the CPU core numbers as a
// slice, eg: []int{4,5,6,7}
func CPUCoreMask(cores []int) uintptr {

	var mask uintptr

	for _, core := range cores {
		mask |= 1 << core
	}

	return mask
}

// MaskCores returns the CPU core numbers set in mask
func MaskCores(mask uintptr) []int {

	var cores []int

	for i := 0; mask>>i != 0; i++ {
		if mask&(1<<i) != 0 {
			cores = append(cores, i)
		}
	}

	return cores
}

// PlatformCores returns the CPU cores of the given core type for a platform
// string of rk3566|rk3576|rk3588
func PlatformCores(platform string, ct CoreType) ([]int, error) {

	platform = strings.ToLower(strings.TrimSpace(platform))

	if masks, ok := coreMaskList[platform]; ok {
		if mask, ok := masks[ct]; ok {
			return MaskCores(mask), nil
		}
	}

	return nil, fmt.Errorf("unknown platform: %s", platform)
}
