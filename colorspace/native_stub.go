//go:build !gocv
// +build !gocv

package colorspace

import (
	"fmt"
)

// NativeAvailable reports whether Native is backed by OpenCV in this build,
// build with the gocv tag to enable it
const NativeAvailable = false

// Native stands in for the OpenCV converter in builds without the gocv tag,
// every frame is reported as ErrUnavailable
type Native struct{}

// NewNative returns a converter that cannot convert
func NewNative() *Native {
	return &Native{}
}

// Name returns the converter name
func (n *Native) Name() string {
	return "native"
}

// Close is a no-op
func (n *Native) Close() error {
	return nil
}

// Convert always fails with ErrUnavailable
func (n *Native) Convert(f *Frame) (*Raster, error) {
	return nil, fmt.Errorf("%w: built without the gocv tag", ErrUnavailable)
}
