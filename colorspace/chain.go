package colorspace

import (
	"fmt"

	"go.uber.org/multierr"
)

// Chain tries each Converter in order and returns the first successful
// result.  Any failure, including a panic inside a converter, moves on to the
// next strategy
type Chain struct {
	converters []Converter
}

// NewChain returns a fallback chain over the given converters, nil entries
// are skipped
func NewChain(converters ...Converter) *Chain {

	c := &Chain{}

	for _, conv := range converters {
		if conv != nil {
			c.converters = append(c.converters, conv)
		}
	}

	return c
}

// Name returns the converter name
func (c *Chain) Name() string {
	return "chain"
}

// Convert runs the converters in order until one succeeds.  When all of
// them fail the returned ConversionError wraps every failure
func (c *Chain) Convert(f *Frame) (*Raster, error) {

	if len(c.converters) == 0 {
		return nil, &ConversionError{Converter: c.Name(), Err: ErrUnavailable}
	}

	var errs []error
	last := ""

	for _, conv := range c.converters {
		last = conv.Name()
		raster, err := safeConvert(conv, f)

		if err == nil {
			return raster, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", conv.Name(), err))
	}

	return nil, &ConversionError{Converter: last, Err: multierr.Combine(errs...)}
}

// safeConvert recovers from a panicking converter, OpenCV bindings panic on
// some malformed inputs
func safeConvert(conv Converter, f *Frame) (raster *Raster, err error) {

	defer func() {
		if r := recover(); r != nil {
			raster = nil
			err = fmt.Errorf("converter panic: %v", r)
		}
	}()

	return conv.Convert(f)
}
