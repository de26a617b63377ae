package nutrivision

import (
	"encoding/binary"

	"github.com/x448/float16"
)

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// encodeFloat16 writes src as little endian binary16 values into dst, which
// must hold 2 bytes per element
func encodeFloat16(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[i*2:], float16.Fromfloat32(v).Bits())
	}
}

// decodeFloat16 reads little endian binary16 values from src into dst
func decodeFloat16(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = f16LookupTable[binary.LittleEndian.Uint16(src[i*2:])]
	}
}
