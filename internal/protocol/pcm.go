package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeFloat32LE packs samples as little-endian float32.
func EncodeFloat32LE(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeFloat32LE is the inverse of EncodeFloat32LE.
func DecodeFloat32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("pcm not aligned to float32 (%d bytes)", len(raw))
	}
	values := make([]float32, len(raw)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return values, nil
}
