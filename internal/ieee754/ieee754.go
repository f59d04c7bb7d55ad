// Package ieee754 decodes the little-endian IEEE 754 floats used by const instructions.
package ieee754

import (
	"encoding/binary"
	"errors"
	"math"
)

var errTruncated = errors.New("unexpected end of float bytes")

// DecodeFloat32 decodes a float32 in IEEE 754 binary representation.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#floating-point%E2%91%A2
func DecodeFloat32(buf []byte) (float32, error) {
	if len(buf) < 4 {
		return 0, errTruncated
	}
	raw := binary.LittleEndian.Uint32(buf[:4])
	return math.Float32frombits(raw), nil
}

// DecodeFloat64 decodes a float64 in IEEE 754 binary representation.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#floating-point%E2%91%A2
func DecodeFloat64(buf []byte) (float64, error) {
	if len(buf) < 8 {
		return 0, errTruncated
	}
	raw := binary.LittleEndian.Uint64(buf)
	return math.Float64frombits(raw), nil
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(v float32) []byte {
	return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
}

// EncodeFloat64 is the inverse of DecodeFloat64.
func EncodeFloat64(v float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v))
}
