// Package api includes constants and interfaces used by both end-users and internal implementations.
package api

import (
	"context"
	"fmt"
	"math"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// The below are exported to consolidate parsing behavior for external types.
const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the name of the WebAssembly 1.0 (20191205) Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a numeric type used in WebAssembly 1.0 (20191205). Function parameters and results are only
// definable as a value type.
//
// The raw uint64 representation of each type is:
//   - ValueTypeI32: uint64(uint32(v)), the upper 32 bits are always zero
//   - ValueTypeI64: uint64(v)
//   - ValueTypeF32: uint64(math.Float32bits(v))
//   - ValueTypeF64: math.Float64bits(v)
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// Extern is anything that can satisfy an import: a Function, a Memory or a Global.
type Extern interface {
	// ExternType is the kind of import this value can satisfy.
	ExternType() ExternType
}

// Function is a WebAssembly function, either exported from an instance or defined by the host.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#syntax-func
type Function interface {
	Extern

	// ParamTypes are the possibly empty sequence of value types accepted by a function with this signature.
	ParamTypes() []ValueType

	// ResultTypes are the possibly empty sequence of value types returned by a function with this signature.
	//
	// Note: In WebAssembly 1.0 (20191205), there can be at most one result.
	ResultTypes() []ValueType

	// Call invokes the function. The count and type of args must match ParamTypes exactly, or a signature mismatch
	// is returned without running any code. A trap during execution is returned as an error and the memory is left in
	// whatever state the function reached.
	Call(ctx context.Context, args ...Value) ([]Value, error)
}

// Global is a WebAssembly global, either exported from an instance or defined by the host.
type Global interface {
	Extern
	fmt.Stringer

	// Type describes the numeric type of the global.
	Type() ValueType

	// Mutable is true when the global can be changed by wasm code or MutableGlobal.Set.
	Mutable() bool

	// Get returns the last known value of this global.
	Get() Value
}

// MutableGlobal is a Global whose value can be updated at runtime (variable).
type MutableGlobal interface {
	Global

	// Set updates the value of this global. The type of v must match Type.
	Set(v Value) error
}

// Memory is a linear memory: a growable, bounds-checked byte array measured in 64 KiB pages.
//
// Every access is checked against the current size. An access past the end fails with an out of bounds trap error,
// and never reads or writes adjacent memory.
//
// Note: Grow may relocate the backing storage of an unshared memory. Keep the Memory, not a byte slice returned by
// Read, as the stable reference.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#storage%E2%91%A0
type Memory interface {
	Extern

	// Size returns the size in bytes available. Ex. If the underlying memory has 1 page: 65536
	Size() uint64

	// Pages returns the current size in pages.
	Pages() uint32

	// Min returns the minimum size in pages.
	Min() uint32

	// Max returns the maximum size in pages, or false if it was not declared. An undeclared maximum defaults to
	// MemoryLimitPages.
	Max() (uint32, bool)

	// Shared is true when the memory can be imported by multiple instances and used with atomic instructions.
	Shared() bool

	// Grow increases memory by the delta in pages. It returns the previous size in pages, or an error when the new
	// size would exceed the maximum, in which case the size is unchanged.
	Grow(deltaPages uint32) (previousPages uint32, err error)

	// Read returns a view of byteCount bytes at the offset. Writes to the view are visible to wasm code until the
	// next Grow.
	Read(offset, byteCount uint32) ([]byte, error)

	// Write copies v into memory at the offset.
	Write(offset uint32, v []byte) error

	// ReadUint32Le reads a uint32 in little-endian encoding from the offset.
	ReadUint32Le(offset uint32) (uint32, error)

	// WriteUint32Le writes the value in little-endian encoding to the offset.
	WriteUint32Le(offset, v uint32) error

	// ReadUint64Le reads a uint64 in little-endian encoding from the offset.
	ReadUint64Le(offset uint32) (uint64, error)

	// WriteUint64Le writes the value in little-endian encoding to the offset.
	WriteUint64Le(offset uint32, v uint64) error
}

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = uint32(65536)
	// MemoryLimitPages is maximum number of pages defined (2^16).
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryLimitPages = uint32(65536)
)

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// EncodeF32 encodes the input as a ValueTypeF32.
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 decodes the input as a ValueTypeF32.
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 encodes the input as a ValueTypeF64.
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 decodes the input as a ValueTypeF64.
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}
