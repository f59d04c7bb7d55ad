package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
)

// Limits flags. The shared bit is only valid for memories, with the threads proposal.
// See https://github.com/WebAssembly/threads/blob/main/proposals/threads/Overview.md#spec-changes
const (
	limitsMin          = 0x00
	limitsMinMax       = 0x01
	limitsSharedMin    = 0x02
	limitsSharedMinMax = 0x03
)

// decodeLimitsType returns the min, max (if present) and shared flag decoded with the WebAssembly 1.0 (20191205)
// Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func decodeLimitsType(r *bytes.Reader) (min uint32, max *uint32, shared bool, err error) {
	var flag byte
	if flag, err = r.ReadByte(); err != nil {
		err = fmt.Errorf("read leading byte: %v", err)
		return
	}

	switch flag {
	case limitsMin, limitsMinMax, limitsSharedMin, limitsSharedMinMax:
	default:
		err = fmt.Errorf("%v for limits: %#x not in (0x00, 0x01, 0x02, 0x03)", ErrInvalidByte, flag)
		return
	}

	if min, _, err = leb128.DecodeUint32(r); err != nil {
		err = fmt.Errorf("read min of limit: %v", err)
		return
	}
	if flag&limitsMinMax != 0 {
		var m uint32
		if m, _, err = leb128.DecodeUint32(r); err != nil {
			err = fmt.Errorf("read max of limit: %v", err)
			return
		}
		max = &m
	}
	shared = flag&limitsSharedMin != 0
	return
}

// encodeLimitsType returns the limits encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func encodeLimitsType(min uint32, max *uint32, shared bool) []byte {
	flag := byte(limitsMin)
	if shared {
		flag |= limitsSharedMin
	}
	if max == nil {
		return append([]byte{flag}, leb128.EncodeUint32(min)...)
	}
	flag |= limitsMinMax
	return append(append([]byte{flag}, leb128.EncodeUint32(min)...), leb128.EncodeUint32(*max)...)
}

// decodeMemory returns the wasm.Memory decoded with the WebAssembly 1.0 (20191205) Binary Format. A memory without a
// max gets memoryLimitPages.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func decodeMemory(r *bytes.Reader, memoryLimitPages uint32) (*wasm.Memory, error) {
	min, maxP, shared, err := decodeLimitsType(r)
	if err != nil {
		return nil, err
	}
	mem := &wasm.Memory{Min: min, Max: memoryLimitPages, IsShared: shared}
	if maxP != nil {
		mem.Max = *maxP
		mem.IsMaxEncoded = true
	}
	if err = wasm.ValidateMemoryLimits(mem.Min, mem.Max, memoryLimitPages, shared, mem.IsMaxEncoded); err != nil {
		return nil, err
	}
	return mem, nil
}

// encodeMemory returns the wasm.Memory encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-memory
func encodeMemory(i *wasm.Memory) []byte {
	var max *uint32
	if i.IsMaxEncoded {
		max = &i.Max
	}
	return encodeLimitsType(i.Min, max, i.IsShared)
}

// decodeTable returns the wasm.Table decoded with the WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func decodeTable(r *bytes.Reader) (*wasm.Table, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}

	if b != wasm.RefTypeFuncref {
		return nil, fmt.Errorf("invalid element type %#x != funcref(%#x)", b, wasm.RefTypeFuncref)
	}

	min, max, shared, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %v", err)
	}
	if shared {
		return nil, fmt.Errorf("tables cannot be shared")
	}
	if max != nil && min > *max {
		return nil, fmt.Errorf("table size minimum must not be greater than maximum")
	}
	return &wasm.Table{Min: min, Max: max}, nil
}

// encodeTable returns the wasm.Table encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-table
func encodeTable(i *wasm.Table) []byte {
	return append([]byte{wasm.RefTypeFuncref}, encodeLimitsType(i.Min, i.Max, false)...)
}
