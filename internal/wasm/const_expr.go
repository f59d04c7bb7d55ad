package wasm

import (
	"bytes"
	"fmt"
	"math"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/ieee754"
	"github.com/wasmtier/wasmtier/internal/leb128"
)

// ResultType returns the type of value the expression produces, given the types of the globals it may read.
func (e *ConstantExpression) ResultType(globals []*GlobalType) (api.ValueType, error) {
	switch e.Opcode {
	case OpcodeI32Const:
		return api.ValueTypeI32, nil
	case OpcodeI64Const:
		return api.ValueTypeI64, nil
	case OpcodeF32Const:
		return api.ValueTypeF32, nil
	case OpcodeF64Const:
		return api.ValueTypeF64, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(bytes.NewReader(e.Data))
		if err != nil {
			return 0, fmt.Errorf("read global index: %w", err)
		}
		if idx >= uint32(len(globals)) {
			return 0, fmt.Errorf("global index out of range: %d", idx)
		}
		return globals[idx].ValType, nil
	}
	return 0, fmt.Errorf("invalid opcode for const expression: %#x", e.Opcode)
}

// GlobalIndex returns the index of the global read by a global.get expression.
func (e *ConstantExpression) GlobalIndex() (Index, bool) {
	if e.Opcode != OpcodeGlobalGet {
		return 0, false
	}
	idx, _, err := leb128.DecodeUint32(bytes.NewReader(e.Data))
	return idx, err == nil
}

// Eval returns the raw value of the expression. Only imported globals may be read, so globals is the imported
// prefix of the instance's globals.
func (e *ConstantExpression) Eval(globals []*GlobalInstance) (uint64, error) {
	r := bytes.NewReader(e.Data)
	switch e.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		return uint64(uint32(v)), err
	case OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		return uint64(v), err
	case OpcodeF32Const:
		v, err := ieee754.DecodeFloat32(e.Data)
		return uint64(math.Float32bits(v)), err
	case OpcodeF64Const:
		v, err := ieee754.DecodeFloat64(e.Data)
		return math.Float64bits(v), err
	case OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return 0, err
		}
		if idx >= uint32(len(globals)) {
			return 0, fmt.Errorf("global index out of range: %d", idx)
		}
		return globals[idx].Val, nil
	}
	return 0, fmt.Errorf("invalid opcode for const expression: %#x", e.Opcode)
}

// ConstI32 returns the offset of an i32.const expression, or false when the value is only known at instantiation.
func (e *ConstantExpression) ConstI32() (uint32, bool) {
	if e.Opcode != OpcodeI32Const {
		return 0, false
	}
	v, _, err := leb128.DecodeInt32(bytes.NewReader(e.Data))
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
