package wasmir

import (
	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
)

// signature represents how a Wasm opcode
// manipulates the value stacks in terms of value types.
type signature struct {
	in, out []UnsignedType
}

var (
	signature_None_None = &signature{}
	signature_I32_I32   = &signature{
		in:  []UnsignedType{UnsignedTypeI32},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_I32_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeI32},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_I32_F32 = &signature{
		in:  []UnsignedType{UnsignedTypeI32},
		out: []UnsignedType{UnsignedTypeF32},
	}
	signature_I32_F64 = &signature{
		in:  []UnsignedType{UnsignedTypeI32},
		out: []UnsignedType{UnsignedTypeF64},
	}
	signature_I64_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_I64_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_I64_F32 = &signature{
		in:  []UnsignedType{UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeF32},
	}
	signature_I64_F64 = &signature{
		in:  []UnsignedType{UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeF64},
	}
	signature_F32_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeF32},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_F32_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeF32},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_F32_F32 = &signature{
		in:  []UnsignedType{UnsignedTypeF32},
		out: []UnsignedType{UnsignedTypeF32},
	}
	signature_F32_F64 = &signature{
		in:  []UnsignedType{UnsignedTypeF32},
		out: []UnsignedType{UnsignedTypeF64},
	}
	signature_F64_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeF64},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_F64_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeF64},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_F64_F32 = &signature{
		in:  []UnsignedType{UnsignedTypeF64},
		out: []UnsignedType{UnsignedTypeF32},
	}
	signature_F64_F64 = &signature{
		in:  []UnsignedType{UnsignedTypeF64},
		out: []UnsignedType{UnsignedTypeF64},
	}
	signature_I32I32_None = &signature{
		in: []UnsignedType{UnsignedTypeI32, UnsignedTypeI32},
	}
	signature_I32I64_None = &signature{
		in: []UnsignedType{UnsignedTypeI32, UnsignedTypeI64},
	}
	signature_I32F32_None = &signature{
		in: []UnsignedType{UnsignedTypeI32, UnsignedTypeF32},
	}
	signature_I32F64_None = &signature{
		in: []UnsignedType{UnsignedTypeI32, UnsignedTypeF64},
	}
	signature_I32I32_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeI32, UnsignedTypeI32},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_I32I64_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeI32, UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_I64I64_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeI64, UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_I64I64_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeI64, UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_F32F32_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeF32, UnsignedTypeF32},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_F32F32_F32 = &signature{
		in:  []UnsignedType{UnsignedTypeF32, UnsignedTypeF32},
		out: []UnsignedType{UnsignedTypeF32},
	}
	signature_F64F64_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeF64, UnsignedTypeF64},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_F64F64_F64 = &signature{
		in:  []UnsignedType{UnsignedTypeF64, UnsignedTypeF64},
		out: []UnsignedType{UnsignedTypeF64},
	}
	signature_I32I32I32_None = &signature{
		in: []UnsignedType{UnsignedTypeI32, UnsignedTypeI32, UnsignedTypeI32},
	}
	signature_I32I32I32_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeI32, UnsignedTypeI32, UnsignedTypeI32},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_I32I64I64_I64 = &signature{
		in:  []UnsignedType{UnsignedTypeI32, UnsignedTypeI64, UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI64},
	}
	signature_I32I32I64_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeI32, UnsignedTypeI32, UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI32},
	}
	signature_I32I64I64_I32 = &signature{
		in:  []UnsignedType{UnsignedTypeI32, UnsignedTypeI64, UnsignedTypeI64},
		out: []UnsignedType{UnsignedTypeI32},
	}
)

// valueTypeToUnsignedType converts a wasm value type to the type on the operand stack.
func valueTypeToUnsignedType(vt api.ValueType) UnsignedType {
	switch vt {
	case api.ValueTypeI32:
		return UnsignedTypeI32
	case api.ValueTypeI64:
		return UnsignedTypeI64
	case api.ValueTypeF32:
		return UnsignedTypeF32
	case api.ValueTypeF64:
		return UnsignedTypeF64
	}
	return UnsignedTypeUnknown
}

func valueTypesToUnsignedTypes(vts []api.ValueType) []UnsignedType {
	ret := make([]UnsignedType, len(vts))
	for i, vt := range vts {
		ret[i] = valueTypeToUnsignedType(vt)
	}
	return ret
}

func unop(kind OperationKind, b1 byte) Operation {
	return Operation{Kind: kind, B1: b1}
}

// numericOperation returns the signature and operation of the numeric opcodes, in the range of i32.eqz to
// i64.extend32_s. ok is false for any other opcode.
func numericOperation(op wasm.Opcode) (s *signature, o Operation, ok bool) {
	ok = true
	switch op {
	case wasm.OpcodeI32Eqz:
		s, o = signature_I32_I32, unop(OperationKindEqz, byte(UnsignedInt32))
	case wasm.OpcodeI32Eq:
		s, o = signature_I32I32_I32, unop(OperationKindEq, byte(UnsignedTypeI32))
	case wasm.OpcodeI32Ne:
		s, o = signature_I32I32_I32, unop(OperationKindNe, byte(UnsignedTypeI32))
	case wasm.OpcodeI32LtS:
		s, o = signature_I32I32_I32, unop(OperationKindLt, byte(SignedTypeInt32))
	case wasm.OpcodeI32LtU:
		s, o = signature_I32I32_I32, unop(OperationKindLt, byte(SignedTypeUint32))
	case wasm.OpcodeI32GtS:
		s, o = signature_I32I32_I32, unop(OperationKindGt, byte(SignedTypeInt32))
	case wasm.OpcodeI32GtU:
		s, o = signature_I32I32_I32, unop(OperationKindGt, byte(SignedTypeUint32))
	case wasm.OpcodeI32LeS:
		s, o = signature_I32I32_I32, unop(OperationKindLe, byte(SignedTypeInt32))
	case wasm.OpcodeI32LeU:
		s, o = signature_I32I32_I32, unop(OperationKindLe, byte(SignedTypeUint32))
	case wasm.OpcodeI32GeS:
		s, o = signature_I32I32_I32, unop(OperationKindGe, byte(SignedTypeInt32))
	case wasm.OpcodeI32GeU:
		s, o = signature_I32I32_I32, unop(OperationKindGe, byte(SignedTypeUint32))

	case wasm.OpcodeI64Eqz:
		s, o = signature_I64_I32, unop(OperationKindEqz, byte(UnsignedInt64))
	case wasm.OpcodeI64Eq:
		s, o = signature_I64I64_I32, unop(OperationKindEq, byte(UnsignedTypeI64))
	case wasm.OpcodeI64Ne:
		s, o = signature_I64I64_I32, unop(OperationKindNe, byte(UnsignedTypeI64))
	case wasm.OpcodeI64LtS:
		s, o = signature_I64I64_I32, unop(OperationKindLt, byte(SignedTypeInt64))
	case wasm.OpcodeI64LtU:
		s, o = signature_I64I64_I32, unop(OperationKindLt, byte(SignedTypeUint64))
	case wasm.OpcodeI64GtS:
		s, o = signature_I64I64_I32, unop(OperationKindGt, byte(SignedTypeInt64))
	case wasm.OpcodeI64GtU:
		s, o = signature_I64I64_I32, unop(OperationKindGt, byte(SignedTypeUint64))
	case wasm.OpcodeI64LeS:
		s, o = signature_I64I64_I32, unop(OperationKindLe, byte(SignedTypeInt64))
	case wasm.OpcodeI64LeU:
		s, o = signature_I64I64_I32, unop(OperationKindLe, byte(SignedTypeUint64))
	case wasm.OpcodeI64GeS:
		s, o = signature_I64I64_I32, unop(OperationKindGe, byte(SignedTypeInt64))
	case wasm.OpcodeI64GeU:
		s, o = signature_I64I64_I32, unop(OperationKindGe, byte(SignedTypeUint64))

	case wasm.OpcodeF32Eq:
		s, o = signature_F32F32_I32, unop(OperationKindEq, byte(UnsignedTypeF32))
	case wasm.OpcodeF32Ne:
		s, o = signature_F32F32_I32, unop(OperationKindNe, byte(UnsignedTypeF32))
	case wasm.OpcodeF32Lt:
		s, o = signature_F32F32_I32, unop(OperationKindLt, byte(SignedTypeFloat32))
	case wasm.OpcodeF32Gt:
		s, o = signature_F32F32_I32, unop(OperationKindGt, byte(SignedTypeFloat32))
	case wasm.OpcodeF32Le:
		s, o = signature_F32F32_I32, unop(OperationKindLe, byte(SignedTypeFloat32))
	case wasm.OpcodeF32Ge:
		s, o = signature_F32F32_I32, unop(OperationKindGe, byte(SignedTypeFloat32))

	case wasm.OpcodeF64Eq:
		s, o = signature_F64F64_I32, unop(OperationKindEq, byte(UnsignedTypeF64))
	case wasm.OpcodeF64Ne:
		s, o = signature_F64F64_I32, unop(OperationKindNe, byte(UnsignedTypeF64))
	case wasm.OpcodeF64Lt:
		s, o = signature_F64F64_I32, unop(OperationKindLt, byte(SignedTypeFloat64))
	case wasm.OpcodeF64Gt:
		s, o = signature_F64F64_I32, unop(OperationKindGt, byte(SignedTypeFloat64))
	case wasm.OpcodeF64Le:
		s, o = signature_F64F64_I32, unop(OperationKindLe, byte(SignedTypeFloat64))
	case wasm.OpcodeF64Ge:
		s, o = signature_F64F64_I32, unop(OperationKindGe, byte(SignedTypeFloat64))

	case wasm.OpcodeI32Clz:
		s, o = signature_I32_I32, unop(OperationKindClz, byte(UnsignedInt32))
	case wasm.OpcodeI32Ctz:
		s, o = signature_I32_I32, unop(OperationKindCtz, byte(UnsignedInt32))
	case wasm.OpcodeI32Popcnt:
		s, o = signature_I32_I32, unop(OperationKindPopcnt, byte(UnsignedInt32))
	case wasm.OpcodeI32Add:
		s, o = signature_I32I32_I32, unop(OperationKindAdd, byte(UnsignedTypeI32))
	case wasm.OpcodeI32Sub:
		s, o = signature_I32I32_I32, unop(OperationKindSub, byte(UnsignedTypeI32))
	case wasm.OpcodeI32Mul:
		s, o = signature_I32I32_I32, unop(OperationKindMul, byte(UnsignedTypeI32))
	case wasm.OpcodeI32DivS:
		s, o = signature_I32I32_I32, unop(OperationKindDiv, byte(SignedTypeInt32))
	case wasm.OpcodeI32DivU:
		s, o = signature_I32I32_I32, unop(OperationKindDiv, byte(SignedTypeUint32))
	case wasm.OpcodeI32RemS:
		s, o = signature_I32I32_I32, unop(OperationKindRem, byte(SignedInt32))
	case wasm.OpcodeI32RemU:
		s, o = signature_I32I32_I32, unop(OperationKindRem, byte(SignedUint32))
	case wasm.OpcodeI32And:
		s, o = signature_I32I32_I32, unop(OperationKindAnd, byte(UnsignedInt32))
	case wasm.OpcodeI32Or:
		s, o = signature_I32I32_I32, unop(OperationKindOr, byte(UnsignedInt32))
	case wasm.OpcodeI32Xor:
		s, o = signature_I32I32_I32, unop(OperationKindXor, byte(UnsignedInt32))
	case wasm.OpcodeI32Shl:
		s, o = signature_I32I32_I32, unop(OperationKindShl, byte(UnsignedInt32))
	case wasm.OpcodeI32ShrS:
		s, o = signature_I32I32_I32, unop(OperationKindShr, byte(SignedInt32))
	case wasm.OpcodeI32ShrU:
		s, o = signature_I32I32_I32, unop(OperationKindShr, byte(SignedUint32))
	case wasm.OpcodeI32Rotl:
		s, o = signature_I32I32_I32, unop(OperationKindRotl, byte(UnsignedInt32))
	case wasm.OpcodeI32Rotr:
		s, o = signature_I32I32_I32, unop(OperationKindRotr, byte(UnsignedInt32))

	case wasm.OpcodeI64Clz:
		s, o = signature_I64_I64, unop(OperationKindClz, byte(UnsignedInt64))
	case wasm.OpcodeI64Ctz:
		s, o = signature_I64_I64, unop(OperationKindCtz, byte(UnsignedInt64))
	case wasm.OpcodeI64Popcnt:
		s, o = signature_I64_I64, unop(OperationKindPopcnt, byte(UnsignedInt64))
	case wasm.OpcodeI64Add:
		s, o = signature_I64I64_I64, unop(OperationKindAdd, byte(UnsignedTypeI64))
	case wasm.OpcodeI64Sub:
		s, o = signature_I64I64_I64, unop(OperationKindSub, byte(UnsignedTypeI64))
	case wasm.OpcodeI64Mul:
		s, o = signature_I64I64_I64, unop(OperationKindMul, byte(UnsignedTypeI64))
	case wasm.OpcodeI64DivS:
		s, o = signature_I64I64_I64, unop(OperationKindDiv, byte(SignedTypeInt64))
	case wasm.OpcodeI64DivU:
		s, o = signature_I64I64_I64, unop(OperationKindDiv, byte(SignedTypeUint64))
	case wasm.OpcodeI64RemS:
		s, o = signature_I64I64_I64, unop(OperationKindRem, byte(SignedInt64))
	case wasm.OpcodeI64RemU:
		s, o = signature_I64I64_I64, unop(OperationKindRem, byte(SignedUint64))
	case wasm.OpcodeI64And:
		s, o = signature_I64I64_I64, unop(OperationKindAnd, byte(UnsignedInt64))
	case wasm.OpcodeI64Or:
		s, o = signature_I64I64_I64, unop(OperationKindOr, byte(UnsignedInt64))
	case wasm.OpcodeI64Xor:
		s, o = signature_I64I64_I64, unop(OperationKindXor, byte(UnsignedInt64))
	case wasm.OpcodeI64Shl:
		s, o = signature_I64I64_I64, unop(OperationKindShl, byte(UnsignedInt64))
	case wasm.OpcodeI64ShrS:
		s, o = signature_I64I64_I64, unop(OperationKindShr, byte(SignedInt64))
	case wasm.OpcodeI64ShrU:
		s, o = signature_I64I64_I64, unop(OperationKindShr, byte(SignedUint64))
	case wasm.OpcodeI64Rotl:
		s, o = signature_I64I64_I64, unop(OperationKindRotl, byte(UnsignedInt64))
	case wasm.OpcodeI64Rotr:
		s, o = signature_I64I64_I64, unop(OperationKindRotr, byte(UnsignedInt64))

	case wasm.OpcodeF32Abs:
		s, o = signature_F32_F32, unop(OperationKindAbs, byte(Float32))
	case wasm.OpcodeF32Neg:
		s, o = signature_F32_F32, unop(OperationKindNeg, byte(Float32))
	case wasm.OpcodeF32Ceil:
		s, o = signature_F32_F32, unop(OperationKindCeil, byte(Float32))
	case wasm.OpcodeF32Floor:
		s, o = signature_F32_F32, unop(OperationKindFloor, byte(Float32))
	case wasm.OpcodeF32Trunc:
		s, o = signature_F32_F32, unop(OperationKindTrunc, byte(Float32))
	case wasm.OpcodeF32Nearest:
		s, o = signature_F32_F32, unop(OperationKindNearest, byte(Float32))
	case wasm.OpcodeF32Sqrt:
		s, o = signature_F32_F32, unop(OperationKindSqrt, byte(Float32))
	case wasm.OpcodeF32Add:
		s, o = signature_F32F32_F32, unop(OperationKindAdd, byte(UnsignedTypeF32))
	case wasm.OpcodeF32Sub:
		s, o = signature_F32F32_F32, unop(OperationKindSub, byte(UnsignedTypeF32))
	case wasm.OpcodeF32Mul:
		s, o = signature_F32F32_F32, unop(OperationKindMul, byte(UnsignedTypeF32))
	case wasm.OpcodeF32Div:
		s, o = signature_F32F32_F32, unop(OperationKindDiv, byte(SignedTypeFloat32))
	case wasm.OpcodeF32Min:
		s, o = signature_F32F32_F32, unop(OperationKindMin, byte(Float32))
	case wasm.OpcodeF32Max:
		s, o = signature_F32F32_F32, unop(OperationKindMax, byte(Float32))
	case wasm.OpcodeF32Copysign:
		s, o = signature_F32F32_F32, unop(OperationKindCopysign, byte(Float32))

	case wasm.OpcodeF64Abs:
		s, o = signature_F64_F64, unop(OperationKindAbs, byte(Float64))
	case wasm.OpcodeF64Neg:
		s, o = signature_F64_F64, unop(OperationKindNeg, byte(Float64))
	case wasm.OpcodeF64Ceil:
		s, o = signature_F64_F64, unop(OperationKindCeil, byte(Float64))
	case wasm.OpcodeF64Floor:
		s, o = signature_F64_F64, unop(OperationKindFloor, byte(Float64))
	case wasm.OpcodeF64Trunc:
		s, o = signature_F64_F64, unop(OperationKindTrunc, byte(Float64))
	case wasm.OpcodeF64Nearest:
		s, o = signature_F64_F64, unop(OperationKindNearest, byte(Float64))
	case wasm.OpcodeF64Sqrt:
		s, o = signature_F64_F64, unop(OperationKindSqrt, byte(Float64))
	case wasm.OpcodeF64Add:
		s, o = signature_F64F64_F64, unop(OperationKindAdd, byte(UnsignedTypeF64))
	case wasm.OpcodeF64Sub:
		s, o = signature_F64F64_F64, unop(OperationKindSub, byte(UnsignedTypeF64))
	case wasm.OpcodeF64Mul:
		s, o = signature_F64F64_F64, unop(OperationKindMul, byte(UnsignedTypeF64))
	case wasm.OpcodeF64Div:
		s, o = signature_F64F64_F64, unop(OperationKindDiv, byte(SignedTypeFloat64))
	case wasm.OpcodeF64Min:
		s, o = signature_F64F64_F64, unop(OperationKindMin, byte(Float64))
	case wasm.OpcodeF64Max:
		s, o = signature_F64F64_F64, unop(OperationKindMax, byte(Float64))
	case wasm.OpcodeF64Copysign:
		s, o = signature_F64F64_F64, unop(OperationKindCopysign, byte(Float64))

	case wasm.OpcodeI32WrapI64:
		s, o = signature_I64_I32, Operation{Kind: OperationKindI32WrapFromI64}
	case wasm.OpcodeI32TruncF32S:
		s, o = signature_F32_I32, truncOp(Float32, SignedInt32, false)
	case wasm.OpcodeI32TruncF32U:
		s, o = signature_F32_I32, truncOp(Float32, SignedUint32, false)
	case wasm.OpcodeI32TruncF64S:
		s, o = signature_F64_I32, truncOp(Float64, SignedInt32, false)
	case wasm.OpcodeI32TruncF64U:
		s, o = signature_F64_I32, truncOp(Float64, SignedUint32, false)
	case wasm.OpcodeI64ExtendI32S:
		s, o = signature_I32_I64, Operation{Kind: OperationKindExtend, B3: true}
	case wasm.OpcodeI64ExtendI32U:
		s, o = signature_I32_I64, Operation{Kind: OperationKindExtend}
	case wasm.OpcodeI64TruncF32S:
		s, o = signature_F32_I64, truncOp(Float32, SignedInt64, false)
	case wasm.OpcodeI64TruncF32U:
		s, o = signature_F32_I64, truncOp(Float32, SignedUint64, false)
	case wasm.OpcodeI64TruncF64S:
		s, o = signature_F64_I64, truncOp(Float64, SignedInt64, false)
	case wasm.OpcodeI64TruncF64U:
		s, o = signature_F64_I64, truncOp(Float64, SignedUint64, false)
	case wasm.OpcodeF32ConvertI32s:
		s, o = signature_I32_F32, convertOp(SignedInt32, Float32)
	case wasm.OpcodeF32ConvertI32U:
		s, o = signature_I32_F32, convertOp(SignedUint32, Float32)
	case wasm.OpcodeF32ConvertI64S:
		s, o = signature_I64_F32, convertOp(SignedInt64, Float32)
	case wasm.OpcodeF32ConvertI64U:
		s, o = signature_I64_F32, convertOp(SignedUint64, Float32)
	case wasm.OpcodeF32DemoteF64:
		s, o = signature_F64_F32, Operation{Kind: OperationKindF32DemoteFromF64}
	case wasm.OpcodeF64ConvertI32S:
		s, o = signature_I32_F64, convertOp(SignedInt32, Float64)
	case wasm.OpcodeF64ConvertI32U:
		s, o = signature_I32_F64, convertOp(SignedUint32, Float64)
	case wasm.OpcodeF64ConvertI64S:
		s, o = signature_I64_F64, convertOp(SignedInt64, Float64)
	case wasm.OpcodeF64ConvertI64U:
		s, o = signature_I64_F64, convertOp(SignedUint64, Float64)
	case wasm.OpcodeF64PromoteF32:
		s, o = signature_F32_F64, Operation{Kind: OperationKindF64PromoteFromF32}
	case wasm.OpcodeI32ReinterpretF32:
		s, o = signature_F32_I32, Operation{Kind: OperationKindI32ReinterpretFromF32}
	case wasm.OpcodeI64ReinterpretF64:
		s, o = signature_F64_I64, Operation{Kind: OperationKindI64ReinterpretFromF64}
	case wasm.OpcodeF32ReinterpretI32:
		s, o = signature_I32_F32, Operation{Kind: OperationKindF32ReinterpretFromI32}
	case wasm.OpcodeF64ReinterpretI64:
		s, o = signature_I64_F64, Operation{Kind: OperationKindF64ReinterpretFromI64}

	case wasm.OpcodeI32Extend8S:
		s, o = signature_I32_I32, Operation{Kind: OperationKindSignExtend32From8}
	case wasm.OpcodeI32Extend16S:
		s, o = signature_I32_I32, Operation{Kind: OperationKindSignExtend32From16}
	case wasm.OpcodeI64Extend8S:
		s, o = signature_I64_I64, Operation{Kind: OperationKindSignExtend64From8}
	case wasm.OpcodeI64Extend16S:
		s, o = signature_I64_I64, Operation{Kind: OperationKindSignExtend64From16}
	case wasm.OpcodeI64Extend32S:
		s, o = signature_I64_I64, Operation{Kind: OperationKindSignExtend64From32}
	default:
		ok = false
	}
	return
}

// truncSatOperation returns the signature and operation of the saturating truncations, sub-opcodes 0 to 7 of
// wasm.OpcodeMiscPrefix.
func truncSatOperation(op wasm.OpcodeMisc) (*signature, Operation) {
	switch op {
	case wasm.OpcodeMiscI32TruncSatF32S:
		return signature_F32_I32, truncOp(Float32, SignedInt32, true)
	case wasm.OpcodeMiscI32TruncSatF32U:
		return signature_F32_I32, truncOp(Float32, SignedUint32, true)
	case wasm.OpcodeMiscI32TruncSatF64S:
		return signature_F64_I32, truncOp(Float64, SignedInt32, true)
	case wasm.OpcodeMiscI32TruncSatF64U:
		return signature_F64_I32, truncOp(Float64, SignedUint32, true)
	case wasm.OpcodeMiscI64TruncSatF32S:
		return signature_F32_I64, truncOp(Float32, SignedInt64, true)
	case wasm.OpcodeMiscI64TruncSatF32U:
		return signature_F32_I64, truncOp(Float32, SignedUint64, true)
	case wasm.OpcodeMiscI64TruncSatF64S:
		return signature_F64_I64, truncOp(Float64, SignedInt64, true)
	default: // wasm.OpcodeMiscI64TruncSatF64U
		return signature_F64_I64, truncOp(Float64, SignedUint64, true)
	}
}

func truncOp(in Float, out SignedInt, nonTrapping bool) Operation {
	return Operation{Kind: OperationKindITruncFromF, B1: byte(in), B2: byte(out), B3: nonTrapping}
}

func convertOp(in SignedInt, out Float) Operation {
	return Operation{Kind: OperationKindFConvertFromI, B1: byte(in), B2: byte(out)}
}

// memoryAccessInfo describes a plain load or store opcode.
type memoryAccessInfo struct {
	s *signature
	o Operation
	// widthLog2 is the natural alignment exponent.
	widthLog2 uint32
}

// memoryAccessOperation returns the access of the load and store opcodes, i32.load to i64.store32.
func memoryAccessOperation(op wasm.Opcode) (info memoryAccessInfo, ok bool) {
	ok = true
	switch op {
	case wasm.OpcodeI32Load:
		info = memoryAccessInfo{signature_I32_I32, unop(OperationKindLoad, byte(UnsignedTypeI32)), 2}
	case wasm.OpcodeI64Load:
		info = memoryAccessInfo{signature_I32_I64, unop(OperationKindLoad, byte(UnsignedTypeI64)), 3}
	case wasm.OpcodeF32Load:
		info = memoryAccessInfo{signature_I32_F32, unop(OperationKindLoad, byte(UnsignedTypeF32)), 2}
	case wasm.OpcodeF64Load:
		info = memoryAccessInfo{signature_I32_F64, unop(OperationKindLoad, byte(UnsignedTypeF64)), 3}
	case wasm.OpcodeI32Load8S:
		info = memoryAccessInfo{signature_I32_I32, unop(OperationKindLoad8, byte(SignedInt32)), 0}
	case wasm.OpcodeI32Load8U:
		info = memoryAccessInfo{signature_I32_I32, unop(OperationKindLoad8, byte(SignedUint32)), 0}
	case wasm.OpcodeI32Load16S:
		info = memoryAccessInfo{signature_I32_I32, unop(OperationKindLoad16, byte(SignedInt32)), 1}
	case wasm.OpcodeI32Load16U:
		info = memoryAccessInfo{signature_I32_I32, unop(OperationKindLoad16, byte(SignedUint32)), 1}
	case wasm.OpcodeI64Load8S:
		info = memoryAccessInfo{signature_I32_I64, unop(OperationKindLoad8, byte(SignedInt64)), 0}
	case wasm.OpcodeI64Load8U:
		info = memoryAccessInfo{signature_I32_I64, unop(OperationKindLoad8, byte(SignedUint64)), 0}
	case wasm.OpcodeI64Load16S:
		info = memoryAccessInfo{signature_I32_I64, unop(OperationKindLoad16, byte(SignedInt64)), 1}
	case wasm.OpcodeI64Load16U:
		info = memoryAccessInfo{signature_I32_I64, unop(OperationKindLoad16, byte(SignedUint64)), 1}
	case wasm.OpcodeI64Load32S:
		info = memoryAccessInfo{signature_I32_I64, Operation{Kind: OperationKindLoad32, B3: true}, 2}
	case wasm.OpcodeI64Load32U:
		info = memoryAccessInfo{signature_I32_I64, Operation{Kind: OperationKindLoad32}, 2}
	case wasm.OpcodeI32Store:
		info = memoryAccessInfo{signature_I32I32_None, unop(OperationKindStore, byte(UnsignedTypeI32)), 2}
	case wasm.OpcodeI64Store:
		info = memoryAccessInfo{signature_I32I64_None, unop(OperationKindStore, byte(UnsignedTypeI64)), 3}
	case wasm.OpcodeF32Store:
		info = memoryAccessInfo{signature_I32F32_None, unop(OperationKindStore, byte(UnsignedTypeF32)), 2}
	case wasm.OpcodeF64Store:
		info = memoryAccessInfo{signature_I32F64_None, unop(OperationKindStore, byte(UnsignedTypeF64)), 3}
	case wasm.OpcodeI32Store8:
		info = memoryAccessInfo{signature_I32I32_None, unop(OperationKindStore8, byte(UnsignedInt32)), 0}
	case wasm.OpcodeI32Store16:
		info = memoryAccessInfo{signature_I32I32_None, unop(OperationKindStore16, byte(UnsignedInt32)), 1}
	case wasm.OpcodeI64Store8:
		info = memoryAccessInfo{signature_I32I64_None, unop(OperationKindStore8, byte(UnsignedInt64)), 0}
	case wasm.OpcodeI64Store16:
		info = memoryAccessInfo{signature_I32I64_None, unop(OperationKindStore16, byte(UnsignedInt64)), 1}
	case wasm.OpcodeI64Store32:
		info = memoryAccessInfo{signature_I32I64_None, Operation{Kind: OperationKindStore32}, 2}
	default:
		ok = false
	}
	return
}

// atomicOperation returns the signature and operation of the threads opcodes, excluding atomic.fence.
func atomicOperation(op wasm.OpcodeAtomic) (info memoryAccessInfo, ok bool) {
	switch op {
	case wasm.OpcodeAtomicMemoryNotify:
		return memoryAccessInfo{signature_I32I32_I32, Operation{Kind: OperationKindAtomicMemoryNotify}, 2}, true
	case wasm.OpcodeAtomicMemoryWait32:
		return memoryAccessInfo{signature_I32I32I64_I32,
			unop(OperationKindAtomicMemoryWait, byte(UnsignedInt32)), 2}, true
	case wasm.OpcodeAtomicMemoryWait64:
		return memoryAccessInfo{signature_I32I64I64_I32,
			unop(OperationKindAtomicMemoryWait, byte(UnsignedInt64)), 3}, true
	}
	if a, found := wasm.AtomicLoadAccess(op); found {
		s, t := signature_I32_I32, UnsignedInt32
		if a.Is64 {
			s, t = signature_I32_I64, UnsignedInt64
		}
		return memoryAccessInfo{s, unop(OperationKindAtomicLoad, byte(t)), widthLog2(a.Width)}, true
	}
	if a, found := wasm.AtomicStoreAccess(op); found {
		s, t := signature_I32I32_None, UnsignedInt32
		if a.Is64 {
			s, t = signature_I32I64_None, UnsignedInt64
		}
		return memoryAccessInfo{s, unop(OperationKindAtomicStore, byte(t)), widthLog2(a.Width)}, true
	}
	if rmw, a, found := wasm.AtomicRMWAccess(op); found {
		if rmw == wasm.AtomicRMWOpCmpxchg {
			s, t := signature_I32I32I32_I32, UnsignedInt32
			if a.Is64 {
				s, t = signature_I32I64I64_I64, UnsignedInt64
			}
			return memoryAccessInfo{s, unop(OperationKindAtomicCmpxchg, byte(t)), widthLog2(a.Width)}, true
		}
		s, t := signature_I32I32_I32, UnsignedInt32
		if a.Is64 {
			s, t = signature_I32I64_I64, UnsignedInt64
		}
		o := Operation{Kind: OperationKindAtomicRMW, B1: byte(t), B2: byte(rmw)}
		return memoryAccessInfo{s, o, widthLog2(a.Width)}, true
	}
	return memoryAccessInfo{}, false
}

func widthLog2(width uint32) uint32 {
	switch width {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	}
	return 3
}
