package machine

import (
	"math"
	"math/bits"

	"github.com/wasmtier/wasmtier/internal/moremath"
	"github.com/wasmtier/wasmtier/internal/wasmir"
	"github.com/wasmtier/wasmtier/internal/wasmruntime"
)

// binop evaluates an integer operation on raw stack values. i32 results are zero-extended.
func binop(op Opcode, x, y uint64) uint64 {
	switch op {
	case OpI32Add:
		return uint64(uint32(x) + uint32(y))
	case OpI32Sub:
		return uint64(uint32(x) - uint32(y))
	case OpI32Mul:
		return uint64(uint32(x) * uint32(y))
	case OpI32And:
		return uint64(uint32(x) & uint32(y))
	case OpI32Or:
		return uint64(uint32(x) | uint32(y))
	case OpI32Xor:
		return uint64(uint32(x) ^ uint32(y))
	case OpI32Shl:
		return uint64(uint32(x) << (y & 31))
	case OpI32ShrS:
		return uint64(uint32(int32(x) >> (y & 31)))
	case OpI32ShrU:
		return uint64(uint32(x) >> (y & 31))
	case OpI64Add:
		return x + y
	case OpI64Sub:
		return x - y
	case OpI64Mul:
		return x * y
	case OpI64And:
		return x & y
	case OpI64Or:
		return x | y
	case OpI64Xor:
		return x ^ y
	case OpI64Shl:
		return x << (y & 63)
	case OpI64ShrS:
		return uint64(int64(x) >> (y & 63))
	case OpI64ShrU:
		return x >> (y & 63)
	case OpI32Eq:
		return b2u(uint32(x) == uint32(y))
	case OpI32Ne:
		return b2u(uint32(x) != uint32(y))
	case OpI32LtS:
		return b2u(int32(x) < int32(y))
	case OpI32LtU:
		return b2u(uint32(x) < uint32(y))
	case OpI32GtS:
		return b2u(int32(x) > int32(y))
	case OpI32GtU:
		return b2u(uint32(x) > uint32(y))
	case OpI32LeS:
		return b2u(int32(x) <= int32(y))
	case OpI32LeU:
		return b2u(uint32(x) <= uint32(y))
	case OpI32GeS:
		return b2u(int32(x) >= int32(y))
	case OpI32GeU:
		return b2u(uint32(x) >= uint32(y))
	case OpI64Eq:
		return b2u(x == y)
	case OpI64Ne:
		return b2u(x != y)
	case OpI64LtS:
		return b2u(int64(x) < int64(y))
	case OpI64LtU:
		return b2u(x < y)
	case OpI64GtS:
		return b2u(int64(x) > int64(y))
	case OpI64GtU:
		return b2u(x > y)
	case OpI64LeS:
		return b2u(int64(x) <= int64(y))
	case OpI64LeU:
		return b2u(x <= y)
	case OpI64GeS:
		return b2u(int64(x) >= int64(y))
	case OpI64GeU:
		return b2u(x >= y)
	}
	panic("BUG: not a binop: " + op.String())
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func f32(v uint64) float32 { return math.Float32frombits(uint32(v)) }

func f64(v uint64) float64 { return math.Float64frombits(v) }

func rf32(v float32) uint64 { return uint64(math.Float32bits(v)) }

func rf64(v float64) uint64 { return math.Float64bits(v) }

// numeric executes an instruction of OpNumeric on the top of the stack.
func (ce *callEngine) numeric(in *Instr) {
	switch in.Kind {
	case wasmir.OperationKindEq, wasmir.OperationKindNe:
		y, x := ce.pop(), ce.pop()
		var eq bool
		if wasmir.UnsignedType(in.B1) == wasmir.UnsignedTypeF32 {
			eq = f32(x) == f32(y)
		} else {
			eq = f64(x) == f64(y)
		}
		ce.push(b2u(eq == (in.Kind == wasmir.OperationKindEq)))
	case wasmir.OperationKindLt, wasmir.OperationKindGt, wasmir.OperationKindLe, wasmir.OperationKindGe:
		y, x := ce.pop(), ce.pop()
		var a, b float64
		if wasmir.SignedType(in.B1) == wasmir.SignedTypeFloat32 {
			a, b = float64(f32(x)), float64(f32(y))
		} else {
			a, b = f64(x), f64(y)
		}
		var r bool
		switch in.Kind {
		case wasmir.OperationKindLt:
			r = a < b
		case wasmir.OperationKindGt:
			r = a > b
		case wasmir.OperationKindLe:
			r = a <= b
		default:
			r = a >= b
		}
		ce.push(b2u(r))
	case wasmir.OperationKindAdd, wasmir.OperationKindSub, wasmir.OperationKindMul:
		y, x := ce.pop(), ce.pop()
		if wasmir.UnsignedType(in.B1) == wasmir.UnsignedTypeF32 {
			a, b := f32(x), f32(y)
			switch in.Kind {
			case wasmir.OperationKindAdd:
				ce.push(rf32(a + b))
			case wasmir.OperationKindSub:
				ce.push(rf32(a - b))
			default:
				ce.push(rf32(a * b))
			}
		} else {
			a, b := f64(x), f64(y)
			switch in.Kind {
			case wasmir.OperationKindAdd:
				ce.push(rf64(a + b))
			case wasmir.OperationKindSub:
				ce.push(rf64(a - b))
			default:
				ce.push(rf64(a * b))
			}
		}
	case wasmir.OperationKindClz, wasmir.OperationKindCtz, wasmir.OperationKindPopcnt:
		v := ce.pop()
		is32 := wasmir.UnsignedInt(in.B1) == wasmir.UnsignedInt32
		var r int
		switch {
		case in.Kind == wasmir.OperationKindClz && is32:
			r = bits.LeadingZeros32(uint32(v))
		case in.Kind == wasmir.OperationKindClz:
			r = bits.LeadingZeros64(v)
		case in.Kind == wasmir.OperationKindCtz && is32:
			r = bits.TrailingZeros32(uint32(v))
		case in.Kind == wasmir.OperationKindCtz:
			r = bits.TrailingZeros64(v)
		case is32:
			r = bits.OnesCount32(uint32(v))
		default:
			r = bits.OnesCount64(v)
		}
		ce.push(uint64(r))
	case wasmir.OperationKindDiv:
		y, x := ce.pop(), ce.pop()
		ce.push(div(wasmir.SignedType(in.B1), x, y))
	case wasmir.OperationKindRem:
		y, x := ce.pop(), ce.pop()
		ce.push(rem(wasmir.SignedInt(in.B1), x, y))
	case wasmir.OperationKindRotl, wasmir.OperationKindRotr:
		y, x := ce.pop(), ce.pop()
		k := int(y & 63)
		if in.Kind == wasmir.OperationKindRotr {
			k = -k
		}
		if wasmir.UnsignedInt(in.B1) == wasmir.UnsignedInt32 {
			ce.push(uint64(bits.RotateLeft32(uint32(x), k%32)))
		} else {
			ce.push(bits.RotateLeft64(x, k))
		}
	case wasmir.OperationKindAbs, wasmir.OperationKindNeg, wasmir.OperationKindCeil, wasmir.OperationKindFloor,
		wasmir.OperationKindTrunc, wasmir.OperationKindNearest, wasmir.OperationKindSqrt:
		ce.push(floatUnary(in.Kind, wasmir.Float(in.B1), ce.pop()))
	case wasmir.OperationKindMin, wasmir.OperationKindMax, wasmir.OperationKindCopysign:
		y, x := ce.pop(), ce.pop()
		ce.push(floatBinary(in.Kind, wasmir.Float(in.B1), x, y))
	case wasmir.OperationKindI32WrapFromI64:
		ce.push(uint64(uint32(ce.pop())))
	case wasmir.OperationKindITruncFromF:
		v := ce.pop()
		var f float64
		if wasmir.Float(in.B1) == wasmir.Float32 {
			f = float64(f32(v))
		} else {
			f = f64(v)
		}
		ce.push(truncate(f, wasmir.SignedInt(in.B2), in.B3))
	case wasmir.OperationKindFConvertFromI:
		ce.push(convert(ce.pop(), wasmir.SignedInt(in.B1), wasmir.Float(in.B2)))
	case wasmir.OperationKindF32DemoteFromF64:
		ce.push(rf32(float32(f64(ce.pop()))))
	case wasmir.OperationKindF64PromoteFromF32:
		ce.push(rf64(float64(f32(ce.pop()))))
	case wasmir.OperationKindI32ReinterpretFromF32, wasmir.OperationKindF32ReinterpretFromI32:
		ce.push(uint64(uint32(ce.pop())))
	case wasmir.OperationKindI64ReinterpretFromF64, wasmir.OperationKindF64ReinterpretFromI64:
		// The bits are unchanged.
	case wasmir.OperationKindExtend:
		v := ce.pop()
		if in.B3 {
			ce.push(uint64(int64(int32(v))))
		} else {
			ce.push(uint64(uint32(v)))
		}
	case wasmir.OperationKindSignExtend32From8:
		ce.push(uint64(uint32(int32(int8(ce.pop())))))
	case wasmir.OperationKindSignExtend32From16:
		ce.push(uint64(uint32(int32(int16(ce.pop())))))
	case wasmir.OperationKindSignExtend64From8:
		ce.push(uint64(int64(int8(ce.pop()))))
	case wasmir.OperationKindSignExtend64From16:
		ce.push(uint64(int64(int16(ce.pop()))))
	case wasmir.OperationKindSignExtend64From32:
		ce.push(uint64(int64(int32(ce.pop()))))
	default:
		panic("BUG: unexpected numeric operation " + in.Kind.String())
	}
}

func div(t wasmir.SignedType, x, y uint64) uint64 {
	switch t {
	case wasmir.SignedTypeInt32:
		a, b := int32(x), int32(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if a == math.MinInt32 && b == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return uint64(uint32(a / b))
	case wasmir.SignedTypeUint32:
		a, b := uint32(x), uint32(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(a / b)
	case wasmir.SignedTypeInt64:
		a, b := int64(x), int64(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if a == math.MinInt64 && b == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return uint64(a / b)
	case wasmir.SignedTypeUint64:
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return x / y
	case wasmir.SignedTypeFloat32:
		return rf32(f32(x) / f32(y))
	default:
		return rf64(f64(x) / f64(y))
	}
}

func rem(t wasmir.SignedInt, x, y uint64) uint64 {
	switch t {
	case wasmir.SignedInt32:
		a, b := int32(x), int32(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if b == -1 {
			// MinInt32 % -1 is 0, but overflows in Go on some platforms.
			return 0
		}
		return uint64(uint32(a % b))
	case wasmir.SignedUint32:
		a, b := uint32(x), uint32(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(a % b)
	case wasmir.SignedInt64:
		a, b := int64(x), int64(y)
		if b == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		} else if b == -1 {
			return 0
		}
		return uint64(a % b)
	default:
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return x % y
	}
}

func floatUnary(kind wasmir.OperationKind, t wasmir.Float, v uint64) uint64 {
	if t == wasmir.Float32 {
		switch kind {
		case wasmir.OperationKindAbs:
			return v &^ (1 << 31)
		case wasmir.OperationKindNeg:
			return uint64(uint32(v) ^ (1 << 31))
		case wasmir.OperationKindCeil:
			return rf32(float32(math.Ceil(float64(f32(v)))))
		case wasmir.OperationKindFloor:
			return rf32(float32(math.Floor(float64(f32(v)))))
		case wasmir.OperationKindTrunc:
			return rf32(float32(math.Trunc(float64(f32(v)))))
		case wasmir.OperationKindNearest:
			return rf32(moremath.WasmCompatNearestF32(f32(v)))
		default:
			return rf32(float32(math.Sqrt(float64(f32(v)))))
		}
	}
	switch kind {
	case wasmir.OperationKindAbs:
		return v &^ (1 << 63)
	case wasmir.OperationKindNeg:
		return v ^ (1 << 63)
	case wasmir.OperationKindCeil:
		return rf64(math.Ceil(f64(v)))
	case wasmir.OperationKindFloor:
		return rf64(math.Floor(f64(v)))
	case wasmir.OperationKindTrunc:
		return rf64(math.Trunc(f64(v)))
	case wasmir.OperationKindNearest:
		return rf64(moremath.WasmCompatNearestF64(f64(v)))
	default:
		return rf64(math.Sqrt(f64(v)))
	}
}

func floatBinary(kind wasmir.OperationKind, t wasmir.Float, x, y uint64) uint64 {
	if t == wasmir.Float32 {
		switch kind {
		case wasmir.OperationKindMin:
			return rf32(float32(moremath.WasmCompatMin(float64(f32(x)), float64(f32(y)))))
		case wasmir.OperationKindMax:
			return rf32(float32(moremath.WasmCompatMax(float64(f32(x)), float64(f32(y)))))
		default:
			return uint64(uint32(x)&^(1<<31) | uint32(y)&(1<<31))
		}
	}
	switch kind {
	case wasmir.OperationKindMin:
		return rf64(moremath.WasmCompatMin(f64(x), f64(y)))
	case wasmir.OperationKindMax:
		return rf64(moremath.WasmCompatMax(f64(x), f64(y)))
	default:
		return x&^(1<<63) | y&(1<<63)
	}
}

// truncate converts f, already widened to float64, to an integer. Out of range values trap, or saturate when
// nonTrapping is set, in which case NaN becomes zero.
func truncate(f float64, out wasmir.SignedInt, nonTrapping bool) uint64 {
	if math.IsNaN(f) {
		if nonTrapping {
			return 0
		}
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	v := math.Trunc(f)
	var lo, hi float64 // hi is exclusive
	switch out {
	case wasmir.SignedInt32:
		lo, hi = math.MinInt32, -math.MinInt32
	case wasmir.SignedUint32:
		lo, hi = 0, math.MaxUint32+1
	case wasmir.SignedInt64:
		lo, hi = math.MinInt64, -math.MinInt64
	default:
		lo, hi = 0, 1<<64
	}
	if v < lo || v >= hi {
		if !nonTrapping {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		switch {
		case out == wasmir.SignedInt32 && v < lo:
			return uint64(uint32(1 << 31))
		case out == wasmir.SignedInt32:
			return math.MaxInt32
		case out == wasmir.SignedUint32 && v < lo:
			return 0
		case out == wasmir.SignedUint32:
			return math.MaxUint32
		case out == wasmir.SignedInt64 && v < lo:
			return 1 << 63
		case out == wasmir.SignedInt64:
			return math.MaxInt64
		case v < lo:
			return 0
		default:
			return math.MaxUint64
		}
	}
	switch out {
	case wasmir.SignedInt32:
		return uint64(uint32(int32(v)))
	case wasmir.SignedUint32:
		return uint64(uint32(v))
	case wasmir.SignedInt64:
		return uint64(int64(v))
	default:
		return uint64(v)
	}
}

func convert(v uint64, in wasmir.SignedInt, out wasmir.Float) uint64 {
	if out == wasmir.Float32 {
		switch in {
		case wasmir.SignedInt32:
			return rf32(float32(int32(v)))
		case wasmir.SignedUint32:
			return rf32(float32(uint32(v)))
		case wasmir.SignedInt64:
			return rf32(float32(int64(v)))
		default:
			return rf32(float32(v))
		}
	}
	switch in {
	case wasmir.SignedInt32:
		return rf64(float64(int32(v)))
	case wasmir.SignedUint32:
		return rf64(float64(uint32(v)))
	case wasmir.SignedInt64:
		return rf64(float64(int64(v)))
	default:
		return rf64(float64(v))
	}
}
