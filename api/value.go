package api

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a typed WebAssembly value, as passed to and returned from Function.Call.
type Value struct {
	typ ValueType
	raw uint64
}

// I32 returns a ValueTypeI32 value.
func I32(v int32) Value { return Value{typ: ValueTypeI32, raw: EncodeI32(v)} }

// I64 returns a ValueTypeI64 value.
func I64(v int64) Value { return Value{typ: ValueTypeI64, raw: EncodeI64(v)} }

// F32 returns a ValueTypeF32 value.
func F32(v float32) Value { return Value{typ: ValueTypeF32, raw: EncodeF32(v)} }

// F64 returns a ValueTypeF64 value.
func F64(v float64) Value { return Value{typ: ValueTypeF64, raw: EncodeF64(v)} }

// ValueFromRaw returns a value of the given type from its raw encoding. See ValueType for the encoding rules.
func ValueFromRaw(t ValueType, raw uint64) Value {
	if t == ValueTypeI32 {
		raw = uint64(uint32(raw))
	}
	return Value{typ: t, raw: raw}
}

// Type returns the value type.
func (v Value) Type() ValueType { return v.typ }

// Raw returns the raw encoding of the value. See ValueType for the encoding rules.
func (v Value) Raw() uint64 { return v.raw }

// I32 returns the value as an int32. The result is meaningless unless Type is ValueTypeI32.
func (v Value) I32() int32 { return int32(uint32(v.raw)) }

// I64 returns the value as an int64. The result is meaningless unless Type is ValueTypeI64.
func (v Value) I64() int64 { return int64(v.raw) }

// F32 returns the value as a float32. The result is meaningless unless Type is ValueTypeF32.
func (v Value) F32() float32 { return DecodeF32(v.raw) }

// F64 returns the value as a float64. The result is meaningless unless Type is ValueTypeF64.
func (v Value) F64() float64 { return DecodeF64(v.raw) }

// String implements fmt.Stringer
func (v Value) String() string {
	switch v.typ {
	case ValueTypeI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case ValueTypeI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case ValueTypeF32:
		return fmt.Sprintf("f32:%v", v.F32())
	case ValueTypeF64:
		return fmt.Sprintf("f64:%v", v.F64())
	}
	return fmt.Sprintf("%s:%#x", ValueTypeName(v.typ), v.raw)
}

// ParseValue parses the form printed by Value.String, ex. "i32:42" or "f64:-1.5".
func ParseValue(s string) (Value, error) {
	typ, lit, ok := strings.Cut(s, ":")
	if !ok {
		return Value{}, fmt.Errorf("invalid value %q: expected type:literal", s)
	}
	switch typ {
	case "i32":
		v, err := strconv.ParseInt(lit, 0, 32)
		if err != nil {
			// Allow unsigned literals such as 0xffffffff.
			u, uerr := strconv.ParseUint(lit, 0, 32)
			if uerr != nil {
				return Value{}, fmt.Errorf("invalid i32 %q: %w", lit, err)
			}
			return I32(int32(uint32(u))), nil
		}
		return I32(int32(v)), nil
	case "i64":
		v, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(lit, 0, 64)
			if uerr != nil {
				return Value{}, fmt.Errorf("invalid i64 %q: %w", lit, err)
			}
			return I64(int64(u)), nil
		}
		return I64(v), nil
	case "f32":
		v, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid f32 %q: %w", lit, err)
		}
		return F32(float32(v)), nil
	case "f64":
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid f64 %q: %w", lit, err)
		}
		if math.IsNaN(v) {
			return F64(math.NaN()), nil
		}
		return F64(v), nil
	}
	return Value{}, fmt.Errorf("invalid value %q: unknown type %q", s, typ)
}
