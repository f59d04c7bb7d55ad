package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstructionName(t *testing.T) {
	for _, tc := range []struct {
		oc       Opcode
		expected string
	}{
		{oc: OpcodeSelect, expected: "select"},
		{oc: OpcodeI32Store, expected: "i32.store"},
		{oc: OpcodeI64Store32, expected: "i64.store32"},
		{oc: OpcodeMemoryGrow, expected: "memory.grow"},
		{oc: OpcodeBrIf, expected: "br_if"},
		{oc: OpcodeCallIndirect, expected: "call_indirect"},
		{oc: OpcodeI32GeU, expected: "i32.ge_u"},
		{oc: OpcodeI64Eqz, expected: "i64.eqz"},
		{oc: OpcodeF64Ge, expected: "f64.ge"},
		{oc: OpcodeI32Rotr, expected: "i32.rotr"},
		{oc: OpcodeI64Popcnt, expected: "i64.popcnt"},
		{oc: OpcodeF32Copysign, expected: "f32.copysign"},
		{oc: OpcodeF64Nearest, expected: "f64.nearest"},
		{oc: OpcodeI64TruncF64U, expected: "i64.trunc_f64_u"},
		{oc: OpcodeF32ConvertI64U, expected: "f32.convert_i64_u"},
		{oc: OpcodeF64PromoteF32, expected: "f64.promote_f32"},
		{oc: OpcodeF64ReinterpretI64, expected: "f64.reinterpret_i64"},
		{oc: OpcodeI64Extend32S, expected: "i64.extend32_s"},
		{oc: OpcodeAtomicPrefix, expected: "atomic_prefix"},
		{oc: 0x06, expected: ""},
		{oc: 0xd0, expected: ""}, // ref.null
		{oc: 0xfd, expected: ""}, // SIMD prefix
	} {
		require.Equal(t, tc.expected, InstructionName(tc.oc), "%#x", tc.oc)
	}
}

func TestMiscInstructionName(t *testing.T) {
	require.Equal(t, "i64.trunc_sat_f64_u", MiscInstructionName(OpcodeMiscI64TruncSatF64U))
	require.Equal(t, "memory.fill", MiscInstructionName(OpcodeMiscMemoryFill))
	require.Equal(t, "", MiscInstructionName(0x10)) // table.size
}

func TestAtomicInstructionName(t *testing.T) {
	for _, tc := range []struct {
		oc       OpcodeAtomic
		expected string
	}{
		{oc: OpcodeAtomicMemoryNotify, expected: "memory.atomic.notify"},
		{oc: OpcodeAtomicMemoryWait64, expected: "memory.atomic.wait64"},
		{oc: OpcodeAtomicFence, expected: "atomic.fence"},
		{oc: OpcodeAtomicI32Load, expected: "i32.atomic.load"},
		{oc: OpcodeAtomicI64Load32U, expected: "i64.atomic.load32_u"},
		{oc: OpcodeAtomicI32Store16, expected: "i32.atomic.store16"},
		{oc: OpcodeAtomicI64Store, expected: "i64.atomic.store"},
		{oc: OpcodeAtomicRMWAdd, expected: "i32.atomic.rmw.add"},
		{oc: OpcodeAtomicRMWSub + 2, expected: "i32.atomic.rmw8.sub_u"},
		{oc: OpcodeAtomicRMWXchg + 1, expected: "i64.atomic.rmw.xchg"},
		{oc: OpcodeAtomicRMWCmpxchg + 6, expected: "i64.atomic.rmw32.cmpxchg_u"},
		{oc: 0x04, expected: ""},
		{oc: 0x4f, expected: ""},
	} {
		require.Equal(t, tc.expected, AtomicInstructionName(tc.oc), "%#x", tc.oc)
	}
}

func TestAtomicRMWAccess(t *testing.T) {
	op, access, ok := AtomicRMWAccess(OpcodeAtomicRMWOr + 5)
	require.True(t, ok)
	require.Equal(t, AtomicRMWOpOr, op)
	require.Equal(t, AtomicAccess{Is64: true, Width: 2}, access)

	_, _, ok = AtomicRMWAccess(OpcodeAtomicI64Store32)
	require.False(t, ok)
}
