package machine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasmir"
)

func lowerBody(t *testing.T, sig *wasm.FunctionType, locals []api.ValueType, body []byte, optimize bool, opts Options) *Code {
	t.Helper()
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{sig},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{LocalTypes: locals, Body: body}},
		MemorySection:   []*wasm.Memory{{Min: 1, Max: 1, IsMaxEncoded: true}},
	}
	return compileModule(t, m, optimize, opts).codes[0]
}

func TestLower(t *testing.T) {
	add := []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}
	code := lowerBody(t, &wasm.FunctionType{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}},
		nil, add, false, Options{})
	require.Equal(t, "0\tLocalGet 0\n1\tLocalGet 1\n2\tI32Add\n3\tBr return\n", code.Disassemble())
	require.Equal(t, 2, code.NumParams)
	require.Equal(t, 1, code.NumResults)
	require.Zero(t, code.Fused)
}

func TestLower_labels(t *testing.T) {
	ops := []wasmir.Operation{
		wasmir.NewOperationLabel(wasmir.Label{Kind: wasmir.LabelKindHeader, FrameID: 1}),
		wasmir.NewOperationConstI32(1),
		{Kind: wasmir.OperationKindBrIf, Targets: []wasmir.BranchTarget{{Label: wasmir.Label{Kind: wasmir.LabelKindHeader, FrameID: 1}}}},
		{Kind: wasmir.OperationKindBr, Targets: []wasmir.BranchTarget{{Label: wasmir.ReturnLabel}}},
	}
	code, err := Lower(&wasmir.CompilationResult{Operations: ops, Signature: &wasm.FunctionType{}}, Options{})
	require.NoError(t, err)
	require.Equal(t, "0\tConst 1\n1\tBrIf(inverted=false) @0\n2\tBr return\n", code.Disassemble())

	ops[0] = wasmir.NewOperationConstI32(0)
	_, err = Lower(&wasmir.CompilationResult{Operations: ops, Signature: &wasm.FunctionType{}}, Options{})
	require.EqualError(t, err, "branch to undefined label .L1")
}

func TestLower_fuse(t *testing.T) {
	sig := &wasm.FunctionType{Params: []api.ValueType{i32, i32, i32}}

	code := lowerBody(t, sig, nil, fillBody, true, Options{})
	require.Zero(t, code.Fused)

	code = lowerBody(t, sig, nil, fillBody, true, Options{Fuse: true})
	require.Equal(t, 2, code.Fused)
	asm := code.Disassemble()
	require.True(t, strings.Contains(asm, "LocalIncr 0 1 tee=false"), asm)
	require.True(t, strings.Contains(asm, "LocalIncr 1 -1 tee=false"), asm)
}

func TestLower_fuseCompareBrIf(t *testing.T) {
	// loop: local.get 0; i32.const 1; i32.add; local.tee 0; i32.const 10; i32.lt_u; br_if 0
	body := []byte{
		wasm.OpcodeLoop, 0x40,
		wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeLocalTee, 0,
		wasm.OpcodeI32Const, 10, wasm.OpcodeI32LtU, wasm.OpcodeBrIf, 0,
		wasm.OpcodeEnd,
		wasm.OpcodeLocalGet, 0,
		wasm.OpcodeEnd,
	}
	sig := &wasm.FunctionType{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}
	code := lowerBody(t, sig, nil, body, false, Options{Fuse: true})
	require.Equal(t, "0\tLocalIncr 0 1 tee=true\n1\tConstCompareBrIf I32LtU 10(inverted=false) @0\n"+
		"2\tLocalGet 0\n3\tBr return\n", code.Disassemble())

	for _, tier := range tiers {
		inst := instantiate(t, &wasm.Module{
			TypeSection:     []*wasm.FunctionType{sig},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []*wasm.Code{{Body: body}},
		}, tier.optimize, tier.opts, nil)
		results, err := call(inst, 0, 3)
		require.NoError(t, err)
		require.Equal(t, []uint64{10}, results, tier.name)
	}
}

func TestOpcode_String(t *testing.T) {
	require.Equal(t, "I64GeU", OpI64GeU.String())
	require.Equal(t, "ConstCompareBrIf", OpConstCompareBrIf.String())
	for op := OpUnreachable; op < opcodeEnd; op++ {
		if op == opBinopStart || op == opCompareStart || op == opBinopEnd {
			continue
		}
		require.NotEmpty(t, op.String(), int(op))
	}
	require.True(t, OpI32LtU.IsCompare())
	require.True(t, OpI32LtU.IsBinop())
	require.False(t, OpI32Add.IsCompare())
	require.False(t, OpConstBinop.IsBinop())
}

func TestSpecializedBinop(t *testing.T) {
	tests := []struct {
		op       wasmir.Operation
		expected Opcode
		ok       bool
	}{
		{op: wasmir.Operation{Kind: wasmir.OperationKindAdd, B1: byte(wasmir.UnsignedTypeI64)}, expected: OpI64Add, ok: true},
		{op: wasmir.Operation{Kind: wasmir.OperationKindAdd, B1: byte(wasmir.UnsignedTypeF32)}},
		{op: wasmir.Operation{Kind: wasmir.OperationKindLt, B1: byte(wasmir.SignedTypeUint32)}, expected: OpI32LtU, ok: true},
		{op: wasmir.Operation{Kind: wasmir.OperationKindGe, B1: byte(wasmir.SignedTypeUint64)}, expected: OpI64GeU, ok: true},
		{op: wasmir.Operation{Kind: wasmir.OperationKindGe, B1: byte(wasmir.SignedTypeFloat64)}},
		{op: wasmir.Operation{Kind: wasmir.OperationKindShr, B1: byte(wasmir.SignedUint64)}, expected: OpI64ShrU, ok: true},
		{op: wasmir.Operation{Kind: wasmir.OperationKindXor, B1: byte(wasmir.UnsignedInt64)}, expected: OpI64Xor, ok: true},
		{op: wasmir.Operation{Kind: wasmir.OperationKindDiv, B1: byte(wasmir.SignedTypeInt32)}},
	}
	for _, tc := range tests {
		actual, ok := specializedBinop(&tc.op)
		require.Equal(t, tc.ok, ok, tc.op.String())
		require.Equal(t, tc.expected, actual, tc.op.String())
	}
}
