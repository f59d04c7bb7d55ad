package wasmir

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type funcDef struct {
	params, results, locals []api.ValueType
	body                    []byte
	withMemory              bool
}

func (d funcDef) module() *wasm.Module {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: d.params, Results: d.results}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{LocalTypes: d.locals, Body: d.body}},
	}
	if d.withMemory {
		m.MemorySection = []*wasm.Memory{{Min: 1, Max: 1, IsMaxEncoded: true}}
	}
	return m
}

func compileDef(t *testing.T, d funcDef, features api.Features) (*CompilationResult, error) {
	t.Helper()
	return Compile(context.Background(), &FunctionInput{Module: d.module(), Index: 0, Features: features})
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		def      funcDef
		expected string
	}{
		{
			name: "add",
			def: funcDef{
				params: []api.ValueType{i32, i32}, results: []api.ValueType{i32},
				body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd},
			},
			expected: "\tLocalGet 0\n\tLocalGet 1\n\tAdd.i32\n\tBr .return\n",
		},
		{
			name: "if else",
			def: funcDef{
				params: []api.ValueType{i32}, results: []api.ValueType{i32},
				body: []byte{
					wasm.OpcodeLocalGet, 0,
					wasm.OpcodeIf, 0x7f,
					wasm.OpcodeI32Const, 1,
					wasm.OpcodeElse,
					wasm.OpcodeI32Const, 2,
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
				},
			},
			expected: "\tLocalGet 0\n\tBrIfNot .L2_else\n\tConstI32 1\n\tBr .L2_cont\n.L2_else\n\tConstI32 2\n" +
				".L2_cont\n\tBr .return\n",
		},
		{
			name: "if without else",
			def: funcDef{
				params: []api.ValueType{i32},
				body: []byte{
					wasm.OpcodeLocalGet, 0,
					wasm.OpcodeIf, 0x40,
					wasm.OpcodeUnreachable,
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
				},
			},
			expected: "\tLocalGet 0\n\tBrIfNot .L2_else\n\tUnreachable\n.L2_else\n.L2_cont\n\tBr .return\n",
		},
		{
			name: "loop",
			def: funcDef{
				params: []api.ValueType{i32}, results: []api.ValueType{i32},
				body: []byte{
					wasm.OpcodeLoop, 0x40,
					wasm.OpcodeLocalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Sub,
					wasm.OpcodeLocalTee, 0,
					wasm.OpcodeBrIf, 0,
					wasm.OpcodeEnd,
					wasm.OpcodeLocalGet, 0,
					wasm.OpcodeEnd,
				},
			},
			expected: ".L2\n\tLocalGet 0\n\tConstI32 1\n\tSub.i32\n\tLocalTee 0\n\tBrIf .L2\n\tLocalGet 0\n\tBr .return\n",
		},
		{
			name: "br out of block drops",
			def: funcDef{
				results: []api.ValueType{i32},
				body: []byte{
					wasm.OpcodeBlock, 0x7f,
					wasm.OpcodeI32Const, 1, wasm.OpcodeI32Const, 2,
					wasm.OpcodeBr, 0,
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
				},
			},
			expected: "\tConstI32 1\n\tConstI32 2\n\tBr .L2_cont(drop 1..1)\n.L2_cont\n\tBr .return\n",
		},
		{
			name: "unreachable code is skipped",
			def: funcDef{
				body: []byte{
					wasm.OpcodeBlock, 0x40,
					wasm.OpcodeBr, 0,
					wasm.OpcodeI32Const, 1, wasm.OpcodeDrop,
					wasm.OpcodeBlock, 0x40, wasm.OpcodeEnd,
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
				},
			},
			expected: "\tBr .L2_cont\n.L2_cont\n\tBr .return\n",
		},
		{
			name: "br_table",
			def: funcDef{
				params: []api.ValueType{i32},
				body: []byte{
					wasm.OpcodeBlock, 0x40,
					wasm.OpcodeBlock, 0x40,
					wasm.OpcodeLocalGet, 0,
					wasm.OpcodeBrTable, 2, 0, 1, 2,
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
					wasm.OpcodeEnd,
				},
			},
			expected: "\tLocalGet 0\n\tBrTable [.L3_cont, .L2_cont, .return]\n.L3_cont\n.L2_cont\n\tBr .return\n",
		},
		{
			name: "memory",
			def: funcDef{
				withMemory: true,
				params:     []api.ValueType{i32},
				body: []byte{
					wasm.OpcodeLocalGet, 0, wasm.OpcodeLocalGet, 0,
					wasm.OpcodeI32Store, 2, 8,
					wasm.OpcodeEnd,
				},
			},
			expected: "\tLocalGet 0\n\tLocalGet 0\n\tStore.i32 8\n\tBr .return\n",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			res, err := compileDef(t, tc.def, api.FeaturesDefault)
			require.NoError(t, err)
			require.Equal(t, tc.expected, Disassemble(res.Operations))
		})
	}
}

func TestCompile_result(t *testing.T) {
	res, err := compileDef(t, funcDef{
		withMemory: true,
		params:     []api.ValueType{i32},
		locals:     []api.ValueType{i64, i64},
		body: []byte{
			wasm.OpcodeI32Const, 1, wasm.OpcodeI32Const, 2, wasm.OpcodeI32Const, 3,
			wasm.OpcodeDrop, wasm.OpcodeDrop, wasm.OpcodeDrop,
			wasm.OpcodeMemorySize, 0, wasm.OpcodeDrop,
			wasm.OpcodeEnd,
		},
	}, api.FeaturesDefault)
	require.NoError(t, err)
	require.Equal(t, 3, res.MaxStackHeight)
	require.Equal(t, 3, res.NumLocals())
	require.True(t, res.UsesMemory)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name         string
		def          funcDef
		features     api.Features
		expectedKind wasmerr.Kind
		expectedName string
		expectedOp   string
	}{
		{
			name:         "type mismatch",
			def:          funcDef{body: []byte{wasm.OpcodeI64Const, 1, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "i32.add",
		},
		{
			name:         "stack underflow",
			def:          funcDef{body: []byte{wasm.OpcodeDrop, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "drop",
		},
		{
			name:         "missing result",
			def:          funcDef{results: []api.ValueType{i32}, body: []byte{wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "end",
		},
		{
			name:         "truncated body",
			def:          funcDef{body: []byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
		},
		{
			name:         "invalid local",
			def:          funcDef{body: []byte{wasm.OpcodeLocalGet, 3, wasm.OpcodeDrop, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "local.get",
		},
		{
			name:         "memory instruction without memory",
			def:          funcDef{body: []byte{wasm.OpcodeMemorySize, 0, wasm.OpcodeDrop, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "memory.size",
		},
		{
			name: "alignment too large",
			def: funcDef{withMemory: true, body: []byte{
				wasm.OpcodeI32Const, 0, wasm.OpcodeI32Load, 3, 0, wasm.OpcodeDrop, wasm.OpcodeEnd,
			}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "i32.load",
		},
		{
			name:         "invalid opcode",
			def:          funcDef{body: []byte{0x06, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindMalformedBody,
		},
		{
			name:         "simd",
			def:          funcDef{body: []byte{opcodeVecPrefix, 0x0c, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindUnsupportedFeature,
			expectedName: "simd",
		},
		{
			name:         "reference types",
			def:          funcDef{body: []byte{opcodeRefNull, 0x70, wasm.OpcodeDrop, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindUnsupportedFeature,
			expectedName: "reference_types",
			expectedOp:   "ref.null",
		},
		{
			name: "table instruction",
			def: funcDef{body: []byte{
				wasm.OpcodeMiscPrefix, 0x10, 0, wasm.OpcodeDrop, wasm.OpcodeEnd,
			}},
			expectedKind: wasmerr.KindUnsupportedFeature,
			expectedName: "reference_types",
			expectedOp:   "table.size",
		},
		{
			name:         "multi-value block type",
			def:          funcDef{body: []byte{wasm.OpcodeBlock, 0x00, wasm.OpcodeEnd, wasm.OpcodeEnd}},
			expectedKind: wasmerr.KindUnsupportedFeature,
			expectedName: "multi_value",
			expectedOp:   "block",
		},
		{
			name: "sign extension disabled",
			def: funcDef{body: []byte{
				wasm.OpcodeI32Const, 1, wasm.OpcodeI32Extend8S, wasm.OpcodeDrop, wasm.OpcodeEnd,
			}},
			features:     api.FeaturesDefault.Set(api.FeatureSignExtensionOps, false),
			expectedKind: wasmerr.KindDisabledFeature,
			expectedName: "sign_extension",
			expectedOp:   "i32.extend8_s",
		},
		{
			name: "sign extension disabled in unreachable code",
			def: funcDef{body: []byte{
				wasm.OpcodeUnreachable, wasm.OpcodeI32Extend8S, wasm.OpcodeEnd,
			}},
			features:     api.FeaturesDefault.Set(api.FeatureSignExtensionOps, false),
			expectedKind: wasmerr.KindDisabledFeature,
			expectedName: "sign_extension",
		},
		{
			name: "bulk memory disabled",
			def: funcDef{withMemory: true, body: []byte{
				wasm.OpcodeI32Const, 0, wasm.OpcodeI32Const, 0, wasm.OpcodeI32Const, 0,
				wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryFill, 0,
				wasm.OpcodeEnd,
			}},
			features:     api.FeaturesDefault.Set(api.FeatureBulkMemoryOperations, false),
			expectedKind: wasmerr.KindDisabledFeature,
			expectedName: "bulk_memory",
			expectedOp:   "memory.fill",
		},
		{
			name: "threads disabled",
			def: funcDef{withMemory: true, body: []byte{
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeAtomicPrefix, wasm.OpcodeAtomicI32Load, 2, 0,
				wasm.OpcodeDrop, wasm.OpcodeEnd,
			}},
			features:     api.FeaturesDefault,
			expectedKind: wasmerr.KindDisabledFeature,
			expectedName: "threads",
			expectedOp:   "i32.atomic.load",
		},
		{
			name: "atomic alignment",
			def: funcDef{withMemory: true, body: []byte{
				wasm.OpcodeI32Const, 0,
				wasm.OpcodeAtomicPrefix, wasm.OpcodeAtomicI32Load, 1, 0,
				wasm.OpcodeDrop, wasm.OpcodeEnd,
			}},
			features:     api.FeaturesAll,
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "i32.atomic.load",
		},
		{
			name: "memory.init without data count",
			def: funcDef{withMemory: true, body: []byte{
				wasm.OpcodeI32Const, 0, wasm.OpcodeI32Const, 0, wasm.OpcodeI32Const, 0,
				wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryInit, 0, 0,
				wasm.OpcodeEnd,
			}},
			expectedKind: wasmerr.KindMalformedBody,
			expectedOp:   "memory.init",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			features := tc.features
			if features == 0 {
				features = api.FeaturesDefault
			}
			_, err := compileDef(t, tc.def, features)
			require.Error(t, err)

			var werr *wasmerr.Error
			require.True(t, errors.As(err, &werr))
			require.Equal(t, wasmerr.PhaseCompile, werr.Phase)
			require.Equal(t, tc.expectedKind, werr.Kind, werr.Error())
			require.Equal(t, int64(0), werr.FunctionIndex)
			if tc.expectedName != "" {
				require.Equal(t, tc.expectedName, werr.Name)
			}
			if tc.expectedOp != "" {
				require.Equal(t, tc.expectedOp, werr.Opcode)
			}
		})
	}
}

func TestCompile_Limits(t *testing.T) {
	t.Run("operand stack", func(t *testing.T) {
		d := funcDef{body: []byte{
			wasm.OpcodeI32Const, 1, wasm.OpcodeI32Const, 2, wasm.OpcodeI32Const, 3,
			wasm.OpcodeDrop, wasm.OpcodeDrop, wasm.OpcodeDrop, wasm.OpcodeEnd,
		}}
		_, err := Compile(context.Background(), &FunctionInput{
			Module: d.module(), Features: api.FeaturesDefault, Limits: Limits{MaxStackHeight: 2},
		})
		require.ErrorIs(t, err, wasmerr.ErrResourceExhausted)
	})
	t.Run("labels", func(t *testing.T) {
		d := funcDef{body: []byte{
			wasm.OpcodeBlock, 0x40, wasm.OpcodeBlock, 0x40, wasm.OpcodeEnd, wasm.OpcodeEnd, wasm.OpcodeEnd,
		}}
		_, err := Compile(context.Background(), &FunctionInput{
			Module: d.module(), Features: api.FeaturesDefault, Limits: Limits{MaxLabels: 2},
		})
		require.ErrorIs(t, err, wasmerr.ErrResourceExhausted)
	})
	t.Run("cancelled", func(t *testing.T) {
		body := make([]byte, cancellationCheckInterval+1)
		for i := range body {
			body[i] = wasm.OpcodeNop
		}
		body[len(body)-1] = wasm.OpcodeEnd
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Compile(ctx, &FunctionInput{Module: funcDef{body: body}.module(), Features: api.FeaturesDefault})
		require.ErrorIs(t, err, wasmerr.ErrResourceExhausted)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestCompile_doesNotMutateModule(t *testing.T) {
	d := funcDef{
		params: []api.ValueType{i32}, results: []api.ValueType{i32},
		body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeEnd},
	}
	m := d.module()
	before := append([]byte(nil), m.CodeSection[0].Body...)
	_, err := Compile(context.Background(), &FunctionInput{Module: m, Features: api.FeaturesDefault})
	require.NoError(t, err)
	require.Equal(t, before, m.CodeSection[0].Body)
}

func TestOperationKind_String(t *testing.T) {
	for k := OperationKind(0); k < operationKindEnd; k++ {
		require.NotEqual(t, "", k.String(), "kind %d", k)
	}
}
