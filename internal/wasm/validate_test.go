package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/wasmerr"
)

func i32Const(v byte) *ConstantExpression {
	return &ConstantExpression{Opcode: OpcodeI32Const, Data: []byte{v}}
}

func TestModule_Validate(t *testing.T) {
	zero := uint32(0)
	one := uint32(1)
	v_v := &FunctionType{}
	i32_v := &FunctionType{Params: []api.ValueType{api.ValueTypeI32}}
	memImport := &Import{Type: api.ExternTypeMemory, Module: "env", Name: "memory",
		DescMem: &Memory{Min: 1, Max: 1024, IsMaxEncoded: true}}

	tests := []struct {
		name        string
		module      *Module
		features    api.Features
		expectedErr string
		kind        error
	}{
		{
			name: "valid",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				ImportSection:   []*Import{memImport},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
				ExportSection:   []*Export{{Type: api.ExternTypeFunc, Name: "fill_0", Index: 0}},
				DataSection:     []*DataSegment{{OffsetExpression: i32Const(16), Init: []byte("abcd")}},
			},
		},
		{
			name: "export index out of range",
			module: &Module{
				ExportSection: []*Export{{Type: api.ExternTypeFunc, Name: "fill_0", Index: 0}},
			},
			expectedErr: "export[fill_0] func index 0 out of range",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "memory export without memory",
			module: &Module{
				ExportSection: []*Export{{Type: api.ExternTypeMemory, Name: "memory", Index: 0}},
			},
			expectedErr: "export[memory] memory index 0 out of range",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "all problems are reported together",
			module: &Module{
				TypeSection:     []*FunctionType{v_v},
				FunctionSection: []Index{3},
				CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
				ExportSection: []*Export{
					{Type: api.ExternTypeFunc, Name: "a", Index: 9},
					{Type: api.ExternTypeGlobal, Name: "b", Index: 9},
				},
			},
			expectedErr: "function[0] has invalid type index 3; export[a] func index 9 out of range; export[b] global index 9 out of range",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "start function with params",
			module: &Module{
				TypeSection:     []*FunctionType{i32_v},
				FunctionSection: []Index{0},
				CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
				StartSection:    &zero,
			},
			expectedErr: "start function must have an empty signature, but was (i32) -> ()",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "start function out of range",
			module: &Module{
				StartSection: &one,
			},
			expectedErr: "invalid start function index 1",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "data past declared minimum",
			module: &Module{
				ImportSection: []*Import{{Type: api.ExternTypeMemory, Module: "env", Name: "memory",
					DescMem: &Memory{Min: 0, Max: 1024, IsMaxEncoded: true}}},
				DataSection: []*DataSegment{{OffsetExpression: i32Const(16), Init: []byte("abcd")}},
			},
			expectedErr: "data[0] at offset 16 with 4 bytes exceeds minimum memory of 0 pages",
			kind:        wasmerr.ErrDataSegmentOutOfBounds,
		},
		{
			name: "data without memory",
			module: &Module{
				DataSection: []*DataSegment{{OffsetExpression: i32Const(0), Init: []byte("abcd")}},
			},
			expectedErr: "data[0] requires a memory",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "data offset not i32",
			module: &Module{
				MemorySection: []*Memory{{Min: 1, Max: 1}},
				DataSection: []*DataSegment{{
					OffsetExpression: &ConstantExpression{Opcode: OpcodeI64Const, Data: []byte{0}},
				}},
			},
			expectedErr: "data[0] offset must be i32, but was i64",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "global initializer type",
			module: &Module{
				GlobalSection: []*Global{{Type: &GlobalType{ValType: api.ValueTypeI64}, Init: i32Const(1)}},
			},
			expectedErr: "global[0] initializer has type i32, but global is i64",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "element without table",
			module: &Module{
				ElementSection: []*ElementSegment{{OffsetExpr: i32Const(0)}},
			},
			expectedErr: "element[0] requires a table",
			kind:        wasmerr.ErrInvalidModule,
		},
		{
			name: "shared memory without threads",
			module: &Module{
				MemorySection: []*Memory{{Min: 1, Max: 1, IsMaxEncoded: true, IsShared: true}},
			},
			expectedErr: `disabled_feature "threads"`,
			kind:        wasmerr.ErrDisabledFeature,
		},
		{
			name: "mutable global import disabled",
			module: &Module{
				ImportSection: []*Import{{Type: api.ExternTypeGlobal, Module: "env", Name: "g",
					DescGlobal: &GlobalType{ValType: api.ValueTypeI32, Mutable: true}}},
			},
			features:    api.FeaturesDefault.Set(api.FeatureMutableGlobal, false),
			expectedErr: `disabled_feature "mutable_global"`,
			kind:        wasmerr.ErrDisabledFeature,
		},
		{
			name: "multi-value",
			module: &Module{
				TypeSection: []*FunctionType{{Results: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}},
			},
			expectedErr: "type[0] () -> (i32, i32) has more than one result",
			kind:        wasmerr.ErrUnsupportedFeature,
		},
		{
			name: "table import",
			module: &Module{
				ImportSection: []*Import{{Type: api.ExternTypeTable, Module: "env", Name: "table", DescTable: &Table{}}},
			},
			expectedErr: "table imports are not supported",
			kind:        wasmerr.ErrUnsupportedFeature,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			features := tc.features
			if features == 0 {
				features = api.FeaturesDefault
			}
			err := tc.module.Validate(features)
			if tc.expectedErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.kind)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestModule_Validate_sharedMemoryWithThreads(t *testing.T) {
	m := &Module{MemorySection: []*Memory{{Min: 1, Max: 1, IsMaxEncoded: true, IsShared: true}}}
	require.NoError(t, m.Validate(api.FeaturesDefault|api.FeatureThreads))
}
