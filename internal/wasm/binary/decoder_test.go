package binary

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

func TestDecodeModule_roundTrip(t *testing.T) {
	zero := uint32(0)
	two := uint32(2)
	tableMax := uint32(10)
	i32, i64, f32 := api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32

	tests := []struct {
		name  string
		input *wasm.Module
	}{
		{
			name:  "empty",
			input: &wasm.Module{},
		},
		{
			name: "type section",
			input: &wasm.Module{
				TypeSection: []*wasm.FunctionType{
					{},
					{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}},
					{Params: []api.ValueType{i32, i32, i32, i32}, Results: []api.ValueType{i32}},
				},
			},
		},
		{
			name: "imports of every kind",
			input: &wasm.Module{
				TypeSection: []*wasm.FunctionType{{Params: []api.ValueType{i32}}},
				ImportSection: []*wasm.Import{
					{Type: api.ExternTypeFunc, Module: "env", Name: "log", DescFunc: 0},
					{Type: api.ExternTypeMemory, Module: "env", Name: "memory",
						DescMem: &wasm.Memory{Min: 1, Max: 1024, IsMaxEncoded: true, IsShared: true}},
					{Type: api.ExternTypeGlobal, Module: "env", Name: "g",
						DescGlobal: &wasm.GlobalType{ValType: i64, Mutable: true}},
					{Type: api.ExternTypeTable, Module: "env", Name: "table",
						DescTable: &wasm.Table{Min: 1, Max: &tableMax}},
				},
			},
		},
		{
			name: "fill module",
			input: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0},
				MemorySection:   []*wasm.Memory{{Min: 1, Max: wasm.MemoryLimitPages}},
				ExportSection: []*wasm.Export{
					{Type: api.ExternTypeFunc, Name: "fill_0", Index: 0},
					{Type: api.ExternTypeMemory, Name: "memory", Index: 0},
				},
				CodeSection: []*wasm.Code{{
					LocalTypes: []api.ValueType{i32, i32, f32},
					Body:       []byte{wasm.OpcodeNop, wasm.OpcodeEnd},
				}},
				DataSection: []*wasm.DataSegment{{
					OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{16}},
					Init:             []byte("abcd"),
				}},
				NameSection: &wasm.NameSection{
					ModuleName:    "loop",
					FunctionNames: wasm.NameMap{{Index: 0, Name: "fill"}},
				},
			},
		},
		{
			name: "table, globals, start and elements",
			input: &wasm.Module{
				TypeSection:     []*wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0, 0},
				TableSection:    []*wasm.Table{{Min: 2}},
				GlobalSection: []*wasm.Global{
					{
						Type: &wasm.GlobalType{ValType: i32, Mutable: true},
						Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x7f}},
					},
					{
						Type: &wasm.GlobalType{ValType: f32},
						Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeF32Const, Data: []byte{0, 0, 0x80, 0x3f}},
					},
				},
				StartSection: &zero,
				ElementSection: []*wasm.ElementSegment{{
					OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
					Init:       []wasm.Index{0, 1},
				}},
				CodeSection: []*wasm.Code{
					{Body: []byte{wasm.OpcodeEnd}},
					{Body: []byte{wasm.OpcodeEnd}},
				},
			},
		},
		{
			name: "passive data and data count",
			input: &wasm.Module{
				MemorySection:    []*wasm.Memory{{Min: 1, Max: 2, IsMaxEncoded: true}},
				DataCountSection: &two,
				DataSection: []*wasm.DataSegment{
					{Passive: true, Init: []byte("hello")},
					{
						OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
						Init:             []byte{},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeModule(tc.input)
			decoded, err := DecodeModule(encoded, api.FeaturesAll, wasm.MemoryLimitPages)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.input, decoded); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeModule_nameSectionIsOptional(t *testing.T) {
	// A malformed name section is ignored, as names only help debugging.
	input := append(append([]byte{}, Magic...), version...)
	input = append(input, wasm.SectionIDCustom, 6, 4, 'n', 'a', 'm', 'e', 0x01)
	m, err := DecodeModule(input, api.FeaturesDefault, wasm.MemoryLimitPages)
	require.NoError(t, err)
	require.Nil(t, m.NameSection)
}

func TestDecodeModule_errors(t *testing.T) {
	header := append(append([]byte{}, Magic...), version...)
	withSections := func(b ...byte) []byte {
		return append(append([]byte{}, header...), b...)
	}

	tests := []struct {
		name        string
		input       []byte
		features    api.Features
		expectedErr string
		kind        error
	}{
		{
			name:        "wrong magic",
			input:       []byte("wasm\x01\x00\x00\x00"),
			expectedErr: "invalid magic number",
		},
		{
			name:        "wrong version",
			input:       []byte("\x00asm\x01\x00\x00\x01"),
			expectedErr: "invalid version header",
		},
		{
			name:        "unknown section",
			input:       withSections(0x20, 0),
			expectedErr: "invalid section id",
		},
		{
			name:        "section size past end",
			input:       withSections(wasm.SectionIDType, 10, 0),
			expectedErr: "section type size 10 exceeds remaining 1 bytes",
		},
		{
			name:        "out of order",
			input:       withSections(wasm.SectionIDFunction, 1, 0, wasm.SectionIDType, 1, 0),
			expectedErr: "section type out of order after function",
		},
		{
			name:        "duplicate section",
			input:       withSections(wasm.SectionIDType, 1, 0, wasm.SectionIDType, 1, 0),
			expectedErr: "section type out of order after type",
		},
		{
			name:        "redundant name section",
			input:       withSections(0, 5, 4, 'n', 'a', 'm', 'e', 0, 5, 4, 'n', 'a', 'm', 'e'),
			expectedErr: "redundant custom section name",
		},
		{
			name:        "function without code",
			input:       withSections(wasm.SectionIDType, 4, 1, 0x60, 0, 0, wasm.SectionIDFunction, 2, 1, 0),
			expectedErr: "function and code section have inconsistent lengths: 1 != 0",
		},
		{
			name:        "memory over limit",
			input:       withSections(wasm.SectionIDMemory, 5, 1, 0x00, 0x80, 0x80, 0x08),
			expectedErr: "min 131072 pages over limit of 65536 pages",
		},
		{
			name:        "shared memory without max",
			input:       withSections(wasm.SectionIDMemory, 3, 1, 0x02, 1),
			expectedErr: "shared memory requires a max",
		},
		{
			name:        "passive data with bulk memory disabled",
			input:       withSections(wasm.SectionIDData, 3, 1, 1, 0),
			features:    api.FeaturesDefault.Set(api.FeatureBulkMemoryOperations, false),
			expectedErr: "disabled_feature",
			kind:        wasmerr.ErrDisabledFeature,
		},
		{
			name:        "data count with bulk memory disabled",
			input:       withSections(wasm.SectionIDDataCount, 1, 0),
			features:    api.FeaturesDefault.Set(api.FeatureBulkMemoryOperations, false),
			expectedErr: "disabled_feature",
			kind:        wasmerr.ErrDisabledFeature,
		},
		{
			name:        "element segment of reference types",
			input:       withSections(wasm.SectionIDElement, 2, 1, 1),
			expectedErr: "unsupported_feature",
			kind:        wasmerr.ErrUnsupportedFeature,
		},
		{
			name:        "body without end",
			input:       withSections(wasm.SectionIDCode, 4, 1, 2, 0, wasm.OpcodeNop),
			expectedErr: "expr not end with OpcodeEnd",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			features := tc.features
			if features == 0 {
				features = api.FeaturesDefault
			}
			_, err := DecodeModule(tc.input, features, wasm.MemoryLimitPages)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedErr)
			kind := tc.kind
			if kind == nil {
				kind = wasmerr.ErrInvalidModule
			}
			require.ErrorIs(t, err, kind)
		})
	}
}

func TestDecodeLimitsType(t *testing.T) {
	max := uint32(3)
	tests := []struct {
		name   string
		min    uint32
		max    *uint32
		shared bool
		bytes  []byte
	}{
		{name: "min", min: 1, bytes: []byte{0x00, 0x01}},
		{name: "min max", min: 1, max: &max, bytes: []byte{0x01, 0x01, 0x03}},
		{name: "shared min max", min: 1, max: &max, shared: true, bytes: []byte{0x03, 0x01, 0x03}},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.bytes, encodeLimitsType(tc.min, tc.max, tc.shared))

			min, max, shared, err := decodeLimitsType(bytesReader(tc.bytes))
			require.NoError(t, err)
			require.Equal(t, tc.min, min)
			require.Equal(t, tc.max, max)
			require.Equal(t, tc.shared, shared)
		})
	}
}
