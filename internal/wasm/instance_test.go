package wasm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasmruntime"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// mockCompiledCode creates mockModuleEngines, which only record the functions they are asked to call.
type mockCompiledCode struct {
	callErr     error
	calls       []*FunctionInstance
	dataOffsets []DataOffset
}

func (c *mockCompiledCode) DataOffsets() []DataOffset {
	return c.dataOffsets
}

func (c *mockCompiledCode) NewModuleEngine(*ModuleInstance) (ModuleEngine, error) {
	return &mockModuleEngine{c}, nil
}

type mockModuleEngine struct{ c *mockCompiledCode }

func (e *mockModuleEngine) Call(_ context.Context, f *FunctionInstance, _ []uint64) ([]uint64, error) {
	e.c.calls = append(e.c.calls, f)
	return nil, e.c.callErr
}

func memoryImportModule(declared *Memory, data ...*DataSegment) *Module {
	return &Module{
		TypeSection:     []*FunctionType{{}},
		ImportSection:   []*Import{{Type: api.ExternTypeMemory, Module: "env", Name: "memory", DescMem: declared}},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
		ExportSection:   []*Export{{Type: api.ExternTypeFunc, Name: "fill_0", Index: 0}},
		DataSection:     data,
	}
}

func memoryImports(mem *MemoryInstance) Imports {
	return Imports{"env": {"memory": mem}}
}

func TestInstantiate_memoryImport(t *testing.T) {
	declared := &Memory{Min: 1, Max: MemoryLimitPages}
	tests := []struct {
		name        string
		declared    *Memory
		host        *Memory
		expectedErr string
	}{
		{
			name:     "min 1 max 1024",
			declared: declared,
			host:     &Memory{Min: 1, Max: 1024, IsMaxEncoded: true},
		},
		{
			name:     "unbounded",
			declared: declared,
			host:     &Memory{Min: 1, Max: MemoryLimitPages},
		},
		{
			name:        "min 0",
			declared:    declared,
			host:        &Memory{Min: 0, Max: 1024, IsMaxEncoded: true},
			expectedErr: `[instantiate] import_type_mismatch "env"."memory": minimum size mismatch: 0 < 1 pages`,
		},
		{
			name:        "host max larger than declared",
			declared:    &Memory{Min: 1, Max: 16, IsMaxEncoded: true},
			host:        &Memory{Min: 1, Max: 1024, IsMaxEncoded: true},
			expectedErr: `[instantiate] import_type_mismatch "env"."memory": maximum size mismatch: 1024 > 16 pages`,
		},
		{
			name:        "host max missing",
			declared:    &Memory{Min: 1, Max: 16, IsMaxEncoded: true},
			host:        &Memory{Min: 1, Max: MemoryLimitPages},
			expectedErr: `maximum size mismatch: unbounded, but module requires max 16 pages`,
		},
		{
			name:     "shared",
			declared: &Memory{Min: 1, Max: 1024, IsMaxEncoded: true, IsShared: true},
			host:     &Memory{Min: 1, Max: 1024, IsMaxEncoded: true, IsShared: true},
		},
		{
			name:        "shared mismatch",
			declared:    declared,
			host:        &Memory{Min: 1, Max: 1024, IsMaxEncoded: true, IsShared: true},
			expectedErr: `shared mismatch: module requires shared=false`,
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			mem := NewMemoryInstance(tc.host)
			m, err := Instantiate(context.Background(), memoryImportModule(tc.declared), &mockCompiledCode{}, memoryImports(mem))
			if tc.expectedErr == "" {
				require.NoError(t, err)
				require.Same(t, mem, m.Memory)
				return
			}
			require.ErrorIs(t, err, wasmerr.ErrImportTypeMismatch)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestInstantiate_missingImport(t *testing.T) {
	_, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 1}), &mockCompiledCode{}, nil)
	require.ErrorIs(t, err, wasmerr.ErrMissingImport)
	require.EqualError(t, err, `[instantiate] missing_import "env"."memory": memory import not provided`)
}

func TestInstantiate_importKindMismatch(t *testing.T) {
	g := &GlobalInstance{GlobalType: &GlobalType{ValType: api.ValueTypeI32}}
	_, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 1}), &mockCompiledCode{},
		Imports{"env": {"memory": g}})
	require.ErrorIs(t, err, wasmerr.ErrImportTypeMismatch)
	require.Contains(t, err.Error(), "expected memory, but was global")
}

func TestInstantiate_functionImport(t *testing.T) {
	i32_v := &FunctionType{Params: []api.ValueType{api.ValueTypeI32}}
	m := &Module{
		TypeSection:   []*FunctionType{i32_v},
		ImportSection: []*Import{{Type: api.ExternTypeFunc, Module: "env", Name: "log", DescFunc: 0}},
	}

	t.Run("ok", func(t *testing.T) {
		host := &FunctionInstance{Type: i32_v, Name: "env.log", GoFunc: func(context.Context, *MemoryInstance, []uint64) ([]uint64, error) {
			return nil, nil
		}}
		inst, err := Instantiate(context.Background(), m, &mockCompiledCode{}, Imports{"env": {"log": host}})
		require.NoError(t, err)
		require.Len(t, inst.Functions, 1)
		require.Same(t, host, inst.Functions[0])
	})

	t.Run("signature mismatch", func(t *testing.T) {
		host := &FunctionInstance{Type: &FunctionType{}, Name: "env.log", GoFunc: func(context.Context, *MemoryInstance, []uint64) ([]uint64, error) {
			return nil, nil
		}}
		_, err := Instantiate(context.Background(), m, &mockCompiledCode{}, Imports{"env": {"log": host}})
		require.ErrorIs(t, err, wasmerr.ErrImportTypeMismatch)
		require.Contains(t, err.Error(), "signature mismatch: (i32) -> () != () -> ()")
	})
}

func TestInstantiate_dataSegments(t *testing.T) {
	abcd := &DataSegment{OffsetExpression: i32Const(16), Init: []byte("abcd")}

	t.Run("copied at offset", func(t *testing.T) {
		mem := NewMemoryInstance(&Memory{Min: 1, Max: 1024, IsMaxEncoded: true})
		_, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 1, Max: MemoryLimitPages}, abcd),
			&mockCompiledCode{}, memoryImports(mem))
		require.NoError(t, err)

		b, err := mem.Read(16, 4)
		require.NoError(t, err)
		require.Equal(t, []byte("abcd"), b)
	})

	t.Run("all or nothing", func(t *testing.T) {
		mem := NewMemoryInstance(&Memory{Min: 1, Max: 1024, IsMaxEncoded: true})
		// The second segment starts in bounds, but ends past the end of memory.
		tooFar := &DataSegment{
			OffsetExpression: &ConstantExpression{Opcode: OpcodeI32Const, Data: []byte{0xfe, 0xff, 0x03}}, // 65534
			Init:             []byte("abcd"),
		}
		_, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 0, Max: MemoryLimitPages}, abcd, tooFar),
			&mockCompiledCode{}, memoryImports(mem))
		require.ErrorIs(t, err, wasmerr.ErrDataSegmentOutOfBounds)
		require.Contains(t, err.Error(), "data[1] at offset 65534 with 4 bytes exceeds memory size 65536")

		// Nothing was written, not even the first segment.
		require.Equal(t, make([]byte, MemoryPageSize), mem.Buffer)
	})

	t.Run("offset from imported global", func(t *testing.T) {
		mod := memoryImportModule(&Memory{Min: 1, Max: MemoryLimitPages}, &DataSegment{
			OffsetExpression: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}},
			Init:             []byte("abcd"),
		})
		mod.ImportSection = append(mod.ImportSection, &Import{Type: api.ExternTypeGlobal, Module: "env", Name: "base",
			DescGlobal: &GlobalType{ValType: api.ValueTypeI32}})
		mem := NewMemoryInstance(&Memory{Min: 1, Max: 1})
		base := &GlobalInstance{GlobalType: &GlobalType{ValType: api.ValueTypeI32}, Val: 100}
		_, err := Instantiate(context.Background(), mod, &mockCompiledCode{},
			Imports{"env": {"memory": mem, "base": base}})
		require.NoError(t, err)
		require.Equal(t, []byte("abcd"), mem.Buffer[100:104])
	})

	t.Run("precomputed offsets", func(t *testing.T) {
		fromGlobal := &DataSegment{OffsetExpression: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}},
			Init: []byte("efgh")}
		mod := memoryImportModule(&Memory{Min: 1, Max: MemoryLimitPages}, abcd, fromGlobal)
		mod.ImportSection = append(mod.ImportSection, &Import{Type: api.ExternTypeGlobal, Module: "env", Name: "base",
			DescGlobal: &GlobalType{ValType: api.ValueTypeI32}})
		base := &GlobalInstance{GlobalType: &GlobalType{ValType: api.ValueTypeI32}, Val: 100}

		tests := []struct {
			name        string
			precomputed []DataOffset
			expectedAt  uint32
		}{
			// The compiled code is trusted over the expression, which lets this test see which was used.
			{name: "constant", precomputed: []DataOffset{{Offset: 32, Constant: true}, {}}, expectedAt: 32},
			{name: "length mismatch", precomputed: []DataOffset{{Offset: 32, Constant: true}}, expectedAt: 16},
			{name: "none", expectedAt: 16},
		}
		for _, tc := range tests {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				mem := NewMemoryInstance(&Memory{Min: 1, Max: 1})
				_, err := Instantiate(context.Background(), mod, &mockCompiledCode{dataOffsets: tc.precomputed},
					Imports{"env": {"memory": mem, "base": base}})
				require.NoError(t, err)
				require.Equal(t, []byte("abcd"), mem.Buffer[tc.expectedAt:tc.expectedAt+4])
				// The non-constant offset is always evaluated.
				require.Equal(t, []byte("efgh"), mem.Buffer[100:104])
			})
		}
	})

	t.Run("precomputed offsets are checked", func(t *testing.T) {
		mem := NewMemoryInstance(&Memory{Min: 1, Max: 1})
		_, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 1, Max: MemoryLimitPages}, abcd),
			&mockCompiledCode{dataOffsets: []DataOffset{{Offset: 65534, Constant: true}}}, memoryImports(mem))
		require.ErrorIs(t, err, wasmerr.ErrDataSegmentOutOfBounds)
	})

	t.Run("passive segments kept for memory.init", func(t *testing.T) {
		passive := &DataSegment{Passive: true, Init: []byte("xyz")}
		mem := NewMemoryInstance(&Memory{Min: 1, Max: 1})
		inst, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 1, Max: MemoryLimitPages}, abcd, passive),
			&mockCompiledCode{}, memoryImports(mem))
		require.NoError(t, err)
		require.Equal(t, [][]byte{nil, []byte("xyz")}, inst.DataInstances)
	})
}

func TestInstantiate_elementSegments(t *testing.T) {
	v_v := &FunctionType{}
	m := &Module{
		TypeSection:     []*FunctionType{v_v},
		FunctionSection: []Index{0, 0},
		CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}, {Body: []byte{OpcodeEnd}}},
		TableSection:    []*Table{{Min: 3}},
		ElementSection:  []*ElementSegment{{OffsetExpr: i32Const(1), Init: []Index{1, 0}}},
	}
	inst, err := Instantiate(context.Background(), m, &mockCompiledCode{}, nil)
	require.NoError(t, err)
	require.Equal(t, []*FunctionInstance{nil, inst.Functions[1], inst.Functions[0]}, inst.Table.References)

	m.ElementSection[0].OffsetExpr = i32Const(2)
	_, err = Instantiate(context.Background(), m, &mockCompiledCode{}, nil)
	require.ErrorIs(t, err, wasmerr.ErrElementSegmentOutOfBounds)
}

func TestInstantiate_start(t *testing.T) {
	zero := uint32(0)
	m := &Module{
		TypeSection:     []*FunctionType{{}},
		FunctionSection: []Index{0},
		CodeSection:     []*Code{{Body: []byte{OpcodeEnd}}},
		StartSection:    &zero,
	}

	t.Run("called", func(t *testing.T) {
		code := &mockCompiledCode{}
		inst, err := Instantiate(context.Background(), m, code, nil)
		require.NoError(t, err)
		require.Equal(t, []*FunctionInstance{inst.Functions[0]}, code.calls)
	})

	t.Run("trap", func(t *testing.T) {
		trap := wasmerr.New(wasmerr.PhaseCall, wasmerr.KindTrap).Trap(wasmerr.TrapUnreachable).
			Cause(wasmruntime.ErrRuntimeUnreachable).Build()
		_, err := Instantiate(context.Background(), m, &mockCompiledCode{callErr: trap}, nil)
		require.ErrorIs(t, err, wasmerr.ErrTrapUnreachable)
		require.True(t, errors.Is(err, wasmruntime.ErrRuntimeUnreachable))

		var werr *wasmerr.Error
		require.True(t, errors.As(err, &werr))
		require.Equal(t, wasmerr.PhaseInstantiate, werr.Phase)
	})
}

func TestModuleInstance_Export(t *testing.T) {
	inst, err := Instantiate(context.Background(), memoryImportModule(&Memory{Min: 1}), &mockCompiledCode{},
		memoryImports(NewMemoryInstance(&Memory{Min: 1, Max: 1})))
	require.NoError(t, err)

	exp, err := inst.Export("fill_0", api.ExternTypeFunc)
	require.NoError(t, err)
	require.Equal(t, Index(0), exp.Index)

	_, err = inst.Export("fill_1", api.ExternTypeFunc)
	require.ErrorIs(t, err, wasmerr.ErrExportNotFound)

	_, err = inst.Export("fill_0", api.ExternTypeMemory)
	require.ErrorIs(t, err, wasmerr.ErrExportKindMismatch)
	require.EqualError(t, err, `[call] export_kind_mismatch "fill_0": export is a func, not a memory`)
}

func TestPrecomputeDataOffsets(t *testing.T) {
	m := &Module{DataSection: []*DataSegment{
		{OffsetExpression: i32Const(16), Init: []byte("abcd")},
		{OffsetExpression: &ConstantExpression{Opcode: OpcodeGlobalGet, Data: []byte{0}}, Init: []byte("efgh")},
		{Passive: true, Init: []byte("xyz")},
	}}
	require.Equal(t, []DataOffset{{Offset: 16, Constant: true}, {}, {}}, PrecomputeDataOffsets(m))
}
