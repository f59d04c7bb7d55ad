package wasmtier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/testing/testmodules"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasm/binary"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

func newTestEngine(t *testing.T, config *EngineConfig) Engine {
	t.Helper()
	e, err := NewEngine(testCtx, config)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close(testCtx)) })
	return e
}

func harnessMemory(t *testing.T) api.Memory {
	t.Helper()
	max := uint32(1024)
	mem, err := NewMemory(1, &max, true)
	require.NoError(t, err)
	return mem
}

func TestNewEngine_unknownStrategy(t *testing.T) {
	_, err := NewEngine(testCtx, NewEngineConfig().WithStrategy("turbo"))
	require.ErrorIs(t, err, wasmerr.ErrUnknownStrategy)
}

func TestStrategies(t *testing.T) {
	require.Equal(t, []string{"fast", "maximal", "optimizing"}, Strategies())
}

// TestFill is the benchmark harness scenario: the data segment lands at offset 16, then the fill loop overwrites it.
func TestFill(t *testing.T) {
	for _, strategy := range Strategies() {
		t.Run(strategy, func(t *testing.T) {
			e := newTestEngine(t, NewEngineConfig().WithStrategy(strategy).WithFeature(api.FeatureThreads, true))
			compiled, err := e.CompileModule(testCtx, testmodules.FillBinary(2, testmodules.HarnessMemory))
			require.NoError(t, err)
			require.Equal(t, strategy, compiled.Strategy())
			require.Equal(t, 2, compiled.FunctionCount())
			module, name, ok := compiled.ImportedMemory()
			require.True(t, ok)
			require.Equal(t, "env.memory", module+"."+name)

			mem := harnessMemory(t)
			inst, err := e.Instantiate(testCtx, compiled, Imports{"env": {"memory": mem}})
			require.NoError(t, err)
			abcd, err := mem.Read(16, 4)
			require.NoError(t, err)
			require.Equal(t, "abcd", string(abcd))

			fill, err := inst.ExportedFunction("fill_0")
			require.NoError(t, err)
			results, err := fill.Call(testCtx)
			require.NoError(t, err)
			require.Empty(t, results)

			actual, err := mem.Read(0, testmodules.FillBytes)
			require.NoError(t, err)
			require.Equal(t, testmodules.ExpectedFill(testmodules.FillBytes), actual)
			for j := uint32(0); j < testmodules.FillInnerIterations; j++ {
				word, err := mem.ReadUint32Le(4 * j)
				require.NoError(t, err)
				if word != j {
					t.Fatalf("word %d = %d, expected %d", j, word, j)
				}
			}
		})
	}
}

func TestFill_memoryConfigurations(t *testing.T) {
	max := uint32(1024)
	tests := []struct {
		name   string
		max    *uint32
		shared bool
	}{
		{name: "bounded shared", max: &max, shared: true},
		{name: "bounded", max: &max},
		{name: "unbounded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testmodules.MemoryConfig{Import: true, Min: 1, Shared: tt.shared}
			if tt.max != nil {
				cfg.Max = *tt.max
			}
			e := newTestEngine(t, NewEngineConfig().WithFeatures(cfg.Features()))
			compiled, err := e.CompileModule(testCtx, testmodules.FillBinary(1, cfg))
			require.NoError(t, err)

			mem, err := NewMemory(1, tt.max, tt.shared)
			require.NoError(t, err)
			inst, err := e.Instantiate(testCtx, compiled, Imports{"env": {"memory": mem}})
			require.NoError(t, err)

			fill, err := inst.ExportedFunction("fill_loop")
			require.NoError(t, err)
			_, err = fill.Call(testCtx, api.I32(3))
			require.NoError(t, err)
			actual, err := mem.Read(0, 256)
			require.NoError(t, err)
			require.Equal(t, testmodules.ExpectedFill(256), actual)
		})
	}
}

func TestEngine_CompileModule_idempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	bin := testmodules.CorpusBinary()
	first, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)
	second, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)
	require.Equal(t, first.ID(), second.ID())
	require.Equal(t, "corpus", first.Name())
	require.Equal(t, "(i32, i32) -> (i32)", first.ExportedFunctions()["add_i32"])

	_, err = e.CompileModule(testCtx, nil)
	require.ErrorIs(t, err, wasmerr.ErrInvalidModule)
}

func TestEngine_Instantiate_otherEngine(t *testing.T) {
	e1, e2 := newTestEngine(t, nil), newTestEngine(t, nil)
	compiled, err := e1.CompileModule(testCtx, testmodules.CorpusBinary())
	require.NoError(t, err)
	_, err = e2.Instantiate(testCtx, compiled, nil)
	require.ErrorIs(t, err, wasmerr.ErrInvalidModule)
}

// dataModule imports env.memory with the given min, and writes "abcd" at offset 16.
func dataModule(min uint32) []byte {
	return binary.EncodeModule(&wasm.Module{
		ImportSection: []*wasm.Import{{
			Type: api.ExternTypeMemory, Module: "env", Name: "memory",
			DescMem: &wasm.Memory{Min: min, Max: wasm.MemoryLimitPages},
		}},
		DataSection: []*wasm.DataSegment{{
			OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(16)},
			Init:             []byte("abcd"),
		}},
	})
}

func TestInstantiate_dataSegmentAt16(t *testing.T) {
	e := newTestEngine(t, nil)

	t.Run("min 1", func(t *testing.T) {
		compiled, err := e.CompileModule(testCtx, dataModule(1))
		require.NoError(t, err)
		mem, err := NewMemory(1, nil, false)
		require.NoError(t, err)
		_, err = e.Instantiate(testCtx, compiled, Imports{"env": {"memory": mem}})
		require.NoError(t, err)
		b, err := mem.Read(16, 4)
		require.NoError(t, err)
		require.Equal(t, "abcd", string(b))
	})

	t.Run("min 0", func(t *testing.T) {
		_, err := e.CompileModule(testCtx, dataModule(0))
		require.ErrorIs(t, err, wasmerr.ErrInvalidModule)
		require.ErrorIs(t, err, wasmerr.ErrDataSegmentOutOfBounds)
	})

	t.Run("host memory too small", func(t *testing.T) {
		compiled, err := e.CompileModule(testCtx, dataModule(1))
		require.NoError(t, err)
		mem, err := NewMemory(0, nil, false)
		require.NoError(t, err)
		_, err = e.Instantiate(testCtx, compiled, Imports{"env": {"memory": mem}})
		require.ErrorIs(t, err, wasmerr.ErrImportTypeMismatch)
	})
}

// TestInstantiate_allOrNothing ensures a segment that doesn't fit prevents writes of the ones before it.
func TestInstantiate_allOrNothing(t *testing.T) {
	offsetGlobal := &wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Data: []byte{0}}
	bin := binary.EncodeModule(&wasm.Module{
		ImportSection: []*wasm.Import{
			{Type: api.ExternTypeGlobal, Module: "env", Name: "offset", DescGlobal: &wasm.GlobalType{ValType: api.ValueTypeI32}},
			{Type: api.ExternTypeMemory, Module: "env", Name: "memory", DescMem: &wasm.Memory{Min: 1, Max: wasm.MemoryLimitPages}},
		},
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)}, Init: []byte("xyz")},
			{OffsetExpression: offsetGlobal, Init: []byte("abcd")},
		},
	})
	e := newTestEngine(t, nil)
	compiled, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)

	mem, err := NewMemory(1, nil, false)
	require.NoError(t, err)
	_, err = e.Instantiate(testCtx, compiled, Imports{"env": {
		"memory": mem,
		"offset": NewGlobal(api.I32(65534), false),
	}})
	require.ErrorIs(t, err, wasmerr.ErrDataSegmentOutOfBounds)

	b, err := mem.Read(0, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0}, b)

	_, err = e.Instantiate(testCtx, compiled, Imports{"env": {
		"memory": mem,
		"offset": NewGlobal(api.I32(65532), false),
	}})
	require.NoError(t, err)
	b, err = mem.Read(65532, 4)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(b))
}

func TestInstantiate_imports(t *testing.T) {
	e := newTestEngine(t, NewEngineConfig().WithFeatures(api.FeaturesAll))
	compiled, err := e.CompileModule(testCtx, testmodules.FillBinary(1, testmodules.HarnessMemory))
	require.NoError(t, err)

	max := uint32(1024)
	larger := uint32(2048)
	unshared, err := NewMemory(1, &max, false)
	require.NoError(t, err)
	unbounded, err := NewMemory(1, nil, false)
	require.NoError(t, err)
	largerMax, err := NewMemory(1, &larger, true)
	require.NoError(t, err)
	tooSmall, err := NewMemory(0, &max, true)
	require.NoError(t, err)

	tests := []struct {
		name     string
		imports  Imports
		expected error
	}{
		{name: "missing", imports: nil, expected: wasmerr.ErrMissingImport},
		{name: "wrong namespace", imports: Imports{"js": {"memory": harnessMemory(t)}}, expected: wasmerr.ErrMissingImport},
		{name: "kind", imports: Imports{"env": {"memory": NewGlobal(api.I32(1), false)}}, expected: wasmerr.ErrImportTypeMismatch},
		{name: "min", imports: Imports{"env": {"memory": tooSmall}}, expected: wasmerr.ErrImportTypeMismatch},
		{name: "max missing", imports: Imports{"env": {"memory": unbounded}}, expected: wasmerr.ErrImportTypeMismatch},
		{name: "max larger", imports: Imports{"env": {"memory": largerMax}}, expected: wasmerr.ErrImportTypeMismatch},
		{name: "shared", imports: Imports{"env": {"memory": unshared}}, expected: wasmerr.ErrImportTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Instantiate(testCtx, compiled, tt.imports)
			require.ErrorIs(t, err, tt.expected)
			var werr *wasmerr.Error
			require.True(t, errors.As(err, &werr))
			require.Equal(t, wasmerr.PhaseInstantiate, werr.Phase)
		})
	}
}

func TestInstance_exports(t *testing.T) {
	e := newTestEngine(t, nil)
	compiled, err := e.CompileModule(testCtx, testmodules.CorpusBinary())
	require.NoError(t, err)
	inst, err := e.Instantiate(testCtx, compiled, nil)
	require.NoError(t, err)
	require.Equal(t, "corpus", inst.Name())

	_, err = inst.ExportedFunction("fill_0")
	require.ErrorIs(t, err, wasmerr.ErrExportNotFound)
	_, err = inst.ExportedFunction("memory")
	require.ErrorIs(t, err, wasmerr.ErrExportKindMismatch)
	_, err = inst.ExportedGlobal("add_i32")
	require.ErrorIs(t, err, wasmerr.ErrExportKindMismatch)

	mem, err := inst.ExportedMemory("memory")
	require.NoError(t, err)
	require.Same(t, inst.Memory(), mem)
	max, ok := mem.Max()
	require.True(t, ok)
	require.Equal(t, uint32(2), max)
}

// TestFunction_Call_signatureMismatch ensures no code runs when args don't match the signature.
func TestFunction_Call_signatureMismatch(t *testing.T) {
	e := newTestEngine(t, nil)
	compiled, err := e.CompileModule(testCtx, testmodules.CorpusBinary())
	require.NoError(t, err)
	inst, err := e.Instantiate(testCtx, compiled, nil)
	require.NoError(t, err)
	fill, err := inst.ExportedFunction("fill")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []api.Value
	}{
		{name: "too few", args: []api.Value{api.I32(0), api.I32(1)}},
		{name: "too many", args: []api.Value{api.I32(0), api.I32(1), api.I32(2), api.I32(3)}},
		{name: "type", args: []api.Value{api.I32(0), api.I64(1), api.I32(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fill.Call(testCtx, tt.args...)
			require.ErrorIs(t, err, wasmerr.ErrSignatureMismatch)
			b, err := inst.Memory().Read(0, 4)
			require.NoError(t, err)
			require.Equal(t, []byte{0, 0, 0, 0}, b)
		})
	}

	_, err = fill.Call(testCtx, api.I32(0), api.I32(1), api.I32(4))
	require.NoError(t, err)
	b, err := inst.Memory().Read(0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1}, b)
}

func TestFunction_Call_trap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, NewEngineConfig().WithLogger(zap.New(core)).WithRegisterer(reg))
	compiled, err := e.CompileModule(testCtx, testmodules.CorpusBinary())
	require.NoError(t, err)
	inst, err := e.Instantiate(testCtx, compiled, nil)
	require.NoError(t, err)

	div, err := inst.ExportedFunction("div_s_i32")
	require.NoError(t, err)
	results, err := div.Call(testCtx, api.I32(-10), api.I32(2))
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(-5)}, results)

	_, err = div.Call(testCtx, api.I32(1), api.I32(0))
	require.ErrorIs(t, err, wasmerr.ErrTrapIntegerDivideByZero)
	var werr *wasmerr.Error
	require.True(t, errors.As(err, &werr))
	require.Equal(t, []string{"0: div_s_i32"}, werr.Stack)

	require.Equal(t, 1, logs.FilterMessage("call failed").Len())
	expected := `
# HELP wasmtier_calls_total total number of exported function calls by result
# TYPE wasmtier_calls_total counter
wasmtier_calls_total{result="ok"} 1
wasmtier_calls_total{result="trap"} 1
# HELP wasmtier_traps_total total number of traps by kind
# TYPE wasmtier_traps_total counter
wasmtier_traps_total{kind="integer_divide_by_zero"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"wasmtier_calls_total", "wasmtier_traps_total"))
}

func TestHostFunction(t *testing.T) {
	double := NewHostFunction("double", []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32},
		func(_ context.Context, mem api.Memory, params []uint64) ([]uint64, error) {
			if mem != nil {
				if err := mem.WriteUint32Le(0, 7); err != nil {
					return nil, err
				}
			}
			return []uint64{uint64(uint32(params[0]) * 2)}, nil
		})

	results, err := double.Call(testCtx, api.I32(21))
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(42)}, results)

	// (import "env" "double" (func (param i32) (result i32))) (memory 1) (func (export "run") (param i32) (result i32)
	// local.get 0 call 0)
	i32 := api.ValueTypeI32
	bin := binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}},
		ImportSection:   []*wasm.Import{{Type: api.ExternTypeFunc, Module: "env", Name: "double", DescFunc: 0}},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []*wasm.Memory{{Min: 1, Max: 1, IsMaxEncoded: true}},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeLocalGet, 0, wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.Export{{Type: api.ExternTypeFunc, Name: "run", Index: 1}},
	})
	e := newTestEngine(t, nil)
	compiled, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)
	inst, err := e.Instantiate(testCtx, compiled, Imports{"env": {"double": double}})
	require.NoError(t, err)
	run, err := inst.ExportedFunction("run")
	require.NoError(t, err)
	results, err = run.Call(testCtx, api.I32(5))
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(10)}, results)
	v, err := inst.Memory().ReadUint32Le(0)
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)

	wrong := NewHostFunction("wrong", nil, nil, func(context.Context, api.Memory, []uint64) ([]uint64, error) {
		return nil, nil
	})
	_, err = e.Instantiate(testCtx, compiled, Imports{"env": {"double": wrong}})
	require.ErrorIs(t, err, wasmerr.ErrImportTypeMismatch)
}

// TestFunction_crossInstance imports an export of one instance into another.
func TestFunction_crossInstance(t *testing.T) {
	e := newTestEngine(t, nil)
	corpus, err := e.CompileModule(testCtx, testmodules.CorpusBinary())
	require.NoError(t, err)
	provider, err := e.Instantiate(testCtx, corpus, nil)
	require.NoError(t, err)
	counter, err := provider.ExportedFunction("counter")
	require.NoError(t, err)

	i32 := api.ValueTypeI32
	bin := binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Results: []api.ValueType{i32}}},
		ImportSection:   []*wasm.Import{{Type: api.ExternTypeFunc, Module: "corpus", Name: "counter", DescFunc: 0}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeCall, 0, wasm.OpcodeDrop, wasm.OpcodeCall, 0, wasm.OpcodeEnd}}},
		ExportSection:   []*wasm.Export{{Type: api.ExternTypeFunc, Name: "twice", Index: 1}},
	})
	compiled, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)
	inst, err := e.Instantiate(testCtx, compiled, Imports{"corpus": {"counter": counter}})
	require.NoError(t, err)

	twice, err := inst.ExportedFunction("twice")
	require.NoError(t, err)
	results, err := twice.Call(testCtx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(2)}, results)

	// The state belongs to the provider.
	results, err = counter.Call(testCtx)
	require.NoError(t, err)
	require.Equal(t, []api.Value{api.I32(3)}, results)
}
