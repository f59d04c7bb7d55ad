package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/engine"
	"github.com/wasmtier/wasmtier/internal/engine/fast"
	"github.com/wasmtier/wasmtier/internal/engine/maximal"
	"github.com/wasmtier/wasmtier/internal/engine/optimizing"
	"github.com/wasmtier/wasmtier/internal/testing/testmodules"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasm/binary"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

func newEngine(t *testing.T, name string, features api.Features, reg prometheus.Registerer) *engine.Engine {
	t.Helper()
	s, err := engine.LookupStrategy(name)
	require.NoError(t, err)
	e, err := engine.New(engine.Config{Strategy: s, Features: features, Registerer: reg})
	require.NoError(t, err)
	return e
}

func TestStrategies(t *testing.T) {
	require.Equal(t, []string{fast.Name, maximal.Name, optimizing.Name}, engine.Strategies())
}

func TestLookupStrategy(t *testing.T) {
	s, err := engine.LookupStrategy(optimizing.Name)
	require.NoError(t, err)
	require.Equal(t, optimizing.Name, s.Name())

	_, err = engine.LookupStrategy("turbo")
	require.ErrorIs(t, err, wasmerr.ErrUnknownStrategy)
	require.Contains(t, err.Error(), "available: fast, maximal, optimizing")
}

func TestRegisterStrategy_duplicate(t *testing.T) {
	s, err := engine.LookupStrategy(fast.Name)
	require.NoError(t, err)
	require.Panics(t, func() { engine.RegisterStrategy(s) })
}

func TestNew_noStrategy(t *testing.T) {
	_, err := engine.New(engine.Config{})
	require.ErrorIs(t, err, wasmerr.ErrUnknownStrategy)
}

func TestNew_metricsRegisteredTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	newEngine(t, fast.Name, api.FeaturesDefault, reg)

	s, err := engine.LookupStrategy(fast.Name)
	require.NoError(t, err)
	_, err = engine.New(engine.Config{Strategy: s, Registerer: reg})
	require.Error(t, err)
}

func TestEngine_CompileModule_cache(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEngine(t, maximal.Name, api.FeaturesDefault, reg)
	bin := testmodules.CorpusBinary()

	first, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)
	second, err := e.CompileModule(testCtx, append([]byte{}, bin...))
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, e.CompiledModuleCount())
	require.Equal(t, engine.ModuleID(bin), first.ID())
	require.Equal(t, maximal.Name, first.Strategy)
	require.Equal(t, len(first.Module.CodeSection), len(first.Codes))

	expected := `
# HELP wasmtier_compilations_total total number of modules compiled, excluding cache hits
# TYPE wasmtier_compilations_total counter
wasmtier_compilations_total{strategy="maximal"} 1
# HELP wasmtier_compile_cache_hits_total total number of compilations served from the cache
# TYPE wasmtier_compile_cache_hits_total counter
wasmtier_compile_cache_hits_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"wasmtier_compilations_total", "wasmtier_compile_cache_hits_total"))

	e.DeleteCompiledModule(first.ID())
	require.Zero(t, e.CompiledModuleCount())
	third, err := e.CompileModule(testCtx, bin)
	require.NoError(t, err)
	require.NotSame(t, first, third)
}

func TestEngine_CompileModule_concurrent(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newEngine(t, optimizing.Name, api.FeaturesDefault, reg)
	bin := testmodules.CorpusBinary()

	const goroutines = 16
	results := make([]*engine.CompiledModule, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cm, err := e.CompileModule(testCtx, bin)
			require.NoError(t, err)
			results[i] = cm
		}(i)
	}
	wg.Wait()

	for _, cm := range results {
		require.Same(t, results[0], cm)
	}
	expected := `
# HELP wasmtier_compilations_total total number of modules compiled, excluding cache hits
# TYPE wasmtier_compilations_total counter
wasmtier_compilations_total{strategy="optimizing"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "wasmtier_compilations_total"))
}

func TestEngine_CompileModule_errors(t *testing.T) {
	simd := binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0, 0},
		CodeSection: []*wasm.Code{
			{Body: []byte{wasm.OpcodeEnd}},
			{Body: []byte{0xfd, 0x0c, wasm.OpcodeEnd}},
		},
	})
	shared := testmodules.FillBinary(1, testmodules.HarnessMemory)

	tests := []struct {
		name          string
		bin           []byte
		expected      error
		expectedIndex int64
	}{
		{name: "not a module", bin: []byte("(module)"), expected: wasmerr.ErrInvalidModule, expectedIndex: -1},
		{name: "simd", bin: simd, expected: wasmerr.ErrUnsupportedFeature, expectedIndex: 1},
		{name: "shared memory without threads", bin: shared, expected: wasmerr.ErrDisabledFeature, expectedIndex: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, fast.Name, api.FeaturesDefault, nil)
			_, err := e.CompileModule(testCtx, tt.bin)
			require.ErrorIs(t, err, tt.expected)
			var werr *wasmerr.Error
			require.True(t, errors.As(err, &werr))
			require.Equal(t, tt.expectedIndex, werr.FunctionIndex)
			// Failures are not cached.
			require.Zero(t, e.CompiledModuleCount())
		})
	}
}

func TestEngine_CompileModule_cancelled(t *testing.T) {
	e := newEngine(t, fast.Name, api.FeaturesDefault, nil)
	ctx, cancel := context.WithCancel(testCtx)
	cancel()
	_, err := e.CompileModule(ctx, testmodules.CorpusBinary())
	require.ErrorIs(t, err, wasmerr.ErrResourceExhausted)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, e.CompiledModuleCount())
}

func TestEngine_Close(t *testing.T) {
	e := newEngine(t, fast.Name, api.FeaturesDefault, nil)
	_, err := e.CompileModule(testCtx, testmodules.CorpusBinary())
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.Zero(t, e.CompiledModuleCount())
	_, err = e.CompileModule(testCtx, testmodules.CorpusBinary())
	require.ErrorIs(t, err, wasmerr.ErrClosed)
}

func TestCompiledModule(t *testing.T) {
	e := newEngine(t, maximal.Name, api.FeaturesAll, nil)
	cm, err := e.CompileModule(testCtx, testmodules.FillBinary(3, testmodules.HarnessMemory))
	require.NoError(t, err)

	require.Equal(t, []wasm.DataOffset{{Offset: 16, Constant: true}}, cm.DataOffsets())
	require.Contains(t, cm.Exports, "fill_0")
	require.Contains(t, cm.Exports, "fill_loop")
	require.NotZero(t, cm.FusedInstructions())

	mem := wasm.NewMemoryInstance(&wasm.Memory{Min: 1, Max: 1024, IsMaxEncoded: true, IsShared: true})
	inst, err := cm.Instantiate(testCtx, wasm.Imports{"env": {"memory": mem}})
	require.NoError(t, err)
	require.Equal(t, "abcd", string(mem.Buffer[16:20]))

	_, err = inst.Engine.Call(testCtx, inst.Functions[0], nil)
	require.NoError(t, err)
	require.Equal(t, testmodules.ExpectedFill(testmodules.FillBytes), mem.Buffer[:testmodules.FillBytes])
}
