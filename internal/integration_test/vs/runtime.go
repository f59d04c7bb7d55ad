// Package vs runs the same modules on wasmtier and on reference runtimes, so their behavior can be compared.
//
// wazero is pure Go and always available. wasmer and wasmtime bind through cgo, so they are only registered in
// builds with cgo enabled.
package vs

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wasmtier/wasmtier"
	"github.com/wasmtier/wasmtier/api"
)

// Runtime instantiates modules.
type Runtime interface {
	// Name is the runtime name, ex. "wasmtier-maximal".
	Name() string

	// Instantiate compiles and instantiates a module without imports.
	Instantiate(ctx context.Context, bin []byte) (Module, error)

	// Close releases the runtime.
	Close(ctx context.Context) error
}

// Module is an instance of a module.
type Module interface {
	// Call calls an exported function with raw parameters, as documented on api.ValueType, and returns raw results.
	// Any failure, including a trap, is returned as an error.
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
}

// runtimes are the reference runtimes by name. cgo files add to it on init.
var runtimes = map[string]func() Runtime{
	"wazero-interpreter": func() Runtime {
		return &wazeroRuntime{name: "wazero-interpreter", config: wazero.NewRuntimeConfigInterpreter()}
	},
	"wazero-compiler": func() Runtime {
		return &wazeroRuntime{name: "wazero-compiler", config: wazero.NewRuntimeConfigCompiler()}
	},
}

// References returns the names of the reference runtimes in this build, sorted.
func References() []string {
	ret := make([]string, 0, len(runtimes))
	for name := range runtimes {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// NewReference returns the reference runtime of the given name.
func NewReference(name string) (Runtime, error) {
	newRuntime, ok := runtimes[name]
	if !ok {
		return nil, fmt.Errorf("unknown reference runtime %q", name)
	}
	return newRuntime(), nil
}

// NewWasmtier returns wasmtier with the given strategy and every feature enabled.
func NewWasmtier(ctx context.Context, strategy string) (Runtime, error) {
	e, err := wasmtier.NewEngine(ctx, wasmtier.NewEngineConfig().WithStrategy(strategy).WithFeatures(api.FeaturesAll))
	if err != nil {
		return nil, err
	}
	return &wasmtierRuntime{engine: e}, nil
}

type wasmtierRuntime struct {
	engine wasmtier.Engine
}

// Name implements Runtime.Name
func (r *wasmtierRuntime) Name() string {
	return "wasmtier-" + r.engine.Strategy()
}

// Instantiate implements Runtime.Instantiate
func (r *wasmtierRuntime) Instantiate(ctx context.Context, bin []byte) (Module, error) {
	compiled, err := r.engine.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}
	inst, err := r.engine.Instantiate(ctx, compiled, nil)
	if err != nil {
		return nil, err
	}
	return &wasmtierModule{inst: inst}, nil
}

// Close implements Runtime.Close
func (r *wasmtierRuntime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

type wasmtierModule struct {
	inst wasmtier.Instance
}

// Call implements Module.Call
func (m *wasmtierModule) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, err := m.inst.ExportedFunction(name)
	if err != nil {
		return nil, err
	}
	types := fn.ParamTypes()
	if len(types) != len(params) {
		return nil, fmt.Errorf("%s has %d params, but passed %d", name, len(types), len(params))
	}
	args := make([]api.Value, len(params))
	for i, p := range params {
		args[i] = api.ValueFromRaw(types[i], p)
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, err
	}
	raw := make([]uint64, len(results))
	for i, v := range results {
		raw[i] = v.Raw()
	}
	return raw, nil
}

type wazeroRuntime struct {
	name    string
	config  wazero.RuntimeConfig
	runtime wazero.Runtime
}

// Name implements Runtime.Name
func (r *wazeroRuntime) Name() string {
	return r.name
}

// Instantiate implements Runtime.Instantiate
func (r *wazeroRuntime) Instantiate(ctx context.Context, bin []byte) (Module, error) {
	if r.runtime == nil {
		r.runtime = wazero.NewRuntimeWithConfig(ctx,
			r.config.WithCoreFeatures(wazeroapi.CoreFeaturesV2|experimental.CoreFeaturesThreads))
	}
	// Module names must be unique in a wazero runtime.
	mod, err := r.runtime.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, err
	}
	return &wazeroModule{mod: mod}, nil
}

// Close implements Runtime.Close
func (r *wazeroRuntime) Close(ctx context.Context) error {
	if r.runtime == nil {
		return nil
	}
	return r.runtime.Close(ctx)
}

type wazeroModule struct {
	mod wazeroapi.Module
}

// Call implements Module.Call
func (m *wazeroModule) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := m.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%s is not an exported function", name)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}
	// 32-bit results can carry garbage in the upper bits.
	for i, t := range fn.Definition().ResultTypes() {
		if t == wazeroapi.ValueTypeI32 || t == wazeroapi.ValueTypeF32 {
			results[i] = uint64(uint32(results[i]))
		}
	}
	return results, nil
}
