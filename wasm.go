// Package wasmtier is an ahead-of-time WebAssembly engine with pluggable compiler strategies.
//
// Ex.
//
//	ctx := context.Background()
//	e, _ := wasmtier.NewEngine(ctx, wasmtier.NewEngineConfig().WithStrategy("maximal"))
//	defer e.Close(ctx)
//
//	compiled, _ := e.CompileModule(ctx, source)
//	inst, _ := e.Instantiate(ctx, compiled, nil)
//	fill, _ := inst.ExportedFunction("fill_0")
//	_, err := fill.Call(ctx)
package wasmtier

import (
	"context"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/engine"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"

	// Register the compiler strategies.
	_ "github.com/wasmtier/wasmtier/internal/engine/fast"
	_ "github.com/wasmtier/wasmtier/internal/engine/maximal"
	_ "github.com/wasmtier/wasmtier/internal/engine/optimizing"
)

// Engine compiles WebAssembly modules with one compiler strategy, and instantiates them.
//
// Compiled modules are cached by their bytes: compiling the same bytes again, even concurrently, returns the same
// CompiledModule. An Engine is safe for concurrent use.
type Engine interface {
	// Strategy returns the name of the compiler strategy, ex. "optimizing".
	Strategy() string

	// Features returns the enabled features.
	Features() api.Features

	// CompileModule decodes, validates and compiles the binary module, or returns a *wasmerr.Error attributing the
	// failure to its phase, and to the function index when a function body is at fault.
	CompileModule(ctx context.Context, binary []byte) (CompiledModule, error)

	// Instantiate binds a module compiled by this engine to its imports, applies its data and element segments, and
	// runs its start function. Nothing is written to imported memory unless every segment fits.
	Instantiate(ctx context.Context, compiled CompiledModule, imports Imports) (Instance, error)

	// Close releases the compiled module cache. Instances remain usable, but later compilations fail with
	// wasmerr.ErrClosed.
	Close(ctx context.Context) error
}

// CompiledModule is a validated, compiled module, which can be instantiated any number of times.
//
// Note: In WebAssembly language, this is a decoded, validated, and compiled module. wasmtier avoids using the name
// "Module" for both before and after instantiation as the name conflation has caused confusion.
type CompiledModule interface {
	// ID is the cache identity of the module bytes, ex. "8f2e4c6b19a03d57-142".
	ID() string

	// Name is the module name from the name section, or empty.
	Name() string

	// Strategy is the name of the strategy that compiled the module.
	Strategy() string

	// FunctionCount is the count of functions defined by the module.
	FunctionCount() int

	// FusedInstructions is the count of superinstructions, which only the "maximal" strategy emits.
	FusedInstructions() int

	// ExportedFunctions maps the name of each exported function to its signature, ex. "(i32) -> ()".
	ExportedFunctions() map[string]string

	// ImportedMemory returns the namespace and name of the imported memory, if any.
	ImportedMemory() (module, name string, ok bool)
}

// NewEngine returns an engine configured by config, or an error if the strategy is unknown or the metrics can't be
// registered. A nil config is the same as NewEngineConfig.
func NewEngine(ctx context.Context, config *EngineConfig) (Engine, error) {
	if config == nil {
		config = NewEngineConfig()
	}
	s, err := engine.LookupStrategy(config.strategy)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(engine.Config{
		Strategy:           s,
		Features:           config.features,
		Logger:             config.logger,
		Registerer:         config.registerer,
		CompileParallelism: config.parallelism,
		MemoryLimitPages:   config.memoryLimitPages,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{engine: e}, nil
}

// Strategies returns the names of the available compiler strategies, sorted.
func Strategies() []string {
	return engine.Strategies()
}

// runtime allows decoupling of public interfaces from internal representation.
type runtime struct {
	engine *engine.Engine
}

// Strategy implements Engine.Strategy
func (r *runtime) Strategy() string {
	return r.engine.Strategy()
}

// Features implements Engine.Features
func (r *runtime) Features() api.Features {
	return r.engine.Features()
}

// CompileModule implements Engine.CompileModule
func (r *runtime) CompileModule(ctx context.Context, binary []byte) (CompiledModule, error) {
	if len(binary) == 0 {
		return nil, wasmerr.New(wasmerr.PhaseDecode, wasmerr.KindInvalidModule).Detail("binary is empty").Build()
	}
	cm, err := r.engine.CompileModule(ctx, binary)
	if err != nil {
		return nil, err
	}
	return &compiledModule{cm: cm, engine: r.engine}, nil
}

// Instantiate implements Engine.Instantiate
func (r *runtime) Instantiate(ctx context.Context, compiled CompiledModule, imports Imports) (Instance, error) {
	c, ok := compiled.(*compiledModule)
	if !ok || c.engine != r.engine {
		return nil, wasmerr.New(wasmerr.PhaseInstantiate, wasmerr.KindInvalidModule).
			Detail("module was compiled by another engine").Build()
	}
	inst, err := c.cm.Instantiate(ctx, imports.internal())
	if err != nil {
		return nil, err
	}
	return &instance{inst: inst, engine: r.engine}, nil
}

// Close implements Engine.Close
func (r *runtime) Close(context.Context) error {
	return r.engine.Close()
}

// compiledModule implements CompiledModule
type compiledModule struct {
	cm     *engine.CompiledModule
	engine *engine.Engine
}

// ID implements CompiledModule.ID
func (c *compiledModule) ID() string {
	return c.cm.ID().String()
}

// Name implements CompiledModule.Name
func (c *compiledModule) Name() string {
	if ns := c.cm.Module.NameSection; ns != nil {
		return ns.ModuleName
	}
	return ""
}

// Strategy implements CompiledModule.Strategy
func (c *compiledModule) Strategy() string {
	return c.cm.Strategy
}

// FunctionCount implements CompiledModule.FunctionCount
func (c *compiledModule) FunctionCount() int {
	return len(c.cm.Codes)
}

// FusedInstructions implements CompiledModule.FusedInstructions
func (c *compiledModule) FusedInstructions() int {
	return c.cm.FusedInstructions()
}

// ExportedFunctions implements CompiledModule.ExportedFunctions
func (c *compiledModule) ExportedFunctions() map[string]string {
	ret := map[string]string{}
	for name, exp := range c.cm.Exports {
		if exp.Type == api.ExternTypeFunc {
			ret[name] = c.cm.Module.TypeOfFunction(exp.Index).String()
		}
	}
	return ret
}

// ImportedMemory implements CompiledModule.ImportedMemory
func (c *compiledModule) ImportedMemory() (string, string, bool) {
	for _, im := range c.cm.Module.ImportSection {
		if im.Type == api.ExternTypeMemory {
			return im.Module, im.Name, true
		}
	}
	return "", "", false
}

// Imports maps an import namespace, then name, to what satisfies it: a Memory from NewMemory or an exporting
// Instance, a Function from NewHostFunction or an exporting Instance, or a Global from NewGlobal.
//
// Ex. The memory import contract of the benchmark harness:
//
//	mem, _ := wasmtier.NewMemory(1, &max, true)
//	imports := wasmtier.Imports{"env": {"memory": mem}}
type Imports map[string]map[string]api.Extern

// internal unwraps the public function type. Memories and globals are already internal types.
func (i Imports) internal() wasm.Imports {
	ret := make(wasm.Imports, len(i))
	for module, names := range i {
		m := make(map[string]api.Extern, len(names))
		for name, ext := range names {
			if f, ok := ext.(*function); ok {
				ext = f.f
			}
			m[name] = ext
		}
		ret[module] = m
	}
	return ret
}
