package wasmtier

import (
	"context"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/engine"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Instance is an instantiated module. Its exports resolve once Engine.Instantiate has returned.
//
// Calls into one Instance may run concurrently: each call has its own stack. Races on memory are the caller's
// concern.
type Instance interface {
	// Name is the module name from the name section, or empty.
	Name() string

	// ExportedFunction returns the function exported under name, or an error matching wasmerr.ErrExportNotFound or
	// wasmerr.ErrExportKindMismatch.
	ExportedFunction(name string) (api.Function, error)

	// ExportedMemory returns the memory exported under name, or an error as ExportedFunction does.
	ExportedMemory(name string) (api.Memory, error)

	// ExportedGlobal returns the global exported under name, or an error as ExportedFunction does. A mutable global
	// can be cast to api.MutableGlobal.
	ExportedGlobal(name string) (api.Global, error)

	// Memory returns the memory of the instance, defined or imported, or nil if it has none.
	Memory() api.Memory
}

// instance implements Instance
type instance struct {
	inst   *wasm.ModuleInstance
	engine *engine.Engine
}

// Name implements Instance.Name
func (i *instance) Name() string {
	if ns := i.inst.Module.NameSection; ns != nil {
		return ns.ModuleName
	}
	return ""
}

// ExportedFunction implements Instance.ExportedFunction
func (i *instance) ExportedFunction(name string) (api.Function, error) {
	exp, err := i.inst.Export(name, api.ExternTypeFunc)
	if err != nil {
		return nil, err
	}
	return &function{f: i.inst.Functions[exp.Index], name: name, engine: i.engine}, nil
}

// ExportedMemory implements Instance.ExportedMemory
func (i *instance) ExportedMemory(name string) (api.Memory, error) {
	if _, err := i.inst.Export(name, api.ExternTypeMemory); err != nil {
		return nil, err
	}
	return i.inst.Memory, nil
}

// ExportedGlobal implements Instance.ExportedGlobal
func (i *instance) ExportedGlobal(name string) (api.Global, error) {
	exp, err := i.inst.Export(name, api.ExternTypeGlobal)
	if err != nil {
		return nil, err
	}
	return i.inst.Globals[exp.Index], nil
}

// Memory implements Instance.Memory
func (i *instance) Memory() api.Memory {
	if i.inst.Memory == nil {
		return nil
	}
	return i.inst.Memory
}

// function implements api.Function for exports and host functions.
type function struct {
	f *wasm.FunctionInstance
	// name is the export name, or the host function name.
	name string
	// engine is nil for a host function.
	engine *engine.Engine
}

// ExternType implements api.Extern
func (f *function) ExternType() api.ExternType {
	return api.ExternTypeFunc
}

// ParamTypes implements api.Function
func (f *function) ParamTypes() []api.ValueType {
	return f.f.Type.Params
}

// ResultTypes implements api.Function
func (f *function) ResultTypes() []api.ValueType {
	return f.f.Type.Results
}

// Call implements api.Function
func (f *function) Call(ctx context.Context, args ...api.Value) ([]api.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	params, err := f.params(args)
	if err != nil {
		return nil, err
	}

	var raw []uint64
	if f.f.IsHost() {
		if raw, err = f.f.GoFunc(ctx, nil, params); err != nil {
			err = wasmerr.New(wasmerr.PhaseCall, wasmerr.KindTrap).Trap(wasmerr.TrapHostFunction).Name(f.name).
				Cause(err).Build()
		} else if len(raw) != len(f.f.Type.Results) {
			err = wasmerr.New(wasmerr.PhaseCall, wasmerr.KindSignatureMismatch).Name(f.name).
				Detail("host function returned %d results, but declares %d", len(raw), len(f.f.Type.Results)).Build()
		}
	} else {
		raw, err = f.f.Instance.Engine.Call(ctx, f.f, params)
	}
	if f.engine != nil {
		f.engine.ObserveCall(f.name, err)
	}
	if err != nil {
		return nil, err
	}

	results := make([]api.Value, len(f.f.Type.Results))
	for i, t := range f.f.Type.Results {
		results[i] = api.ValueFromRaw(t, raw[i])
	}
	return results, nil
}

// params encodes args after checking them against the signature.
func (f *function) params(args []api.Value) ([]uint64, error) {
	sig := f.f.Type
	if len(args) != len(sig.Params) {
		return nil, wasmerr.New(wasmerr.PhaseCall, wasmerr.KindSignatureMismatch).Name(f.name).
			Detail("expected %d params, but passed %d", len(sig.Params), len(args)).Build()
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		if a.Type() != sig.Params[i] {
			return nil, wasmerr.New(wasmerr.PhaseCall, wasmerr.KindSignatureMismatch).Name(f.name).
				Detail("param[%d] is %s, but passed %s", i, api.ValueTypeName(sig.Params[i]), api.ValueTypeName(a.Type())).
				Build()
		}
		params[i] = a.Raw()
	}
	return params, nil
}

// HostFunc is the Go implementation of a host function. params and results are encoded as documented on
// api.ValueType. mem is the memory of the calling instance, or nil if it has none or the function is called directly.
//
// Returning an error traps the calling wasm code with wasmerr.TrapHostFunction.
type HostFunc func(ctx context.Context, mem api.Memory, params []uint64) ([]uint64, error)

// NewHostFunction returns a function defined in Go, which can satisfy a function import of the same signature.
//
// Ex. A function that doubles its argument:
//
//	double := wasmtier.NewHostFunction("double", []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32},
//		func(_ context.Context, _ api.Memory, params []uint64) ([]uint64, error) {
//			return []uint64{uint64(uint32(params[0]) * 2)}, nil
//		})
func NewHostFunction(name string, params, results []api.ValueType, fn HostFunc) api.Function {
	return &function{
		name: name,
		f: &wasm.FunctionInstance{
			Type: &wasm.FunctionType{Params: params, Results: results},
			Name: name,
			GoFunc: func(ctx context.Context, m *wasm.MemoryInstance, params []uint64) ([]uint64, error) {
				var mem api.Memory
				if m != nil {
					mem = m
				}
				return fn(ctx, mem, params)
			},
		},
	}
}

// NewMemory returns a memory of min pages, growable up to max pages, which can satisfy a memory import. A nil max is
// unbounded, up to api.MemoryLimitPages. A shared memory requires a max, and reserves it up front.
//
// An error matching wasmerr.ErrInvalidLimits is returned if min > max, either is over api.MemoryLimitPages, or the
// memory is shared without a max.
func NewMemory(min uint32, max *uint32, shared bool) (api.Memory, error) {
	m := &wasm.Memory{Min: min, Max: wasm.MemoryLimitPages, IsShared: shared}
	if max != nil {
		m.Max, m.IsMaxEncoded = *max, true
	}
	if err := wasm.ValidateMemoryLimits(m.Min, m.Max, wasm.MemoryLimitPages, shared, m.IsMaxEncoded); err != nil {
		return nil, wasmerr.New(wasmerr.PhaseMemory, wasmerr.KindInvalidLimits).Cause(err).Build()
	}
	return wasm.NewMemoryInstance(m), nil
}

// NewGlobal returns a global holding v, which can satisfy a global import of the same type and mutability. When
// mutable, the result can be cast to api.MutableGlobal.
func NewGlobal(v api.Value, mutable bool) api.Global {
	return &wasm.GlobalInstance{GlobalType: &wasm.GlobalType{ValType: v.Type(), Mutable: mutable}, Val: v.Raw()}
}
