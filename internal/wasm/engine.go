package wasm

import "context"

// CompiledCode is the compiled form of a Module, produced once by an engine and shared read-only by every instance.
type CompiledCode interface {
	// NewModuleEngine returns the executor of the functions of this instance. It is called once per instance, after
	// imports, globals, table and memory are resolved but before the start function runs.
	NewModuleEngine(inst *ModuleInstance) (ModuleEngine, error)
}

// DataOffsetter is implemented by CompiledCode that evaluated data segment offsets ahead of instantiation. Instantiate
// uses the constant ones instead of evaluating the offset expression again.
type DataOffsetter interface {
	// DataOffsets has one entry per data segment, in the order of the data section.
	DataOffsets() []DataOffset
}

// DataOffset is the offset of a data segment, when known without instantiating.
type DataOffset struct {
	// Offset is valid when Constant is true.
	Offset   uint32
	Constant bool
}

// PrecomputeDataOffsets evaluates the offsets of active data segments which are i32.const expressions. Offsets read
// from globals and passive segments are left non-constant.
func PrecomputeDataOffsets(m *Module) []DataOffset {
	ret := make([]DataOffset, len(m.DataSection))
	for i, d := range m.DataSection {
		if d.Passive || d.OffsetExpression == nil || d.OffsetExpression.Opcode != OpcodeI32Const {
			continue
		}
		// A constant doesn't read globals.
		if v, err := d.OffsetExpression.Eval(nil); err == nil {
			ret[i] = DataOffset{Offset: uint32(v), Constant: true}
		}
	}
	return ret
}

// ModuleEngine executes the functions of one ModuleInstance.
type ModuleEngine interface {
	// Call invokes the function with raw parameters, encoded as documented on api.ValueType. The caller has already
	// checked that params matches the function's type.
	//
	// A trap is returned as a *wasmerr.Error whose Cause is the wasmruntime sentinel.
	Call(ctx context.Context, f *FunctionInstance, params []uint64) ([]uint64, error)
}
