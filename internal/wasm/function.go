package wasm

import (
	"context"
	"fmt"
)

// GoFunc is the implementation of a host function. params are encoded per the function's type, and so must be the
// results. mem is the memory of the calling instance, or nil when it has none.
type GoFunc func(ctx context.Context, mem *MemoryInstance, params []uint64) ([]uint64, error)

// FunctionInstance is a function in the index space of an instance. It is either defined in wasm, by the Module of
// Instance, or by the host.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-instances%E2%91%A0
type FunctionInstance struct {
	Type *FunctionType
	// Instance is the instance defining this function, or nil for a host function.
	Instance *ModuleInstance
	// Idx is the index in the function index space of Instance.
	Idx Index
	// GoFunc is set for a host function.
	GoFunc GoFunc
	// Name is for backtraces and errors.
	Name string
}

// IsHost returns true for a host function.
func (f *FunctionInstance) IsHost() bool {
	return f.GoFunc != nil
}

// DebugName returns a name for backtraces, ex. "$fill_0" or "env.log".
func (f *FunctionInstance) DebugName() string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("$%d", f.Idx)
}

// TableInstance is the funcref table of an instance. Uninitialized elements are nil.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	References []*FunctionInstance
	Min        uint32
	Max        *uint32
}
