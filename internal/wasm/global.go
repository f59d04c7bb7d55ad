package wasm

import (
	"fmt"

	"github.com/wasmtier/wasmtier/api"
)

// compile-time check to ensure GlobalInstance implements api.MutableGlobal
var _ api.MutableGlobal = &GlobalInstance{}

// GlobalInstance is a global of an instance, or one defined by the host for import.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#global-instances%E2%91%A0
type GlobalInstance struct {
	GlobalType *GlobalType
	// Val holds the raw value, encoded as documented on api.ValueType.
	Val uint64
}

// ExternType implements api.Extern
func (g *GlobalInstance) ExternType() api.ExternType {
	return api.ExternTypeGlobal
}

// Type implements api.Global
func (g *GlobalInstance) Type() api.ValueType {
	return g.GlobalType.ValType
}

// Mutable implements api.Global
func (g *GlobalInstance) Mutable() bool {
	return g.GlobalType.Mutable
}

// Get implements api.Global
func (g *GlobalInstance) Get() api.Value {
	return api.ValueFromRaw(g.GlobalType.ValType, g.Val)
}

// Set implements api.MutableGlobal
func (g *GlobalInstance) Set(v api.Value) error {
	if !g.GlobalType.Mutable {
		return fmt.Errorf("global is immutable")
	}
	if v.Type() != g.GlobalType.ValType {
		return fmt.Errorf("value type %s doesn't match global type %s",
			api.ValueTypeName(v.Type()), api.ValueTypeName(g.GlobalType.ValType))
	}
	g.Val = v.Raw()
	return nil
}

// String implements fmt.Stringer
func (g *GlobalInstance) String() string {
	return fmt.Sprintf("global(%s)", g.Get())
}
